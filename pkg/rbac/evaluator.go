package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/tenant"
)

// Lookup answers whether a role is allowed an action in a tenant. A missing
// row is (false, nil).
type Lookup interface {
	Allowed(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error)
}

// LookupFunc adapts a function to Lookup
type LookupFunc func(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error)

// Allowed implements Lookup
func (f LookupFunc) Allowed(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error) {
	return f(ctx, tenantID, roleID, resource, action)
}

// Evaluator decides permissions as a plain OR over the principal's roles.
type Evaluator struct {
	lookup Lookup
}

// NewEvaluator creates an evaluator over lookup
func NewEvaluator(lookup Lookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// Check reports whether principal may perform action on resource in the
// tenant bound to ctx.
//
// Any role allowing the action is enough; role order does not matter. A
// principal issued for another tenant is never allowed. Lookup failures on
// one role do not stop the others from being consulted, but when no role
// allows the action the first failure is returned so the caller fails closed.
// An unbound tenant is reported as an IllegalState error.
func (e *Evaluator) Check(ctx context.Context, principal *auth.Principal, resource Resource, action Action) (bool, error) {
	if principal == nil {
		return false, nil
	}

	tenantID, err := tenant.Required(ctx)
	if err != nil {
		return false, err
	}
	if principal.TenantID != tenantID {
		return false, nil
	}

	var lookupErr error
	for _, roleID := range principal.RoleIDs {
		allowed, err := e.lookup.Allowed(ctx, tenantID, roleID, resource, action)
		if err != nil {
			if lookupErr == nil {
				lookupErr = fmt.Errorf("permission lookup for role %q: %w", roleID, err)
			}
			continue
		}
		if allowed {
			return true, nil
		}
	}
	return false, lookupErr
}

// HasPermission is Check with every error treated as a denial
func (e *Evaluator) HasPermission(ctx context.Context, principal *auth.Principal, resource Resource, action Action) bool {
	allowed, err := e.Check(ctx, principal, resource, action)
	return err == nil && allowed
}

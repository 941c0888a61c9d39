// Package tenant binds the organization a request is acting in to that
// request's context.
//
// A Scope is created once per inbound request by the authentication pipeline
// and travels with the request context. Goroutines spawned while handling the
// request share the same Scope through the context they were given; two
// requests never share one.
package tenant

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/contextkeys"
)

// ErrNoScope is returned by Set when the context was not prepared by NewScope.
var ErrNoScope = apperrors.IllegalState("tenant scope not installed on context")

// Scope holds the tenant id bound to one request. The zero value is unbound.
type Scope struct {
	id atomic.Int64
}

// NewScope installs an empty Scope on ctx.
func NewScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return contextkeys.WithTenantScope(ctx, s), s
}

// FromContext returns the Scope installed on ctx, if any.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(contextkeys.TenantScopeKey).(*Scope)
	return s
}

// Set binds id to the scope. Non-positive ids are rejected.
func (s *Scope) Set(id int64) error {
	if id <= 0 {
		return apperrors.Wrap(apperrors.KindInvalidArgument, apperrors.CodeTenantInvalid,
			fmt.Sprintf("tenant id must be positive, got %d", id), nil)
	}
	s.id.Store(id)
	return nil
}

// Get returns the bound id and whether one is bound.
func (s *Scope) Get() (int64, bool) {
	if s == nil {
		return 0, false
	}
	id := s.id.Load()
	return id, id > 0
}

// Clear unbinds the scope. Safe to call more than once.
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.id.Store(0)
}

// Set binds id to the Scope carried by ctx.
func Set(ctx context.Context, id int64) error {
	s := FromContext(ctx)
	if s == nil {
		return ErrNoScope
	}
	return s.Set(id)
}

// Get returns the tenant bound to ctx. It never fails.
func Get(ctx context.Context) (int64, bool) {
	return FromContext(ctx).Get()
}

// Required returns the tenant bound to ctx or an IllegalState error. Reaching
// the error means the request bypassed the pipeline.
func Required(ctx context.Context) (int64, error) {
	id, ok := Get(ctx)
	if !ok {
		return 0, apperrors.IllegalState("tenant context not initialized")
	}
	return id, nil
}

// Clear unbinds the tenant carried by ctx.
func Clear(ctx context.Context) {
	FromContext(ctx).Clear()
}

// Detach returns a context that keeps ctx's tenant binding but not its
// cancellation, for work that outlives the request.
func Detach(ctx context.Context) context.Context {
	id, _ := Get(ctx)
	out, s := NewScope(context.WithoutCancel(ctx))
	if id > 0 {
		s.id.Store(id)
	}
	return out
}

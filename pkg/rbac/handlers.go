package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/tenant"
)

// PermissionStore is the writable permission table behind the admin routes
type PermissionStore interface {
	Lookup
	Grant(ctx context.Context, rp RolePermission) error
	Revoke(ctx context.Context, tenantID int64, roleID string, perm Permission) error
	List(ctx context.Context, tenantID int64, roleID string) ([]RolePermission, error)
	SeedDefaults(ctx context.Context, tenantID int64) error
}

// Route is an admin endpoint together with the permission it requires
type Route struct {
	Method     string
	Path       string
	Permission Permission
	Handler    http.HandlerFunc
}

// Handlers provides HTTP handlers for managing the permission table of the
// organization bound to the request
type Handlers struct {
	store       PermissionStore
	auditLogger audit.Logger
	problems    *httputil.ProblemWriter
	onChange    func()
}

// NewHandlers creates new RBAC handlers. onChange runs after every
// successful mutation, typically to purge a lookup cache.
func NewHandlers(store PermissionStore, auditLogger audit.Logger, problems *httputil.ProblemWriter, onChange func()) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Handlers{
		store:       store,
		auditLogger: auditLogger,
		problems:    problems,
		onChange:    onChange,
	}
}

// Routes returns the admin routes. They must be mounted behind the
// authentication pipeline, which binds the tenant and checks Permission.
func (h *Handlers) Routes() []Route {
	read := Permission{Resource: ResourceRole, Action: ActionRead}
	manage := Permission{Resource: ResourceRole, Action: ActionManage}
	return []Route{
		{http.MethodGet, "/rbac/permissions", read, h.ListPermissions},
		{http.MethodGet, "/rbac/roles/{role}/permissions", read, h.ListPermissions},
		{http.MethodPut, "/rbac/roles/{role}/permissions/{permission}", manage, h.GrantPermission},
		{http.MethodDelete, "/rbac/roles/{role}/permissions/{permission}", manage, h.RevokePermission},
		{http.MethodPost, "/rbac/permissions/defaults", manage, h.SeedDefaults},
	}
}

// ListPermissions lists the rows of the current organization, optionally for one role
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}

	rows, err := h.store.List(ctx, tenantID, mux.Vars(r)["role"])
	if err != nil {
		h.problems.Write(w, r, apperrors.Internal(err))
		return
	}
	if rows == nil {
		rows = []RolePermission{}
	}
	httputil.WriteSuccess(w, rows)
}

// GrantPermission sets a row; the body may carry {"allowed": false} to
// record an explicit denial
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, roleID, perm, err := h.target(r)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}

	req := struct {
		Allowed *bool `json:"allowed"`
	}{}
	if r.ContentLength != 0 {
		if err := httputil.ParseJSON(r, &req); err != nil {
			h.problems.Write(w, r, err)
			return
		}
	}
	allowed := req.Allowed == nil || *req.Allowed

	rp := RolePermission{TenantID: tenantID, RoleID: roleID, Resource: perm.Resource, Action: perm.Action, Allowed: allowed}
	if err := h.store.Grant(ctx, rp); err != nil {
		h.problems.Write(w, r, apperrors.Internal(err))
		return
	}
	h.onChange()
	h.logAudit(ctx, audit.EventTypeAuthzPermissionGrant, tenantID, roleID, perm)

	httputil.WriteSuccess(w, rp)
}

// RevokePermission deletes a row
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, roleID, perm, err := h.target(r)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}

	if err := h.store.Revoke(ctx, tenantID, roleID, perm); err != nil {
		h.problems.Write(w, r, apperrors.Internal(err))
		return
	}
	h.onChange()
	h.logAudit(ctx, audit.EventTypeAuthzPermissionRevoke, tenantID, roleID, perm)

	httputil.WriteNoContent(w)
}

// SeedDefaults grants the built-in role permissions in the current organization
func (h *Handlers) SeedDefaults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.Required(ctx)
	if err != nil {
		h.problems.Write(w, r, err)
		return
	}

	if err := h.store.SeedDefaults(ctx, tenantID); err != nil {
		h.problems.Write(w, r, apperrors.Internal(err))
		return
	}
	h.onChange()

	rows, err := h.store.List(ctx, tenantID, "")
	if err != nil {
		h.problems.Write(w, r, apperrors.Internal(err))
		return
	}
	httputil.WriteSuccess(w, rows)
}

func (h *Handlers) target(r *http.Request) (int64, string, Permission, error) {
	tenantID, err := tenant.Required(r.Context())
	if err != nil {
		return 0, "", Permission{}, err
	}
	roleID, err := httputil.ParsePathString(r, "role")
	if err != nil {
		return 0, "", Permission{}, err
	}
	raw, err := httputil.ParsePathString(r, "permission")
	if err != nil {
		return 0, "", Permission{}, err
	}
	perm, err := ParsePermission(raw)
	if err != nil {
		return 0, "", Permission{}, apperrors.InvalidRequest(err.Error())
	}
	return tenantID, roleID, perm, nil
}

// logAudit logs an audit event for permission table changes
func (h *Handlers) logAudit(ctx context.Context, eventType audit.EventType, tenantID int64, roleID string, perm Permission) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		event.WithActor(p.UserID, tenantID, p.Email)
	} else {
		event.WithActor(0, tenantID, "")
	}
	event.Resource = string(perm.Resource)
	event.Action = string(perm.Action)
	event.Metadata = map[string]interface{}{"role": roleID}

	if err := audit.Record(ctx, h.auditLogger, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to record audit event")
	}
}

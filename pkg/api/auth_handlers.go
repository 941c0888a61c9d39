package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/middleware"
	"github.com/platinummonkey/agora/pkg/orgs"
	"github.com/platinummonkey/agora/pkg/rbac"
	"github.com/platinummonkey/agora/pkg/tenant"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// MeResponse describes the caller
type MeResponse struct {
	*auth.Principal
	Memberships []*orgs.Membership `json:"memberships,omitempty"`
}

// PermissionCheckResponse is returned by GET /auth/permissions/check
type PermissionCheckResponse struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

// login handles POST /auth/login. The organization comes from X-Org-Id when
// present, otherwise from the user's default organization.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.problems.Write(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		s.problems.Write(w, r, apperrors.InvalidRequest("email and password are required"))
		return
	}

	tenantID, _ := tenant.Get(r.Context())
	pair, _, err := s.auth.Login(r.Context(), req.Email, req.Password, tenantID)
	if err != nil {
		s.problems.Write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// refresh handles POST /auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		s.problems.Write(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		s.problems.Write(w, r, apperrors.InvalidRequest("refreshToken is required"))
		return
	}

	tenantID, _ := tenant.Get(r.Context())
	pair, _, err := s.auth.Refresh(r.Context(), req.RefreshToken, tenantID)
	if err != nil {
		s.problems.Write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// logout handles POST /auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.auth.Logout(r.Context(), principal); err != nil {
		s.problems.Write(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// me handles GET /auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok {
		s.problems.Write(w, r, apperrors.Unauthenticated("authentication required"))
		return
	}

	resp := MeResponse{Principal: principal}
	if s.memberships != nil {
		memberships, err := s.memberships.Memberships(ctx, principal.UserID)
		if err != nil {
			s.problems.Write(w, r, apperrors.Internal(err))
			return
		}
		resp.Memberships = memberships
	}
	httputil.WriteSuccess(w, resp)
}

// checkPermission handles GET /auth/permissions/check?resource=post&action=read
func (s *Server) checkPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resource := httputil.ParseQueryString(r, "resource", "")
	action := httputil.ParseQueryString(r, "action", "")
	if resource == "" || action == "" {
		s.problems.Write(w, r, apperrors.InvalidRequest("resource and action are required"))
		return
	}
	perm := rbac.Permission{Resource: rbac.Resource(resource), Action: rbac.Action(action)}

	principal, _ := middleware.PrincipalFromContext(ctx)
	allowed, err := s.perms.Check(ctx, principal, perm.Resource, perm.Action)
	if err != nil {
		if apperrors.KindOf(err) != apperrors.KindIllegalState {
			err = apperrors.Internal(err)
		}
		s.problems.Write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PermissionCheckResponse{Permission: perm.String(), Allowed: allowed})
}

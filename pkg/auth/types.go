package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/platinummonkey/agora/pkg/contextkeys"
)

// Principal is the authenticated identity attached to a request
type Principal struct {
	UserID   int64    `json:"userId"`
	TenantID int64    `json:"organizationId"`
	RoleIDs  []string `json:"roles"`
	Email    string   `json:"email"`
	Name     string   `json:"name,omitempty"`
}

// NewPrincipal builds a principal, copying roles so later changes to the
// caller's slice do not leak in.
func NewPrincipal(user *User, tenantID int64, roles []string) *Principal {
	return &Principal{
		UserID:   user.ID,
		TenantID: tenantID,
		RoleIDs:  append([]string(nil), roles...),
		Email:    user.Email,
		Name:     user.FullName,
	}
}

// Validate checks the principal invariants
func (p *Principal) Validate() error {
	switch {
	case p == nil:
		return errors.New("principal is nil")
	case p.UserID <= 0:
		return errors.New("principal has no user id")
	case p.TenantID <= 0:
		return errors.New("principal has no tenant")
	case len(p.RoleIDs) == 0:
		return errors.New("principal has no roles")
	}
	return nil
}

// PrimaryRole returns the role embedded in access tokens
func (p *Principal) PrimaryRole() string {
	if p == nil || len(p.RoleIDs) == 0 {
		return ""
	}
	return p.RoleIDs[0]
}

// Roles returns a copy of the role ids
func (p *Principal) Roles() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.RoleIDs...)
}

// HasRole reports whether the principal holds role
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.RoleIDs {
		if r == role {
			return true
		}
	}
	return false
}

// WithPrincipal attaches principal to ctx
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, principal)
	return contextkeys.WithUserID(ctx, strconv.FormatInt(principal.UserID, 10))
}

// PrincipalFromContext returns the principal set by the authentication pipeline
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// User represents a platform account
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	PasswordHash string     `json:"-"`
	DefaultOrgID int64      `json:"default_org_id,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Identity is what an external identity provider asserts about a user
type Identity struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Verified bool   `json:"email_verified"`
}

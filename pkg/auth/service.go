package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/async"
	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/session"
	"github.com/platinummonkey/agora/pkg/tenant"
	"github.com/platinummonkey/agora/pkg/token"
)

// TokenTypeBearer is the token type reported in every TokenPair
const TokenTypeBearer = "Bearer"

// LoginRecorder is implemented by stores that track the last login time
type LoginRecorder interface {
	RecordLogin(ctx context.Context, userID int64) error
}

// Service issues, refreshes and revokes tokens.
type Service struct {
	users    UserStore
	codec    *token.Codec
	sessions session.Store

	auditLogger audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
	rotate      bool
}

// Option configures a Service
type Option func(*Service)

// WithAuditLogger records security events
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) { s.auditLogger = l }
}

// WithMetrics records attempt outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger used when the request context carries none
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRefreshRotation controls whether Refresh issues a new refresh token.
// Rotation is on by default.
func WithRefreshRotation(rotate bool) Option {
	return func(s *Service) { s.rotate = rotate }
}

// NewService creates an authentication service
func NewService(users UserStore, codec *token.Codec, sessions session.Store, opts ...Option) *Service {
	s := &Service{
		users:       users,
		codec:       codec,
		sessions:    sessions,
		auditLogger: audit.NewNoOpLogger(),
		metrics:     observability.NewNopMetrics(),
		logger:      observability.NopLogger(),
		rotate:      true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login checks credentials and issues a token pair for tenantID, or the
// user's default organization when tenantID is 0. Unknown users and wrong
// passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string, tenantID int64) (*TokenPair, *Principal, error) {
	user, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		burnPasswordCheck(password)
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, 0, tenantID, email, apperrors.InvalidCredentials())
	case err != nil:
		s.metrics.StoreErrorsTotal.WithLabelValues("users", "find").Inc()
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, 0, tenantID, email, apperrors.AuthenticationFailed(err))
	}

	if !CheckPassword(user.PasswordHash, password) || !user.IsActive {
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, user.ID, tenantID, user.Email, apperrors.InvalidCredentials())
	}

	principal, err := s.principalFor(ctx, user, tenantID)
	if err != nil {
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, user.ID, tenantID, user.Email, err)
	}

	refresh, _, err := s.codec.IssueRefreshToken(principal.Email)
	if err != nil {
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, user.Email, apperrors.Internal(err))
	}
	if err := s.sessions.Put(ctx, principal.Email, refresh, token.RefreshTTL); err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("session", "put").Inc()
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, user.Email, apperrors.AuthenticationFailed(err))
	}

	pair, err := s.pair(principal, refresh)
	if err != nil {
		return nil, nil, s.fail(ctx, "login", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, user.Email, err)
	}

	if recorder, ok := s.users.(LoginRecorder); ok {
		async.SafeGo(s.background(ctx), async.DefaultTimeout, "record login time", func(ctx context.Context) error {
			return recorder.RecordLogin(ctx, user.ID)
		})
	}
	s.succeed(ctx, "login", audit.EventTypeAuthLogin, principal)
	return pair, principal, nil
}

// Refresh exchanges a refresh token for a new access token. The presented
// token must equal the stored one; a superseded, revoked or replayed token
// fails with TokenMismatch. Session store failures never succeed silently.
func (s *Service) Refresh(ctx context.Context, refreshToken string, tenantID int64) (*TokenPair, *Principal, error) {
	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, 0, tenantID, "", err)
	}
	subject := claims.Subject()

	stored, found, err := s.sessions.Get(ctx, subject)
	if err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("session", "get").Inc()
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, 0, tenantID, subject, apperrors.AuthenticationFailed(err))
	}
	if !found || subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthTokenMismatch, 0, tenantID, subject, apperrors.TokenMismatch())
	}

	user, err := s.users.FindByEmail(ctx, subject)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, 0, tenantID, subject, apperrors.InvalidCredentials())
	case err != nil:
		s.metrics.StoreErrorsTotal.WithLabelValues("users", "find").Inc()
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, 0, tenantID, subject, apperrors.AuthenticationFailed(err))
	case !user.IsActive:
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, user.ID, tenantID, subject, apperrors.InvalidCredentials())
	}

	principal, err := s.principalFor(ctx, user, tenantID)
	if err != nil {
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, user.ID, tenantID, subject, err)
	}

	next := refreshToken
	if s.rotate {
		next, _, err = s.codec.IssueRefreshToken(subject)
		if err != nil {
			return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, subject, apperrors.Internal(err))
		}
		if err := s.sessions.Put(ctx, subject, next, token.RefreshTTL); err != nil {
			s.metrics.StoreErrorsTotal.WithLabelValues("session", "put").Inc()
			return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, subject, apperrors.AuthenticationFailed(err))
		}
	}

	pair, err := s.pair(principal, next)
	if err != nil {
		return nil, nil, s.fail(ctx, "refresh", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, subject, err)
	}
	s.succeed(ctx, "refresh", audit.EventTypeAuthTokenRefresh, principal)
	return pair, principal, nil
}

// Logout deletes the stored refresh token of principal. Logging out twice
// succeeds; a store failure does not.
func (s *Service) Logout(ctx context.Context, principal *Principal) error {
	if principal == nil || principal.Email == "" {
		return apperrors.Unauthenticated("authentication required")
	}
	if err := s.sessions.Delete(ctx, principal.Email); err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("session", "delete").Inc()
		return s.fail(ctx, "logout", audit.EventTypeAuthLogout, principal.UserID, principal.TenantID, principal.Email, apperrors.AuthenticationFailed(err))
	}
	s.succeed(ctx, "logout", audit.EventTypeAuthLogout, principal)
	return nil
}

// LoginWithIdentity issues tokens for an identity asserted by an external
// provider. Accounts are never created here; an unknown email fails with
// InvalidCredentials.
func (s *Service) LoginWithIdentity(ctx context.Context, identity *Identity, tenantID int64) (*TokenPair, *Principal, error) {
	if identity == nil || identity.Email == "" {
		return nil, nil, apperrors.InvalidCredentials()
	}
	if !identity.Verified {
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, 0, tenantID, identity.Email, apperrors.InvalidCredentials())
	}

	user, err := s.users.FindByEmail(ctx, identity.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, 0, tenantID, identity.Email, apperrors.InvalidCredentials())
	case err != nil:
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, 0, tenantID, identity.Email, apperrors.AuthenticationFailed(err))
	case !user.IsActive:
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, user.ID, tenantID, identity.Email, apperrors.InvalidCredentials())
	}

	principal, err := s.principalFor(ctx, user, tenantID)
	if err != nil {
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, user.ID, tenantID, identity.Email, err)
	}

	refresh, _, err := s.codec.IssueRefreshToken(principal.Email)
	if err != nil {
		return nil, nil, apperrors.Internal(err)
	}
	if err := s.sessions.Put(ctx, principal.Email, refresh, token.RefreshTTL); err != nil {
		return nil, nil, s.fail(ctx, "sso_login", audit.EventTypeAuthLoginFailed, user.ID, principal.TenantID, identity.Email, apperrors.AuthenticationFailed(err))
	}
	pair, err := s.pair(principal, refresh)
	if err != nil {
		return nil, nil, err
	}

	s.succeed(ctx, "sso_login", audit.EventTypeAuthLogin, principal)
	return pair, principal, nil
}

// Authenticate turns a verified access token into a principal acting in
// tenantID. The user and roles are reloaded from the user store so that
// every role the user holds in tenantID takes part in permission checks and
// disabled accounts lose access before their token expires.
func (s *Service) Authenticate(ctx context.Context, claims *token.Claims, tenantID int64) (*Principal, error) {
	if claims == nil || claims.Type != token.KindAccess {
		return nil, apperrors.InvalidToken(token.ErrWrongKind)
	}
	if tenantID <= 0 {
		tenantID = claims.Tenant()
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, apperrors.Unauthenticated("account no longer exists")
	case err != nil:
		s.metrics.StoreErrorsTotal.WithLabelValues("users", "find").Inc()
		return nil, apperrors.AuthenticationFailed(err)
	case !user.IsActive:
		return nil, apperrors.Unauthenticated("account is disabled")
	}

	roles, err := s.users.RoleIDs(ctx, claims.UserID, tenantID)
	if err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("users", "roles").Inc()
		return nil, apperrors.AuthenticationFailed(err)
	}
	if len(roles) == 0 {
		return nil, apperrors.TenantForbidden(fmt.Sprintf("not a member of organization %d", tenantID))
	}

	principal := NewPrincipal(user, tenantID, roles)
	principal.Email = claims.Subject()
	return principal, nil
}

func (s *Service) principalFor(ctx context.Context, user *User, tenantID int64) (*Principal, error) {
	if tenantID == 0 {
		tenantID = user.DefaultOrgID
	}
	if tenantID <= 0 {
		return nil, apperrors.TenantRequired()
	}

	roles, err := s.users.RoleIDs(ctx, user.ID, tenantID)
	if err != nil {
		s.metrics.StoreErrorsTotal.WithLabelValues("users", "roles").Inc()
		return nil, apperrors.AuthenticationFailed(err)
	}
	if len(roles) == 0 {
		return nil, apperrors.TenantForbidden(fmt.Sprintf("not a member of organization %d", tenantID))
	}

	principal := NewPrincipal(user, tenantID, roles)
	principal.Email = strings.ToLower(principal.Email)
	if err := principal.Validate(); err != nil {
		return nil, apperrors.Internal(err)
	}
	return principal, nil
}

func (s *Service) pair(principal *Principal, refresh string) (*TokenPair, error) {
	access, _, err := s.codec.IssueAccessToken(token.Identity{
		UserID:   principal.UserID,
		TenantID: principal.TenantID,
		Email:    principal.Email,
		Role:     principal.PrimaryRole(),
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(token.AccessTTL.Seconds()),
	}, nil
}

// log prefers the request logger over the service logger
func (s *Service) log(ctx context.Context) *observability.Logger {
	if _, ok := observability.LoggerFromContext(ctx); ok {
		return observability.FromContext(ctx)
	}
	return observability.FromContext(observability.WithLogger(ctx, s.logger))
}

// background detaches ctx from the request, keeping its tenant and logger
func (s *Service) background(ctx context.Context) context.Context {
	bg := tenant.Detach(ctx)
	if _, ok := observability.LoggerFromContext(bg); !ok {
		bg = observability.WithLogger(bg, s.logger)
	}
	return bg
}

func (s *Service) record(ctx context.Context, event *audit.AuditEvent) {
	async.SafeGo(s.background(ctx), async.DefaultTimeout, "record audit event", func(ctx context.Context) error {
		return audit.Record(ctx, s.auditLogger, event)
	})
}

func (s *Service) succeed(ctx context.Context, operation string, eventType audit.EventType, principal *Principal) {
	s.metrics.AuthAttemptsTotal.WithLabelValues(operation, "success").Inc()
	event := audit.NewEvent(eventType, audit.EventStatusSuccess).
		WithActor(principal.UserID, principal.TenantID, principal.Email)
	s.record(ctx, event)
}

// fail records a failed attempt and returns err unchanged
func (s *Service) fail(ctx context.Context, operation string, eventType audit.EventType, userID, tenantID int64, email string, err error) error {
	kind := apperrors.KindOf(err)
	s.metrics.AuthAttemptsTotal.WithLabelValues(operation, kind.String()).Inc()

	status := audit.EventStatusFailure
	if kind == apperrors.KindTokenMismatch {
		status = audit.EventStatusDenied
	}
	event := audit.NewEvent(eventType, status).WithActor(userID, tenantID, email)
	event.Message = err.Error()
	s.record(ctx, event)

	logger := s.log(ctx).WithField("operation", operation).WithField("kind", kind.String())
	if kind == apperrors.KindAuthenticationFailed || kind == apperrors.KindInternal {
		logger.WithError(err).Error("Authentication failed")
	} else {
		logger.Debug("Authentication rejected")
	}
	return err
}

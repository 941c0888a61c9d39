package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/async"
	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/orgs"
	"github.com/platinummonkey/agora/pkg/ratelimit"
	"github.com/platinummonkey/agora/pkg/rbac"
	"github.com/platinummonkey/agora/pkg/tenant"
	"github.com/platinummonkey/agora/pkg/token"
)

// OrgIDHeader carries the tenant a request acts in
const OrgIDHeader = "X-Org-Id"

// RoutePolicy describes what a route requires from the pipeline
type RoutePolicy struct {
	// Endpoint names the route in rate-limit keys and metrics. Defaults to
	// the mux path template.
	Endpoint string

	// Anonymous routes run without a principal; an invalid bearer token is
	// ignored rather than rejected.
	Anonymous bool

	// PlatformGlobal routes do not require a tenant. A tenant supplied
	// anyway is still validated and bound.
	PlatformGlobal bool

	// Permission, when set, must be granted to one of the principal's roles
	// in the bound tenant.
	Permission *rbac.Permission
}

// Authenticator turns verified access-token claims into a principal
type Authenticator interface {
	Authenticate(ctx context.Context, claims *token.Claims, tenantID int64) (*auth.Principal, error)
}

// PermissionChecker decides permission checks
type PermissionChecker interface {
	Check(ctx context.Context, principal *auth.Principal, resource rbac.Resource, action rbac.Action) (bool, error)
}

// RateChecker counts requests
type RateChecker interface {
	Check(ctx context.Context, identifier, endpoint string) ratelimit.Decision
}

// Pipeline runs every request through tenant binding, authentication, rate
// limiting and authorization before the handler sees it.
type Pipeline struct {
	codec     *token.Codec
	authn     Authenticator
	perms     PermissionChecker
	problems  *httputil.ProblemWriter
	directory orgs.Directory
	limiter   RateChecker

	auditLogger audit.Logger
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDirectory checks that bound organizations exist and are active
func WithDirectory(d orgs.Directory) Option {
	return func(p *Pipeline) { p.directory = d }
}

// WithRateLimiter enables rate limiting
func WithRateLimiter(l RateChecker) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithAuditLogger records denials
func WithAuditLogger(l audit.Logger) Option {
	return func(p *Pipeline) { p.auditLogger = l }
}

// WithMetrics records pipeline outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger
func WithLogger(l *observability.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an authentication pipeline
func NewPipeline(codec *token.Codec, authn Authenticator, perms PermissionChecker, problems *httputil.ProblemWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		codec:       codec,
		authn:       authn,
		perms:       perms,
		problems:    problems,
		auditLogger: audit.NewNoOpLogger(),
		metrics:     observability.NewNopMetrics(),
		logger:      observability.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrincipalFromContext returns the principal bound by the pipeline
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	return auth.PrincipalFromContext(ctx)
}

// Protect returns middleware enforcing policy. The tenant scope installed for
// the request is cleared when the handler returns or panics.
func (p *Pipeline) Protect(policy RoutePolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := p.now()
			endpoint := endpointName(r, policy)

			ctx, scope := tenant.NewScope(r.Context())
			defer scope.Clear()

			ctx, span := observability.Tracer().Start(ctx, "security.pipeline",
				trace.WithAttributes(attribute.String("endpoint", endpoint)))
			defer span.End()

			r = r.WithContext(ctx)
			r, err := p.run(w, r, policy, endpoint, scope)
			p.metrics.PipelineDuration.WithLabelValues(endpoint).Observe(p.now().Sub(start).Seconds())

			if err != nil {
				code := apperrors.CodeInternal
				if appErr, ok := apperrors.As(err); ok {
					code = appErr.Code
				}
				p.metrics.PipelineOutcomes.WithLabelValues(endpoint, string(code)).Inc()
				span.SetAttributes(attribute.String("error.code", string(code)))
				span.SetStatus(codes.Error, string(code))
				p.problems.Write(w, r, err)
				return
			}

			p.metrics.PipelineOutcomes.WithLabelValues(endpoint, "ok").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// run executes the pipeline states up to AUTHORIZED and returns the request
// carrying the bound principal.
func (p *Pipeline) run(w http.ResponseWriter, r *http.Request, policy RoutePolicy, endpoint string, scope *tenant.Scope) (*http.Request, error) {
	ctx := r.Context()

	b := p.verifyBearer(r)

	tenantID, err := p.bindTenant(ctx, r, policy, b.claims, scope)
	if err != nil {
		if b.err != nil && !policy.Anonymous && errors.Is(err, apperrors.ErrTenant) && r.Header.Get(OrgIDHeader) == "" {
			// without a usable token there was no claim to take the tenant from
			return r, b.err
		}
		return r, err
	}

	principal, err := p.authenticate(ctx, policy, b, tenantID)
	if err != nil {
		return r, err
	}
	if principal != nil {
		ctx = auth.WithPrincipal(ctx, principal)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).WithField("user_id", principal.UserID))
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("user.id", principal.UserID))
		r = r.WithContext(ctx)
	}

	if err := p.checkRate(w, r, endpoint, principal); err != nil {
		return r, err
	}

	if err := p.authorize(ctx, r, policy, principal); err != nil {
		return r, err
	}
	return r, nil
}

// bearer is the result of verifying the Authorization header
type bearer struct {
	present bool
	claims  *token.Claims
	err     error
}

// verifyBearer verifies the bearer token, if one was sent
func (p *Pipeline) verifyBearer(r *http.Request) bearer {
	raw, ok := httputil.BearerToken(r)
	if !ok {
		if r.Header.Get("Authorization") != "" {
			return bearer{present: true, err: apperrors.InvalidToken(errors.New("malformed authorization header"))}
		}
		return bearer{}
	}
	claims, err := p.codec.Verify(raw, token.KindAccess)
	if err != nil {
		p.metrics.TokenVerifications.WithLabelValues(apperrors.KindOf(err).String()).Inc()
		return bearer{present: true, err: err}
	}
	p.metrics.TokenVerifications.WithLabelValues("valid").Inc()
	return bearer{present: true, claims: claims}
}

// bindTenant resolves the tenant from X-Org-Id, falling back to the verified
// token's org_id claim, and binds it to scope.
func (p *Pipeline) bindTenant(ctx context.Context, r *http.Request, policy RoutePolicy, claims *token.Claims, scope *tenant.Scope) (int64, error) {
	var tenantID int64
	if header := r.Header.Get(OrgIDHeader); header != "" {
		id, err := strconv.ParseInt(header, 10, 64)
		if err != nil || id <= 0 {
			return 0, apperrors.TenantInvalid(fmt.Sprintf("invalid %s header %q", OrgIDHeader, header))
		}
		tenantID = id
	} else if claims != nil && claims.Tenant() > 0 {
		tenantID = claims.Tenant()
	}

	if tenantID == 0 {
		if policy.PlatformGlobal {
			return 0, nil
		}
		return 0, apperrors.TenantRequired()
	}

	if p.directory != nil {
		org, err := p.directory.GetOrganization(ctx, tenantID)
		switch {
		case errors.Is(err, orgs.ErrOrganizationNotFound):
			return 0, apperrors.TenantNotFound(tenantID)
		case err != nil:
			p.metrics.StoreErrorsTotal.WithLabelValues("organizations", "get").Inc()
			return 0, apperrors.Internal(err)
		case !org.IsActive:
			return 0, apperrors.TenantForbidden(fmt.Sprintf("organization %d is not active", tenantID))
		}
	}

	if err := scope.Set(tenantID); err != nil {
		return 0, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("tenant.id", tenantID))
	return tenantID, nil
}

// authenticate materializes the principal. Anonymous routes never fail here.
func (p *Pipeline) authenticate(ctx context.Context, policy RoutePolicy, b bearer, tenantID int64) (*auth.Principal, error) {
	if b.claims == nil {
		switch {
		case policy.Anonymous:
			return nil, nil
		case b.err != nil:
			return nil, b.err
		default:
			return nil, apperrors.Unauthenticated("authentication required")
		}
	}

	principal, err := p.authn.Authenticate(ctx, b.claims, tenantID)
	if err != nil {
		if policy.Anonymous && apperrors.KindOf(err) != apperrors.KindAuthenticationFailed {
			observability.FromContext(ctx).WithField("reason", err.Error()).Debug("Ignoring bearer token on anonymous route")
			return nil, nil
		}
		return nil, err
	}
	return principal, nil
}

// checkRate applies the rate limit. A store failure lets the request through.
func (p *Pipeline) checkRate(w http.ResponseWriter, r *http.Request, endpoint string, principal *auth.Principal) error {
	if p.limiter == nil {
		return nil
	}
	ctx := r.Context()

	identifier := "ip:" + ClientIP(r)
	if principal != nil {
		identifier = "user:" + strconv.FormatInt(principal.UserID, 10)
	}

	d := p.limiter.Check(ctx, identifier, endpoint)
	p.metrics.RateLimitDecisions.WithLabelValues(endpoint, d.Outcome.String()).Inc()

	switch d.Outcome {
	case ratelimit.StoreUnavailable:
		p.metrics.StoreErrorsTotal.WithLabelValues("ratelimit", "check").Inc()
		observability.FromContext(ctx).WithError(d.Err).
			WithFields(map[string]interface{}{"identifier": identifier, "endpoint": endpoint}).
			Warn("Rate limit store unavailable, allowing request")
		return nil
	case ratelimit.Denied:
		setRateLimitHeaders(w, d, p.now())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.ResetIn)))
		p.record(ctx, r, audit.EventTypeAuthzRateLimited, principal, "", "", "rate limit exceeded")
		return apperrors.RateLimited()
	default:
		setRateLimitHeaders(w, d, p.now())
		return nil
	}
}

// authorize checks the route permission, if any
func (p *Pipeline) authorize(ctx context.Context, r *http.Request, policy RoutePolicy, principal *auth.Principal) error {
	if policy.Permission == nil {
		return nil
	}
	perm := *policy.Permission
	if principal == nil {
		return apperrors.Unauthenticated("authentication required")
	}

	allowed, err := p.perms.Check(ctx, principal, perm.Resource, perm.Action)
	switch {
	case err != nil:
		p.metrics.PermissionChecks.WithLabelValues(perm.String(), "error").Inc()
		if apperrors.KindOf(err) == apperrors.KindIllegalState {
			return err
		}
		p.metrics.StoreErrorsTotal.WithLabelValues("permissions", "lookup").Inc()
		return apperrors.Internal(err)
	case !allowed:
		p.metrics.PermissionChecks.WithLabelValues(perm.String(), "denied").Inc()
		p.record(ctx, r, audit.EventTypeAuthzAccessDenied, principal, string(perm.Resource), string(perm.Action), "missing permission "+perm.String())
		return apperrors.AccessDenied("missing permission " + perm.String())
	}
	p.metrics.PermissionChecks.WithLabelValues(perm.String(), "allowed").Inc()
	return nil
}

func (p *Pipeline) record(ctx context.Context, r *http.Request, eventType audit.EventType, principal *auth.Principal, resource, action, message string) {
	event := audit.NewEvent(eventType, audit.EventStatusDenied)
	if principal != nil {
		event.WithActor(principal.UserID, principal.TenantID, principal.Email)
	} else if tenantID, ok := tenant.Get(ctx); ok {
		event.WithActor(0, tenantID, "")
	}
	event.Resource = resource
	event.Action = action
	event.Path = r.URL.Path
	event.IPAddress = ClientIP(r)
	event.Message = message
	bg := tenant.Detach(ctx)
	if _, ok := observability.LoggerFromContext(bg); !ok {
		bg = observability.WithLogger(bg, p.logger)
	}
	async.SafeGo(bg, async.DefaultTimeout, "record audit event", func(ctx context.Context) error {
		return audit.Record(ctx, p.auditLogger, event)
	})
}

func endpointName(r *http.Request, policy RoutePolicy) string {
	if policy.Endpoint != "" {
		return policy.Endpoint
	}
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

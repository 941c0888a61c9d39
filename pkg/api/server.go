package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/middleware"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/orgs"
	"github.com/platinummonkey/agora/pkg/rbac"
)

// maxBodyBytes bounds request bodies on every route
const maxBodyBytes = 1 << 20

// AuthService is the part of auth.Service the handlers use
type AuthService interface {
	Login(ctx context.Context, email, password string, tenantID int64) (*auth.TokenPair, *auth.Principal, error)
	Refresh(ctx context.Context, refreshToken string, tenantID int64) (*auth.TokenPair, *auth.Principal, error)
	Logout(ctx context.Context, principal *auth.Principal) error
	LoginWithIdentity(ctx context.Context, identity *auth.Identity, tenantID int64) (*auth.TokenPair, *auth.Principal, error)
}

// MembershipLister lists the organizations of a user
type MembershipLister interface {
	Memberships(ctx context.Context, userID int64) ([]*orgs.Membership, error)
}

// Config holds the collaborators of a Server
type Config struct {
	Auth      AuthService
	Pipeline  *middleware.Pipeline
	Perms     middleware.PermissionChecker
	Problems  *httputil.ProblemWriter
	Providers map[string]auth.IdentityProvider

	// Optional
	Memberships       MembershipLister
	RBAC              *rbac.Handlers
	Metrics           *observability.Metrics
	Logger            *observability.Logger
	SecureStateCookie bool
}

// Server represents our API server
type Server struct {
	router      *mux.Router
	auth        AuthService
	pipeline    *middleware.Pipeline
	perms       middleware.PermissionChecker
	problems    *httputil.ProblemWriter
	providers   map[string]auth.IdentityProvider
	memberships MembershipLister
	metrics     *observability.Metrics
	logger      *observability.Logger

	secureCookie bool
	handler      http.Handler
}

// NewServer creates a new API server with the auth routes and, when
// configured, the permission admin routes registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		auth:         cfg.Auth,
		pipeline:     cfg.Pipeline,
		perms:        cfg.Perms,
		problems:     cfg.Problems,
		providers:    cfg.Providers,
		memberships:  cfg.Memberships,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		secureCookie: cfg.SecureStateCookie,
	}
	if s.providers == nil {
		s.providers = map[string]auth.IdentityProvider{}
	}
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}
	if s.logger == nil {
		s.logger = observability.NopLogger()
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	s.setupRoutes()
	if cfg.RBAC != nil {
		s.MountRBAC(cfg.RBAC)
	}

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.problems),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "agora")
	return s
}

// setupRoutes configures the authentication routes
func (s *Server) setupRoutes() {
	global := middleware.RoutePolicy{Anonymous: true, PlatformGlobal: true}

	login := global
	login.Endpoint = "auth.login"
	s.Handle("/auth/login", login, s.login, http.MethodPost)

	refresh := global
	refresh.Endpoint = "auth.refresh"
	s.Handle("/auth/refresh", refresh, s.refresh, http.MethodPost)

	s.Handle("/auth/logout", middleware.RoutePolicy{Endpoint: "auth.logout", PlatformGlobal: true}, s.logout, http.MethodPost)
	s.Handle("/auth/me", middleware.RoutePolicy{Endpoint: "auth.me"}, s.me, http.MethodGet)
	s.Handle("/auth/permissions/check", middleware.RoutePolicy{Endpoint: "auth.permissions"}, s.checkPermission, http.MethodGet)

	oauthLogin := global
	oauthLogin.Endpoint = "auth.oauth.login"
	s.Handle("/auth/oauth/{provider}/login", oauthLogin, s.oauthLogin, http.MethodGet)

	oauthCallback := global
	oauthCallback.Endpoint = "auth.oauth.callback"
	s.Handle("/auth/oauth/{provider}/callback", oauthCallback, s.oauthCallback, http.MethodGet)
}

// Handle registers handler behind the authentication pipeline
func (s *Server) Handle(path string, policy middleware.RoutePolicy, handler http.HandlerFunc, methods ...string) *mux.Route {
	return s.router.Handle(path, s.pipeline.Protect(policy)(handler)).Methods(methods...)
}

// MountRBAC registers the permission admin routes, each requiring its own
// permission in the bound organization.
func (s *Server) MountRBAC(h *rbac.Handlers) {
	for _, route := range h.Routes() {
		perm := route.Permission
		s.Handle(route.Path, middleware.RoutePolicy{Permission: &perm}, route.Handler, route.Method)
	}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in request id, logging, recovery and
// tracing middleware. Routes added later through Handle are served too.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

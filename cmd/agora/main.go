package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/agora/pkg/api"
	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/config"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/middleware"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/orgs"
	"github.com/platinummonkey/agora/pkg/ratelimit"
	"github.com/platinummonkey/agora/pkg/rbac"
	"github.com/platinummonkey/agora/pkg/session"
	"github.com/platinummonkey/agora/pkg/storage"
	"github.com/platinummonkey/agora/pkg/token"
)

var version = "dev"

func main() {
	bootstrap := setupLogger(os.Getenv("AGORA_LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, bootstrap); err != nil {
		bootstrap.Fatalf("agora: %v", err)
	}
	bootstrap.Info("Server stopped")
}

// setupLogger configures the logger used until the structured logger exists
func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func run(ctx context.Context, bootstrap *logrus.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.WithFields(logrus.Fields{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"version":     version,
	}).Info("Configuration loaded")

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "agora")

	otelProviders, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	db, err := storage.NewConnectionManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	db.StartHealthCheckRoutine(ctx, 30*time.Second)

	redisClient, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return err
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("postgres", func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	// Anything failing from here on still releases the connections above
	fail := func(err error) error {
		if shutdownErr := shutdown.Shutdown(context.Background()); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Shutdown after startup failure")
		}
		return err
	}

	if cfg.RBAC.RunMigrations {
		applied, err := rbac.RunMigrations(ctx, db.Primary())
		if err != nil {
			return fail(fmt.Errorf("run rbac migrations: %w", err))
		}
		logger.WithField("applied", applied).Info("RBAC migrations complete")
	}

	auditLogger, err := newAuditLogger(ctx, cfg.Audit, db)
	if err != nil {
		return fail(err)
	}
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error { return auditLogger.Close() })

	// Permission rows come from the permissions file when one is configured,
	// otherwise from the role_permissions table.
	var (
		base  rbac.Lookup
		table *rbac.Table
		store *rbac.SQLStore
	)
	if path := cfg.RBAC.PermissionsFile; path != "" {
		table = rbac.NewDefaultTable()
		if err := table.LoadFile(path); err != nil {
			return fail(fmt.Errorf("load permissions file: %w", err))
		}
		base = table
	} else {
		store = rbac.NewSQLStore(db.Primary())
		base = store
	}
	lookup := rbac.NewCachedLookup(base, cfg.RBAC.CacheSize, cfg.RBAC.CacheTTL)
	if table != nil {
		if err := table.WatchFile(ctx, cfg.RBAC.PermissionsFile, logger, lookup.Purge); err != nil {
			return fail(err)
		}
	}
	evaluator := rbac.NewEvaluator(lookup)

	codec, err := token.NewCodec([]byte(cfg.Security.JWTSecret))
	if err != nil {
		return fail(err)
	}

	authService := auth.NewService(
		auth.NewPostgresUserStore(db.Primary()),
		codec,
		session.NewRedisStore(redisClient),
		auth.WithAuditLogger(auditLogger),
		auth.WithMetrics(metrics),
		auth.WithLogger(logger),
		auth.WithRefreshRotation(cfg.Security.RotateRefreshTokens),
	)

	directory := orgs.NewPostgresDirectory(db.Replica())
	problems := httputil.NewProblemWriter(cfg.Security.ProblemBaseURL, cfg.Security.LegacyRateLimitStatus)

	pipelineOpts := []middleware.Option{
		middleware.WithDirectory(orgs.NewCachedDirectory(directory, 1024, time.Minute)),
		middleware.WithAuditLogger(auditLogger),
		middleware.WithMetrics(metrics),
		middleware.WithLogger(logger),
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(redisClient, ratelimit.Config{
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
		}, logger)
		pipelineOpts = append(pipelineOpts, middleware.WithRateLimiter(limiter))
	}
	pipeline := middleware.NewPipeline(codec, authService, evaluator, problems, pipelineOpts...)

	providers, err := newIdentityProviders(ctx, cfg.OAuth)
	if err != nil {
		return fail(err)
	}

	serverCfg := api.Config{
		Auth:              authService,
		Pipeline:          pipeline,
		Perms:             evaluator,
		Problems:          problems,
		Providers:         providers,
		Memberships:       directory,
		Metrics:           metrics,
		Logger:            logger,
		SecureStateCookie: cfg.Security.OAuthStateCookieSecure,
	}
	if store != nil {
		serverCfg.RBAC = rbac.NewHandlers(store, auditLogger, problems, lookup.Purge)
	}
	server := api.NewServer(serverCfg)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db.Primary(), redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.RegisterServer(httpServer)
	shutdown.RegisterServer(healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting agora API server on %s", httpServer.Addr)
		return listen(httpServer)
	})
	g.Go(func() error {
		logger.Infof("Starting health server on %s", healthServer.Addr)
		return listen(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})
	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	}
	return nil
}

func newAuditLogger(ctx context.Context, cfg config.AuditConfig, db *storage.ConnectionManager) (audit.Logger, error) {
	var loggers []audit.Logger
	if cfg.Database {
		dbLogger, err := audit.NewDBLogger(ctx, db.Primary())
		if err != nil {
			return nil, fmt.Errorf("create audit db logger: %w", err)
		}
		loggers = append(loggers, dbLogger)
	}
	if cfg.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create audit file logger: %w", err)
		}
		loggers = append(loggers, fileLogger)
	}
	if len(loggers) == 0 {
		return audit.NewNoOpLogger(), nil
	}
	return audit.NewMultiLogger(loggers...), nil
}

func newIdentityProviders(ctx context.Context, configs []config.OAuthProviderConfig) (map[string]auth.IdentityProvider, error) {
	providers := make(map[string]auth.IdentityProvider, len(configs))
	for _, pc := range configs {
		var (
			p   auth.IdentityProvider
			err error
		)
		switch pc.Kind {
		case "oauth2":
			p, err = auth.NewOAuth2Provider(pc.ProviderConfig)
		default:
			p, err = auth.NewOIDCProvider(ctx, pc.ProviderConfig)
		}
		if err != nil {
			return nil, fmt.Errorf("identity provider %s: %w", pc.Name, err)
		}
		providers[pc.Name] = p
	}
	return providers, nil
}

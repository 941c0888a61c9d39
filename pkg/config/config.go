package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/storage"
	"github.com/platinummonkey/agora/pkg/token"
)

// Config holds all application configuration. It is read once at startup
// and never modified afterwards.
type Config struct {
	Server        ServerConfig
	Security      SecurityConfig
	Database      storage.ConnectionConfig
	Redis         storage.RedisConfig
	RateLimit     RateLimitConfig
	RBAC          RBACConfig
	Audit         AuditConfig
	OAuth         []OAuthProviderConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SecurityConfig holds token and error-reporting settings
type SecurityConfig struct {
	JWTSecret string

	// ProblemBaseURL prefixes the type of every problem-detail response
	ProblemBaseURL string

	// RotateRefreshTokens issues a new refresh token on every refresh
	RotateRefreshTokens bool

	// LegacyRateLimitStatus reports rate-limit denials as 403 instead of 429
	LegacyRateLimitStatus bool

	// OAuthStateCookieSecure marks the OAuth state cookie Secure
	OAuthStateCookieSecure bool
}

// RateLimitConfig holds the fixed-window thresholds
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// RBACConfig holds permission lookup settings
type RBACConfig struct {
	// PermissionsFile, when set, replaces the database as the permission
	// source and is reloaded on change
	PermissionsFile string
	CacheSize       int
	CacheTTL        time.Duration
	RunMigrations   bool
}

// AuditConfig selects the audit sinks
type AuditConfig struct {
	Database bool
	FilePath string
}

// OAuthProviderConfig configures one external identity provider
type OAuthProviderConfig struct {
	// Kind is "oauth2" or "oidc"
	Kind string
	auth.ProviderConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Security:      loadSecurityConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		RBAC:          loadRBACConfig(),
		Audit:         loadAuditConfig(),
		OAuth:         loadOAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AGORA_HOST", "0.0.0.0"),
		Port:            getEnv("AGORA_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AGORA_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AGORA_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("AGORA_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AGORA_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("AGORA_HEALTH_PORT", "9090"),
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		JWTSecret:              getEnv("AGORA_JWT_SECRET", ""),
		ProblemBaseURL:         getEnv("AGORA_PROBLEM_BASE_URL", "https://agora.dev"),
		RotateRefreshTokens:    getEnvBool("AGORA_ROTATE_REFRESH_TOKENS", true),
		LegacyRateLimitStatus:  getEnvBool("AGORA_RATELIMIT_LEGACY_403", false),
		OAuthStateCookieSecure: getEnvBool("AGORA_OAUTH_COOKIE_SECURE", true),
	}
}

func loadDatabaseConfig() storage.ConnectionConfig {
	cfg := storage.DefaultConnectionConfig(getEnv("AGORA_DATABASE_URL", ""))
	cfg.ReplicaURLs = storage.ParseReplicaURLs(getEnv("AGORA_DATABASE_REPLICA_URLS", ""))
	if maxConns := getEnvInt("AGORA_DATABASE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("AGORA_DATABASE_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("AGORA_DATABASE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}

func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		URL:        getEnv("AGORA_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("AGORA_REDIS_PASSWORD", ""),
		DB:         getEnvInt("AGORA_REDIS_DB", 0),
		MaxRetries: getEnvInt("AGORA_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("AGORA_REDIS_POOL_SIZE", 0),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:  getEnvBool("AGORA_RATELIMIT_ENABLED", true),
		Requests: getEnvInt("AGORA_RATELIMIT_REQUESTS", 100),
		Window:   getEnvDuration("AGORA_RATELIMIT_WINDOW", time.Minute),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		PermissionsFile: getEnv("AGORA_RBAC_PERMISSIONS_FILE", ""),
		CacheSize:       getEnvInt("AGORA_RBAC_CACHE_SIZE", 4096),
		CacheTTL:        getEnvDuration("AGORA_RBAC_CACHE_TTL", time.Minute),
		RunMigrations:   getEnvBool("AGORA_RBAC_MIGRATE", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Database: getEnvBool("AGORA_AUDIT_DATABASE", true),
		FilePath: getEnv("AGORA_AUDIT_FILE", ""),
	}
}

// loadOAuthConfig reads AGORA_OAUTH_PROVIDERS ("github,okta") and the
// AGORA_OAUTH_<NAME>_* variables of each listed provider
func loadOAuthConfig() []OAuthProviderConfig {
	var providers []OAuthProviderConfig
	for _, name := range strings.Split(getEnv("AGORA_OAUTH_PROVIDERS", ""), ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		prefix := "AGORA_OAUTH_" + strings.ToUpper(name) + "_"
		var scopes []string
		if s := getEnv(prefix+"SCOPES", ""); s != "" {
			scopes = strings.Fields(strings.ReplaceAll(s, ",", " "))
		}
		providers = append(providers, OAuthProviderConfig{
			Kind: strings.ToLower(getEnv(prefix+"KIND", "oidc")),
			ProviderConfig: auth.ProviderConfig{
				Name:         name,
				ClientID:     getEnv(prefix+"CLIENT_ID", ""),
				ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
				RedirectURL:  getEnv(prefix+"REDIRECT_URL", ""),
				Scopes:       scopes,
				AuthURL:      getEnv(prefix+"AUTH_URL", ""),
				TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
				UserInfoURL:  getEnv(prefix+"USERINFO_URL", ""),
				IssuerURL:    getEnv(prefix+"ISSUER_URL", ""),
			},
		})
	}
	return providers
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("AGORA_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("AGORA_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AGORA_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AGORA_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AGORA_OTEL_SERVICE_NAME", "agora"),
		OTelServiceVersion: getEnv("AGORA_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AGORA_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("AGORA_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if len(c.Security.JWTSecret) < token.MinKeyLength {
		return fmt.Errorf("AGORA_JWT_SECRET must be at least %d bytes", token.MinKeyLength)
	}
	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate limit requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	seen := make(map[string]bool)
	for _, p := range c.OAuth {
		if seen[p.Name] {
			return fmt.Errorf("oauth provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
		if p.Kind != "oauth2" && p.Kind != "oidc" {
			return fmt.Errorf("oauth provider %q: invalid kind %q (must be oauth2 or oidc)", p.Name, p.Kind)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("oauth provider %q: %w", p.Name, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings in the form InitOTel expects
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Thresholds and secrets are read once at
// startup and never change while the process runs.
//
// # Configuration Structure
//
// Server settings:
//
//	AGORA_HOST="0.0.0.0"
//	AGORA_PORT="8080"
//	AGORA_HEALTH_PORT="9090"
//	AGORA_SHUTDOWN_TIMEOUT="30s"
//
// Security settings:
//
//	AGORA_JWT_SECRET="<at least 32 bytes>"
//	AGORA_PROBLEM_BASE_URL="https://agora.dev"
//	AGORA_ROTATE_REFRESH_TOKENS="true"
//	AGORA_RATELIMIT_LEGACY_403="false"
//
// Storage settings:
//
//	AGORA_DATABASE_URL="postgres://localhost/agora?sslmode=disable"
//	AGORA_DATABASE_REPLICA_URLS="postgres://replica1/agora,postgres://replica2/agora"
//	AGORA_REDIS_URL="redis://localhost:6379/0"
//
// Rate limiting and permissions:
//
//	AGORA_RATELIMIT_REQUESTS="100"
//	AGORA_RATELIMIT_WINDOW="1m"
//	AGORA_RBAC_PERMISSIONS_FILE="/etc/agora/permissions.yaml"
//	AGORA_RBAC_CACHE_TTL="1m"
//
// Identity providers:
//
//	AGORA_OAUTH_PROVIDERS="okta"
//	AGORA_OAUTH_OKTA_KIND="oidc"
//	AGORA_OAUTH_OKTA_ISSUER_URL="https://example.okta.com"
//	AGORA_OAUTH_OKTA_CLIENT_ID="..."
//	AGORA_OAUTH_OKTA_CLIENT_SECRET="..."
//	AGORA_OAUTH_OKTA_REDIRECT_URL="https://agora.example.com/auth/oauth/okta/callback"
//
// Observability settings:
//
//	AGORA_LOG_LEVEL="info"  # debug, info, warn, error
//	AGORA_METRICS_ENABLED="true"
//	AGORA_OTEL_ENABLED="true"
//	AGORA_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

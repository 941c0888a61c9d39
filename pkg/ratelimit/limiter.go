// Package ratelimit implements a fixed-window request counter shared by all
// instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/agora/pkg/observability"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 100
	// DefaultWindow is the length of a counting window.
	DefaultWindow = time.Minute
	// KeyPrefix is prepended to every counter key.
	KeyPrefix = "ratelimit"
)

// Outcome is the result of a single limiter check.
type Outcome int

const (
	// Allowed means the request is within the window budget.
	Allowed Outcome = iota
	// Denied means the window budget is exhausted.
	Denied
	// StoreUnavailable means the counter store could not be reached and no
	// decision was made.
	StoreUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "store_unavailable"
	}
}

// Decision is the detailed result of Check.
type Decision struct {
	Outcome   Outcome
	Count     int64
	Limit     int
	Remaining int
	ResetIn   time.Duration
	Err       error
}

// Config holds limiter thresholds. They are read once at construction.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig returns 100 requests per minute.
func DefaultConfig() Config {
	return Config{Limit: DefaultLimit, Window: DefaultWindow}
}

// Limiter counts requests per identifier and endpoint in fixed windows.
//
// The counter is incremented with INCR and the window expiry is set with a
// separate EXPIRE when the count is 1. The two calls are not atomic: under
// concurrent first requests the expiry can land slightly after the first
// increment, so windows are only approximately fixed. A key left without an
// expiry (a crash between the two calls) is repaired on its next denied check.
type Limiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	logger *observability.Logger
}

// NewLimiter creates a limiter. Zero config values fall back to defaults.
func NewLimiter(client *redis.Client, cfg Config, logger *observability.Logger) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Limiter{
		redis:  client,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: logger,
	}
}

// Key returns the counter key for identifier and endpoint.
func Key(identifier, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", KeyPrefix, identifier, endpoint)
}

// Limit returns the configured requests per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Check counts one request and reports the decision. Store failures are
// reported as StoreUnavailable with Err set; the caller picks the policy.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string) Decision {
	key := Key(identifier, endpoint)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return l.unavailable(fmt.Errorf("incr %s: %w", key, err))
	}

	resetIn := l.window
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			// the count landed; the next denied check repairs the expiry
			l.logger.WithError(err).WithField("key", key).Warn("Failed to set rate limit window expiry")
		}
	} else if ttl, err := l.redis.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		resetIn = ttl
	}

	d := Decision{
		Outcome:   Allowed,
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining(l.limit, count),
		ResetIn:   resetIn,
	}
	if count > int64(l.limit) {
		d.Outcome = Denied
		l.repairExpiry(ctx, key)
	}
	return d
}

// IsAllowed applies the fail-open policy: only an explicit denial returns
// false. Store failures are logged and allowed.
func (l *Limiter) IsAllowed(ctx context.Context, identifier, endpoint string) bool {
	d := l.Check(ctx, identifier, endpoint)
	if d.Outcome == StoreUnavailable {
		l.logger.WithError(d.Err).
			WithFields(map[string]interface{}{"identifier": identifier, "endpoint": endpoint}).
			Warn("Rate limit store unavailable, allowing request")
		return true
	}
	return d.Outcome == Allowed
}

// Remaining returns the number of requests left in the current window
// without counting one.
func (l *Limiter) Remaining(ctx context.Context, identifier, endpoint string) (int, error) {
	count, err := l.redis.Get(ctx, Key(identifier, endpoint)).Int64()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, err
	}
	return remaining(l.limit, count), nil
}

// Reset clears the counter (for testing or admin purposes).
func (l *Limiter) Reset(ctx context.Context, identifier, endpoint string) error {
	return l.redis.Del(ctx, Key(identifier, endpoint)).Err()
}

// HealthCheck checks if Redis is reachable
func (l *Limiter) HealthCheck(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}

func (l *Limiter) repairExpiry(ctx context.Context, key string) {
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl != -1 {
		return
	}
	if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
		l.logger.WithError(err).WithField("key", key).Warn("Failed to repair rate limit window expiry")
		return
	}
	l.logger.WithField("key", key).Info("Repaired rate limit counter without expiry")
}

func (l *Limiter) unavailable(err error) Decision {
	return Decision{
		Outcome:   StoreUnavailable,
		Limit:     l.limit,
		Remaining: l.limit,
		ResetIn:   l.window,
		Err:       err,
	}
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

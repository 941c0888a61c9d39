package async

import (
	"context"
	"time"

	"github.com/platinummonkey/agora/pkg/observability"
)

// DefaultTimeout bounds fire-and-forget tasks started from request handlers
const DefaultTimeout = 5 * time.Second

// SafeGo executes fn in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The task stops when parentCtx is cancelled, so request-scoped work should
// be given a detached context.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	logger := observability.FromContext(parentCtx).WithField("task", taskName)
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("Background task failed")
		}
	}()
}

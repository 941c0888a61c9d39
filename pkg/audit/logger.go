package audit

import (
	"context"

	"github.com/platinummonkey/agora/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Record fills request fields from ctx and logs event. Failures are
// returned for the caller to log; an audit failure never fails a request.
func Record(ctx context.Context, logger Logger, event *AuditEvent) error {
	if logger == nil || event == nil {
		return nil
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	return logger.Log(ctx, event)
}

// NoOpLogger discards every event
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that does nothing
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Log implements Logger
func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

// Close implements Logger
func (NoOpLogger) Close() error { return nil }

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes security events to the security_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates the table when missing and returns a logger over db
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure security_events table: %w", err)
	}
	return logger, nil
}

const securityEventsSchema = `
	CREATE TABLE IF NOT EXISTS security_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT,
		username VARCHAR(255),
		organization_id BIGINT,
		resource VARCHAR(64),
		action VARCHAR(64),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		path TEXT,
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_security_events_org_time ON security_events(organization_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_security_events_user_time ON security_events(user_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type);
`

func (l *DBLogger) ensureTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, securityEventsSchema)
	return err
}

const insertSecurityEvent = `
	INSERT INTO security_events (
		timestamp, event_type, status, user_id, username, organization_id,
		resource, action, ip_address, request_id, path, message, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id
`

// Log implements Logger and stores the generated id on event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err := l.db.QueryRowContext(ctx, insertSecurityEvent,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.UserID, event.Username, event.OrganizationID,
		event.Resource, event.Action, event.IPAddress, event.RequestID, event.Path,
		event.Message, metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// Close implements Logger. The database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

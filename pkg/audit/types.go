package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin         EventType = "auth.login"
	EventTypeAuthLoginFailed   EventType = "auth.login_failed"
	EventTypeAuthLogout        EventType = "auth.logout"
	EventTypeAuthTokenRefresh  EventType = "auth.token_refresh"
	EventTypeAuthTokenMismatch EventType = "auth.token_mismatch"

	// Authorization events
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzRateLimited      EventType = "authz.rate_limited"
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID         *int64 `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
}

// WithActor sets the user and organization of the event. Zero ids are left unset.
func (e *AuditEvent) WithActor(userID, orgID int64, username string) *AuditEvent {
	if userID > 0 {
		e.UserID = &userID
	}
	if orgID > 0 {
		e.OrganizationID = &orgID
	}
	e.Username = username
	return e
}

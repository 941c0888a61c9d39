package orgs

import (
	"context"
	"errors"
	"time"
)

// ErrOrganizationNotFound is returned for unknown organization ids
var ErrOrganizationNotFound = errors.New("organization not found")

// Organization is a tenant of the platform
type Organization struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership is one role a user holds in an organization
type Membership struct {
	OrganizationID int64     `json:"organization_id"`
	Slug           string    `json:"slug"`
	Role           string    `json:"role"`
	IsPrimary      bool      `json:"is_primary"`
	JoinedAt       time.Time `json:"joined_at"`
}

// Directory resolves organizations for tenant binding
type Directory interface {
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
}

package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory implements Directory over the organizations table
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// GetOrganization retrieves an organization by ID
func (d *PostgresDirectory) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `
		SELECT id, slug, name, is_active, created_at
		FROM organizations
		WHERE id = $1
	`
	return d.scan(d.db.QueryRowContext(ctx, query, id))
}

// GetOrganizationBySlug retrieves an organization by slug
func (d *PostgresDirectory) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	query := `
		SELECT id, slug, name, is_active, created_at
		FROM organizations
		WHERE slug = $1
	`
	return d.scan(d.db.QueryRowContext(ctx, query, slug))
}

func (d *PostgresDirectory) scan(row *sql.Row) (*Organization, error) {
	org := &Organization{}
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.IsActive, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Memberships lists the organizations a user belongs to, one entry per role
func (d *PostgresDirectory) Memberships(ctx context.Context, userID int64) ([]*Membership, error) {
	query := `
		SELECT m.organization_id, o.slug, m.role, m.is_primary, m.joined_at
		FROM organization_members m
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1 AND o.is_active = TRUE
		ORDER BY m.organization_id ASC, m.is_primary DESC, m.joined_at ASC
	`
	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.OrganizationID, &m.Slug, &m.Role, &m.IsPrimary, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

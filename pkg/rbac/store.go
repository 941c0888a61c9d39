package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps the permission table in the role_permissions table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new RBAC store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Allowed implements Lookup
func (s *SQLStore) Allowed(ctx context.Context, tenantID int64, roleID string, resource Resource, action Action) (bool, error) {
	query := `
		SELECT allowed
		FROM role_permissions
		WHERE organization_id = $1 AND role_id = $2 AND resource = $3 AND action = $4
	`

	var allowed bool
	err := s.db.QueryRowContext(ctx, query, tenantID, roleID, string(resource), string(action)).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query role permission: %w", err)
	}
	return allowed, nil
}

// Grant inserts or updates a row
func (s *SQLStore) Grant(ctx context.Context, rp RolePermission) error {
	if rp.TenantID <= 0 || rp.RoleID == "" || rp.Resource == "" || rp.Action == "" {
		return fmt.Errorf("incomplete role permission %+v", rp)
	}

	query := `
		INSERT INTO role_permissions (organization_id, role_id, resource, action, allowed, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, role_id, resource, action)
		DO UPDATE SET allowed = EXCLUDED.allowed, granted_at = EXCLUDED.granted_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rp.TenantID, rp.RoleID, string(rp.Resource), string(rp.Action), rp.Allowed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant role permission: %w", err)
	}
	return nil
}

// Revoke deletes a row. Revoking a missing row succeeds.
func (s *SQLStore) Revoke(ctx context.Context, tenantID int64, roleID string, perm Permission) error {
	query := `
		DELETE FROM role_permissions
		WHERE organization_id = $1 AND role_id = $2 AND resource = $3 AND action = $4
	`

	if _, err := s.db.ExecContext(ctx, query, tenantID, roleID, string(perm.Resource), string(perm.Action)); err != nil {
		return fmt.Errorf("failed to revoke role permission: %w", err)
	}
	return nil
}

// List returns every row of a tenant, optionally restricted to one role
func (s *SQLStore) List(ctx context.Context, tenantID int64, roleID string) ([]RolePermission, error) {
	query := `
		SELECT organization_id, role_id, resource, action, allowed
		FROM role_permissions
		WHERE organization_id = $1`
	args := []interface{}{tenantID}
	if roleID != "" {
		query += ` AND role_id = $2`
		args = append(args, roleID)
	}
	query += ` ORDER BY role_id, resource, action`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var out []RolePermission
	for rows.Next() {
		var rp RolePermission
		var resource, action string
		if err := rows.Scan(&rp.TenantID, &rp.RoleID, &resource, &action, &rp.Allowed); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		rp.Resource = Resource(resource)
		rp.Action = Action(action)
		out = append(out, rp)
	}
	return out, rows.Err()
}

// SeedDefaults grants BuiltInGrants in tenantID inside one transaction.
// Existing rows are overwritten.
func (s *SQLStore) SeedDefaults(ctx context.Context, tenantID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO role_permissions (organization_id, role_id, resource, action, allowed, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, role_id, resource, action)
		DO UPDATE SET allowed = EXCLUDED.allowed, granted_at = EXCLUDED.granted_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for role, perms := range BuiltInGrants() {
		for _, p := range perms {
			if _, err := stmt.ExecContext(ctx, tenantID, role, string(p.Resource), string(p.Action), true, now); err != nil {
				return fmt.Errorf("failed to seed %s %s: %w", role, p, err)
			}
		}
	}
	return tx.Commit()
}

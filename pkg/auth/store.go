package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrUserNotFound is returned by UserStore lookups for unknown users
var ErrUserNotFound = errors.New("user not found")

// UserStore looks up accounts and their roles
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	// RoleIDs returns the user's roles in an organization, primary role
	// first. An empty result means the user is not a member.
	RoleIDs(ctx context.Context, userID, orgID int64) ([]string, error)
}

// PostgresUserStore reads the users and organization_members tables
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a user store
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, email, full_name, password_hash, default_org_id, is_active, created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var fullName, passwordHash sql.NullString
	var defaultOrg sql.NullInt64
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &fullName, &passwordHash, &defaultOrg,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt, &lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.FullName = fullName.String
	user.PasswordHash = passwordHash.String
	user.DefaultOrgID = defaultOrg.Int64
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// FindByEmail retrieves a user by email, case-insensitively
func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

// FindByID retrieves a user by ID
func (s *PostgresUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// RoleIDs implements UserStore
func (s *PostgresUserStore) RoleIDs(ctx context.Context, userID, orgID int64) ([]string, error) {
	query := `
		SELECT role
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
		ORDER BY is_primary DESC, joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan member role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// RecordLogin stamps the last login time
func (s *PostgresUserStore) RecordLogin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a disposable PostgreSQL container with the RBAC schema
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("agora_test"),
		postgres.WithUsername("agora"),
		postgres.WithPassword("agora_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	_, err = RunMigrations(ctx, db)
	require.NoError(t, err)
	return db
}

func TestSQLStore_Postgres(t *testing.T) {
	store := NewSQLStore(setupPostgres(t))
	ctx := context.Background()

	require.NoError(t, store.SeedDefaults(ctx, 10))
	require.NoError(t, store.Grant(ctx, RolePermission{TenantID: 10, RoleID: RoleMember, Resource: ResourcePost, Action: ActionCreate, Allowed: false}))

	e := NewEvaluator(NewCachedLookup(store, 128, time.Minute))
	ctx10 := boundContext(t, 10)

	assert.False(t, e.HasPermission(ctx10, principal(10, RoleMember), ResourcePost, ActionCreate))
	assert.True(t, e.HasPermission(ctx10, principal(10, RoleMember, RoleModerator), ResourcePost, ActionCreate))
	assert.False(t, e.HasPermission(boundContext(t, 20), principal(20, RoleOwner), ResourcePost, ActionCreate))

	rows, err := store.List(ctx, 10, RoleMember)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
}

package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/tenant"
)

type memoryAudit struct {
	events []*audit.AuditEvent
}

func (m *memoryAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memoryAudit) Close() error { return nil }

// bindTenant stands in for the authentication pipeline
func bindTenant(tenantID int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, scope := tenant.NewScope(r.Context())
			defer scope.Clear()
			if tenantID > 0 {
				scope.Set(tenantID)
			}
			ctx = auth.WithPrincipal(ctx, &auth.Principal{UserID: 3, TenantID: tenantID, RoleIDs: []string{RoleOwner}, Email: "owner@example.com"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestRouter(t *testing.T, tenantID int64) (*mux.Router, *SQLStore, *memoryAudit, *int) {
	t.Helper()
	store := NewSQLStore(setupTestDB(t))
	auditLog := &memoryAudit{}
	changes := 0

	h := NewHandlers(store, auditLog, httputil.NewProblemWriter("", false), func() { changes++ })
	router := mux.NewRouter()
	router.Use(bindTenant(tenantID))
	for _, route := range h.Routes() {
		router.HandleFunc(route.Path, route.Handler).Methods(route.Method)
	}
	return router, store, auditLog, &changes
}

func TestHandlers_GrantListRevoke(t *testing.T) {
	router, store, auditLog, changes := newTestRouter(t, 10)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/rbac/roles/member/permissions/post:moderate", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ok, err := store.Allowed(context.Background(), 10, RoleMember, ResourcePost, ActionModerate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, *changes)
	require.Len(t, auditLog.events, 1)
	assert.Equal(t, audit.EventTypeAuthzPermissionGrant, auditLog.events[0].EventType)
	assert.Equal(t, int64(3), *auditLog.events[0].UserID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/rbac/roles/member/permissions/post:delete", strings.NewReader(`{"allowed":false}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rbac/roles/member/permissions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []RolePermission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Allowed, "post:delete sorts first")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/rbac/roles/member/permissions/post:moderate", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	ok, err = store.Allowed(context.Background(), 10, RoleMember, ResourcePost, ActionModerate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, *changes)
}

func TestHandlers_InvalidPermission(t *testing.T) {
	router, _, _, changes := newTestRouter(t, 10)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/rbac/roles/member/permissions/nocolon", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"REQ_001"`)
	assert.Zero(t, *changes)
}

func TestHandlers_SeedDefaults(t *testing.T) {
	router, _, _, _ := newTestRouter(t, 10)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rbac/permissions/defaults", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var rows []RolePermission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, int64(10), row.TenantID)
	}
}

func TestHandlers_RequireTenant(t *testing.T) {
	router, _, _, _ := newTestRouter(t, 0)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rbac/permissions", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"SYS_001"`)
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/audit"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/orgs"
	"github.com/platinummonkey/agora/pkg/ratelimit"
	"github.com/platinummonkey/agora/pkg/rbac"
	"github.com/platinummonkey/agora/pkg/tenant"
	"github.com/platinummonkey/agora/pkg/token"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// members answers Authenticate from a fixed membership table
type members map[[2]int64][]string

func (m members) Authenticate(ctx context.Context, claims *token.Claims, tenantID int64) (*auth.Principal, error) {
	if tenantID <= 0 {
		tenantID = claims.Tenant()
	}
	roles := m[[2]int64{claims.UserID, tenantID}]
	if len(roles) == 0 {
		return nil, apperrors.TenantForbidden(fmt.Sprintf("not a member of organization %d", tenantID))
	}
	return &auth.Principal{UserID: claims.UserID, TenantID: tenantID, RoleIDs: roles, Email: claims.Subject()}, nil
}

type directory map[int64]*orgs.Organization

func (d directory) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	if org, ok := d[id]; ok {
		return org, nil
	}
	return nil, orgs.ErrOrganizationNotFound
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, e *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

type fixture struct {
	pipeline *Pipeline
	codec    *token.Codec
	mr       *miniredis.Miniredis
	audit    *recordingAudit
}

func newFixture(t *testing.T, limit int, opts ...Option) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	codec, err := token.NewCodec(testKey)
	require.NoError(t, err)

	authn := members{
		{1, 10}: {rbac.RoleMember},
		{2, 10}: {rbac.RoleMember, rbac.RoleModerator},
		{3, 20}: {rbac.RoleOwner},
	}
	dir := directory{
		10: {ID: 10, Slug: "acme", IsActive: true},
		20: {ID: 20, Slug: "globex", IsActive: true},
		30: {ID: 30, Slug: "initech", IsActive: false},
	}
	rec := &recordingAudit{}
	limiter := ratelimit.NewLimiter(client, ratelimit.Config{Limit: limit, Window: time.Minute}, nil)

	base := []Option{WithDirectory(dir), WithRateLimiter(limiter), WithAuditLogger(rec)}
	p := NewPipeline(codec, authn, rbac.NewEvaluator(rbac.NewDefaultTable()),
		httputil.NewProblemWriter("https://api.example.com", false), append(base, opts...)...)

	return &fixture{pipeline: p, codec: codec, mr: mr, audit: rec}
}

func (f *fixture) bearer(t *testing.T, userID, tenantID int64) string {
	t.Helper()
	raw, _, err := f.codec.IssueAccessToken(token.Identity{
		UserID:   userID,
		TenantID: tenantID,
		Email:    fmt.Sprintf("user%d@example.com", userID),
		Role:     rbac.RoleMember,
	})
	require.NoError(t, err)
	return "Bearer " + raw
}

type seen struct {
	TenantID  int64 `json:"tenantId"`
	UserID    int64 `json:"userId"`
	Anonymous bool  `json:"anonymous"`
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s seen
		s.TenantID, _ = tenant.Get(r.Context())
		if p, ok := PrincipalFromContext(r.Context()); ok {
			s.UserID = p.UserID
		} else {
			s.Anonymous = true
		}
		_ = httputil.WriteJSON(w, http.StatusOK, s)
	})
}

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func problemCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var p httputil.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p), w.Body.String())
	return p.Code
}

func decodeSeen(t *testing.T, w *httptest.ResponseRecorder) seen {
	t.Helper()
	var s seen
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return s
}

func perm(s string) *rbac.Permission {
	p, err := rbac.ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return &p
}

func TestPipeline_TenantResolution(t *testing.T) {
	f := newFixture(t, 100)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "test"})(echoHandler())

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		code    string
	}{
		{"malformed header", map[string]string{OrgIDHeader: "abc", "Authorization": f.bearer(t, 1, 10)}, http.StatusBadRequest, "TENANT_001"},
		{"zero header", map[string]string{OrgIDHeader: "0"}, http.StatusBadRequest, "TENANT_001"},
		{"negative header", map[string]string{OrgIDHeader: "-5"}, http.StatusBadRequest, "TENANT_001"},
		{"missing tenant", nil, http.StatusBadRequest, "TENANT_002"},
		{"unknown organization", map[string]string{OrgIDHeader: "99", "Authorization": f.bearer(t, 1, 10)}, http.StatusNotFound, "TENANT_004"},
		{"inactive organization", map[string]string{OrgIDHeader: "30", "Authorization": f.bearer(t, 1, 10)}, http.StatusForbidden, "TENANT_003"},
		{"not a member", map[string]string{OrgIDHeader: "20", "Authorization": f.bearer(t, 1, 10)}, http.StatusForbidden, "TENANT_003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, http.MethodGet, "/things", tt.headers)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, problemCode(t, w))
			assert.Equal(t, httputil.ProblemContentType, w.Header().Get("Content-Type"))
		})
	}
}

func TestPipeline_TenantFromClaim(t *testing.T) {
	f := newFixture(t, 100)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "test"})(echoHandler())

	w := serve(h, http.MethodGet, "/things", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, seen{TenantID: 10, UserID: 1}, decodeSeen(t, w))

	w = serve(h, http.MethodGet, "/things", map[string]string{"Authorization": f.bearer(t, 3, 10), OrgIDHeader: "20"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, seen{TenantID: 20, UserID: 3}, decodeSeen(t, w), "header wins over claim")
}

func TestPipeline_Authentication(t *testing.T) {
	f := newFixture(t, 100)
	protected := f.pipeline.Protect(RoutePolicy{Endpoint: "protected"})(echoHandler())
	anonymous := f.pipeline.Protect(RoutePolicy{Endpoint: "anon", Anonymous: true, PlatformGlobal: true})(echoHandler())

	w := serve(protected, http.MethodGet, "/", map[string]string{OrgIDHeader: "10"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_005", problemCode(t, w))

	w = serve(protected, http.MethodGet, "/", map[string]string{OrgIDHeader: "10", "Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", problemCode(t, w))

	w = serve(protected, http.MethodGet, "/", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, "AUTH_001", problemCode(t, w), "token error is reported when it was the only tenant source")

	w = serve(protected, http.MethodGet, "/", map[string]string{OrgIDHeader: "10", "Authorization": "Basic dXNlcjpwYXNz"})
	assert.Equal(t, "AUTH_001", problemCode(t, w))

	w = serve(anonymous, http.MethodGet, "/", map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeSeen(t, w).Anonymous)

	w = serve(anonymous, http.MethodGet, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seen{TenantID: 10, UserID: 1}, decodeSeen(t, w))
}

func TestPipeline_ExpiredToken(t *testing.T) {
	f := newFixture(t, 100)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "test"})(echoHandler())

	old, err := token.NewCodec(testKey, token.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	require.NoError(t, err)
	raw, _, err := old.IssueAccessToken(token.Identity{UserID: 1, TenantID: 10, Email: "user1@example.com", Role: "member"})
	require.NoError(t, err)

	w := serve(h, http.MethodGet, "/", map[string]string{OrgIDHeader: "10", "Authorization": "Bearer " + raw})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_002", problemCode(t, w))
}

func TestPipeline_PlatformGlobal(t *testing.T) {
	f := newFixture(t, 100)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "global", Anonymous: true, PlatformGlobal: true})(echoHandler())

	w := serve(h, http.MethodPost, "/auth/login", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, seen{Anonymous: true}, decodeSeen(t, w))

	w = serve(h, http.MethodPost, "/auth/login", map[string]string{OrgIDHeader: "x"})
	assert.Equal(t, "TENANT_001", problemCode(t, w), "a supplied tenant is still validated")
}

func TestPipeline_Permissions(t *testing.T) {
	f := newFixture(t, 100)
	deletePost := f.pipeline.Protect(RoutePolicy{Endpoint: "delete-post", Permission: perm("post:delete")})(echoHandler())
	readPost := f.pipeline.Protect(RoutePolicy{Endpoint: "read-post", Permission: perm("post:read")})(echoHandler())

	w := serve(readPost, http.MethodGet, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(deletePost, http.MethodDelete, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ACCESS_001", problemCode(t, w))

	w = serve(deletePost, http.MethodDelete, "/", map[string]string{"Authorization": f.bearer(t, 2, 10)})
	assert.Equal(t, http.StatusOK, w.Code, "moderator role grants what member lacks")

	assert.Eventually(t, func() bool {
		f.audit.mu.Lock()
		defer f.audit.mu.Unlock()
		return len(f.audit.events) == 1
	}, time.Second, 10*time.Millisecond)
	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, f.audit.events[0].EventType)
	assert.Equal(t, "post", f.audit.events[0].Resource)
}

func TestPipeline_PermissionLookupFailure(t *testing.T) {
	codec, err := token.NewCodec(testKey)
	require.NoError(t, err)

	failing := rbac.LookupFunc(func(ctx context.Context, tenantID int64, roleID string, resource rbac.Resource, action rbac.Action) (bool, error) {
		return false, errors.New("permission store down")
	})
	p := NewPipeline(codec, members{{1, 10}: {"member"}}, rbac.NewEvaluator(failing),
		httputil.NewProblemWriter("https://api.example.com", false))
	h := p.Protect(RoutePolicy{Endpoint: "x", Permission: perm("post:read")})(echoHandler())

	raw, _, err := codec.IssueAccessToken(token.Identity{UserID: 1, TenantID: 10, Email: "user1@example.com", Role: "member"})
	require.NoError(t, err)

	w := serve(h, http.MethodGet, "/", map[string]string{"Authorization": "Bearer " + raw})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SYS_002", problemCode(t, w))
}

func TestPipeline_RateLimit(t *testing.T) {
	f := newFixture(t, 2)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "limited", Anonymous: true, PlatformGlobal: true})(echoHandler())

	for i := 0; i < 2; i++ {
		w := serve(h, http.MethodGet, "/", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(1-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := serve(h, http.MethodGet, "/", map[string]string{"X-Forwarded-For": "203.0.113.7"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "ACCESS_002", problemCode(t, w))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = serve(h, http.MethodGet, "/", map[string]string{"X-Forwarded-For": "198.51.100.1"})
	assert.Equal(t, http.StatusOK, w.Code, "other clients have their own window")

	assert.True(t, f.mr.Exists("ratelimit:ip:203.0.113.7:limited"))

	f.mr.FastForward(time.Minute + time.Second)
	w = serve(h, http.MethodGet, "/", map[string]string{"X-Forwarded-For": "203.0.113.7"})
	assert.Equal(t, http.StatusOK, w.Code, "next window")
}

func TestPipeline_RateLimitPerUser(t *testing.T) {
	f := newFixture(t, 1)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "me"})(echoHandler())

	w := serve(h, http.MethodGet, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.mr.Exists("ratelimit:user:1:me"))

	w = serve(h, http.MethodGet, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestPipeline_RateLimitLegacyStatus(t *testing.T) {
	f := newFixture(t, 1)
	f.pipeline.problems = httputil.NewProblemWriter("https://api.example.com", true)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "legacy", Anonymous: true, PlatformGlobal: true})(echoHandler())

	serve(h, http.MethodGet, "/", nil)
	w := serve(h, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ACCESS_002", problemCode(t, w))
}

func TestPipeline_RateLimitStoreUnavailable(t *testing.T) {
	f := newFixture(t, 1)
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "down", Anonymous: true, PlatformGlobal: true})(echoHandler())
	f.mr.SetError("ERR simulated outage")

	for i := 0; i < 3; i++ {
		w := serve(h, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestPipeline_EndpointFromRouteTemplate(t *testing.T) {
	f := newFixture(t, 100)
	router := mux.NewRouter()
	router.Handle("/things/{id}", f.pipeline.Protect(RoutePolicy{Anonymous: true, PlatformGlobal: true})(echoHandler()))

	r := httptest.NewRequest(http.MethodGet, "/things/42", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.mr.Exists("ratelimit:ip:192.0.2.1:/things/{id}"))
}

func TestPipeline_ScopeClearedAfterRequest(t *testing.T) {
	f := newFixture(t, 100)

	var captured *tenant.Scope
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "scope"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = tenant.FromContext(r.Context())
		id, err := tenant.Required(r.Context())
		require.NoError(t, err)
		assert.Equal(t, int64(10), id)
	}))

	w := serve(h, http.MethodGet, "/", map[string]string{"Authorization": f.bearer(t, 1, 10)})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	_, bound := captured.Get()
	assert.False(t, bound)
}

func TestPipeline_ScopeClearedOnPanic(t *testing.T) {
	f := newFixture(t, 100)

	var captured *tenant.Scope
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "panic"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = tenant.FromContext(r.Context())
		panic("handler exploded")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", f.bearer(t, 1, 10))
	assert.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), r) })

	require.NotNil(t, captured)
	_, bound := captured.Get()
	assert.False(t, bound)
}

func TestPipeline_ConcurrentTenantsAreIsolated(t *testing.T) {
	f := newFixture(t, 1000)

	var mismatches atomic.Int32
	h := f.pipeline.Protect(RoutePolicy{Endpoint: "iso", Anonymous: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := r.Header.Get(OrgIDHeader)
		for i := 0; i < 50; i++ {
			id, _ := tenant.Get(r.Context())
			if fmt.Sprint(id) != want {
				mismatches.Add(1)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, id := range []string{"10", "20"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				serve(h, http.MethodGet, "/", map[string]string{OrgIDHeader: id})
			}(id)
		}
	}
	wg.Wait()

	assert.Zero(t, mismatches.Load())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "192.0.2.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "192.0.2.1:80", "198.51.100.2"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "198.51.100.3"}, "192.0.2.1:80", "198.51.100.3"},
		{"true client ip", map[string]string{"True-Client-IP": "198.51.100.4"}, "192.0.2.1:80", "198.51.100.4"},
		{"peer address", nil, "192.0.2.1:80", "192.0.2.1"},
		{"peer without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 43, retryAfterSeconds(42*time.Second+time.Millisecond))
}

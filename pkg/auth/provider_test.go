package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuth2Server(t *testing.T, userInfo map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"provider-access","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(userInfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func oauth2Config(srv *httptest.Server) ProviderConfig {
	return ProviderConfig{
		Name:         "github",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/oauth/github/callback",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	}
}

func TestOAuth2Provider_Exchange(t *testing.T) {
	srv := newOAuth2Server(t, map[string]interface{}{
		"id":             float64(4242),
		"email":          "User@Example.com",
		"name":           "Test User",
		"email_verified": true,
	})

	p, err := NewOAuth2Provider(oauth2Config(srv))
	require.NoError(t, err)
	assert.Equal(t, "github", p.Name())

	identity, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Identity{
		Provider: "github",
		Subject:  "4242",
		Email:    "user@example.com",
		Name:     "Test User",
		Verified: true,
	}, identity)

	_, err = p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)

	_, err = p.Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestOAuth2Provider_MissingEmail(t *testing.T) {
	srv := newOAuth2Server(t, map[string]interface{}{"sub": "abc"})

	p, err := NewOAuth2Provider(oauth2Config(srv))
	require.NoError(t, err)

	_, err = p.Exchange(context.Background(), "good-code")
	assert.ErrorContains(t, err, "missing email")
}

func TestOAuth2Provider_AuthCodeURL(t *testing.T) {
	srv := newOAuth2Server(t, nil)
	p, err := NewOAuth2Provider(oauth2Config(srv))
	require.NoError(t, err)

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "email profile", u.Query().Get("scope"))
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"missing name", ProviderConfig{ClientID: "c", ClientSecret: "s", RedirectURL: "r"}},
		{"missing client id", ProviderConfig{Name: "n", ClientSecret: "s", RedirectURL: "r"}},
		{"missing secret", ProviderConfig{Name: "n", ClientID: "c", RedirectURL: "r"}},
		{"missing redirect", ProviderConfig{Name: "n", ClientID: "c", ClientSecret: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}

	_, err := NewOAuth2Provider(ProviderConfig{Name: "n", ClientID: "c", ClientSecret: "s", RedirectURL: "r"})
	assert.Error(t, err, "endpoints are required")
}

func TestOIDCProvider_Discovery(t *testing.T) {
	var issuer string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"jwks_uri":               issuer + "/keys",
			"userinfo_endpoint":      issuer + "/userinfo",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	issuer = srv.URL

	p, err := NewOIDCProvider(context.Background(), ProviderConfig{
		Name:         "okta",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/oauth/okta/callback",
		IssuerURL:    issuer,
	})
	require.NoError(t, err)
	assert.Equal(t, "okta", p.Name())

	u, err := url.Parse(p.AuthCodeURL("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "openid email profile", u.Query().Get("scope"))

	_, err = p.Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestOIDCProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := NewOIDCProvider(context.Background(), ProviderConfig{
		Name: "okta", ClientID: "c", ClientSecret: "s", RedirectURL: "r", IssuerURL: srv.URL,
	})
	assert.Error(t, err)

	_, err = NewOIDCProvider(context.Background(), ProviderConfig{Name: "okta", ClientID: "c", ClientSecret: "s", RedirectURL: "r"})
	assert.ErrorContains(t, err, "issuer_url")
}

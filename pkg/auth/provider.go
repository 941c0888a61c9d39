package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// IdentityProvider exchanges an authorization code for an identity. The
// protocol handshake stays inside the provider; the service only sees the
// resulting Identity.
type IdentityProvider interface {
	// Name returns the provider name used in routes
	Name() string

	// AuthCodeURL returns the URL the user is redirected to
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the user's identity
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// ProviderConfig configures an OAuth2 or OIDC provider
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// OAuth2 only
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// OIDC only
	IssuerURL string
}

// Validate checks the fields shared by both provider kinds
func (c *ProviderConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("provider name is required")
	case c.ClientID == "":
		return fmt.Errorf("client_id is required")
	case c.ClientSecret == "":
		return fmt.Errorf("client_secret is required")
	case c.RedirectURL == "":
		return fmt.Errorf("redirect_url is required")
	}
	return nil
}

// OAuth2Provider implements plain OAuth2 with a userinfo endpoint
type OAuth2Provider struct {
	name         string
	userInfoURL  string
	oauth2Config *oauth2.Config
}

// NewOAuth2Provider creates a new OAuth2 provider
func NewOAuth2Provider(cfg ProviderConfig) (*OAuth2Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("auth_url, token_url and user_info_url are required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"email", "profile"}
	}

	return &OAuth2Provider{
		name:        cfg.Name,
		userInfoURL: cfg.UserInfoURL,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      scopes,
		},
	}, nil
}

// Name implements IdentityProvider
func (p *OAuth2Provider) Name() string { return p.name }

// AuthCodeURL implements IdentityProvider
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange implements IdentityProvider
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.oauth2Config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return identityFromClaims(p.name, info)
}

// OIDCProvider implements OpenID Connect
type OIDCProvider struct {
	name         string
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and creates a new OIDC provider
func NewOIDCProvider(ctx context.Context, cfg ProviderConfig) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer_url is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &OIDCProvider{
		name:     cfg.Name,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// Name implements IdentityProvider
func (p *OIDCProvider) Name() string { return p.name }

// AuthCodeURL implements IdentityProvider
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

// Exchange implements IdentityProvider
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	tok, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return identityFromClaims(p.name, claims)
}

// identityFromClaims maps standard OIDC claim names; OAuth2 userinfo
// endpoints of the common providers use the same names.
func identityFromClaims(provider string, claims map[string]interface{}) (*Identity, error) {
	id := &Identity{
		Provider: provider,
		Subject:  stringClaim(claims, "sub"),
		Email:    strings.ToLower(stringClaim(claims, "email")),
		Name:     stringClaim(claims, "name"),
	}
	if id.Subject == "" {
		id.Subject = stringClaim(claims, "id")
	}
	if v, ok := claims["email_verified"].(bool); ok {
		id.Verified = v
	}

	if id.Subject == "" {
		return nil, fmt.Errorf("missing subject in %s response", provider)
	}
	if id.Email == "" {
		return nil, fmt.Errorf("missing email in %s response", provider)
	}
	return id, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/agora/pkg/apperrors"
	"github.com/platinummonkey/agora/pkg/auth"
	"github.com/platinummonkey/agora/pkg/httputil"
	"github.com/platinummonkey/agora/pkg/observability"
	"github.com/platinummonkey/agora/pkg/tenant"
)

const (
	// StateCookieName holds the OAuth state between redirect and callback
	StateCookieName = "agora_oauth_state"

	stateCookieTTL = 10 * time.Minute
)

func (s *Server) provider(w http.ResponseWriter, r *http.Request) (auth.IdentityProvider, bool) {
	name, err := httputil.ParsePathString(r, "provider")
	if err != nil {
		s.problems.Write(w, r, err)
		return nil, false
	}
	p, ok := s.providers[name]
	if !ok {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown identity provider %q", name)})
		return nil, false
	}
	return p, true
}

// oauthLogin handles GET /auth/oauth/{provider}/login by redirecting to the
// provider with a fresh state value.
func (s *Server) oauthLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/auth/oauth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
}

// oauthCallback handles GET /auth/oauth/{provider}/callback. The state must
// match the cookie set by oauthLogin; the identity must belong to an
// existing account.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := s.provider(w, r)
	if !ok {
		return
	}

	cookie, err := r.Cookie(StateCookieName)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		s.problems.Write(w, r, apperrors.InvalidRequest("invalid oauth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/auth/oauth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	if reason := r.URL.Query().Get("error"); reason != "" {
		observability.FromContext(ctx).WithField("provider", p.Name()).Warnf("Identity provider returned error: %s", reason)
		s.problems.Write(w, r, apperrors.InvalidCredentials())
		return
	}

	identity, err := p.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("provider", p.Name()).Warn("OAuth exchange failed")
		s.problems.Write(w, r, apperrors.InvalidCredentials())
		return
	}

	tenantID, _ := tenant.Get(ctx)
	pair, _, err := s.auth.LoginWithIdentity(ctx, identity, tenantID)
	if err != nil {
		s.problems.Write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

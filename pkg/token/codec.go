// Package token issues and verifies the HS256 access and refresh tokens that
// authenticate requests.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/agora/pkg/apperrors"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	// AccessTTL is the lifetime of an access token.
	AccessTTL = 15 * time.Minute
	// RefreshTTL is the lifetime of a refresh token.
	RefreshTTL = 7 * 24 * time.Hour
	// MinKeyLength is the minimum signing key size in bytes.
	MinKeyLength = 32
)

// Reasons attached to InvalidToken errors.
var (
	ErrMalformed     = errors.New("malformed")
	ErrSignature     = errors.New("signature")
	ErrWrongKind     = errors.New("wrong token type")
	ErrMissingClaims = errors.New("missing required claims")
)

// Identity is what an access token asserts about its bearer.
type Identity struct {
	UserID   int64
	TenantID int64
	Email    string
	Role     string
}

// Claims is the JWT payload shared by both token kinds.
type Claims struct {
	UserID int64  `json:"uid,omitempty"`
	OrgID  int64  `json:"org_id,omitempty"`
	Role   string `json:"role,omitempty"`
	Type   Kind   `json:"typ"`
	jwt.RegisteredClaims
}

// Subject returns the token subject (the principal's email).
func (c *Claims) Subject() string { return c.RegisteredClaims.Subject }

// Tenant returns the org the access token was issued for.
func (c *Claims) Tenant() int64 { return c.OrgID }

// Expiry returns the expiry instant.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// Codec signs and verifies tokens with one immutable key.
type Codec struct {
	key []byte
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec. Keys shorter than MinKeyLength are rejected.
func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyLength, len(key))
	}
	c := &Codec{
		key: append([]byte(nil), key...),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IssueAccessToken signs a 15 minute access token for id.
func (c *Codec) IssueAccessToken(id Identity) (string, time.Time, error) {
	if id.Email == "" {
		return "", time.Time{}, apperrors.InvalidRequest("access token requires a subject")
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(AccessTTL)
	claims := &Claims{
		UserID: id.UserID,
		OrgID:  id.TenantID,
		Role:   id.Role,
		Type:   KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a 7 day refresh token for subject.
func (c *Codec) IssueRefreshToken(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, apperrors.InvalidRequest("refresh token requires a subject")
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(RefreshTTL)
	claims := &Claims{
		Type: KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *Codec) sign(claims *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// Verify checks signature, expiry and token kind.
//
// Errors are classified so callers can tell a client to refresh
// (ExpiredToken) rather than re-authenticate (InvalidToken). The signature is
// checked before expiry, so an expired token with a forged signature is
// reported as invalid.
func (c *Codec) Verify(raw string, kind Kind) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	tkn, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return c.key, nil
	})
	switch {
	case err == nil && tkn.Valid:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperrors.ExpiredToken(err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, apperrors.InvalidToken(fmt.Errorf("%w: %v", ErrMalformed, err))
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, apperrors.InvalidToken(fmt.Errorf("%w: %v", ErrSignature, err))
	default:
		return nil, apperrors.InvalidToken(err)
	}

	if claims.Type != kind {
		return nil, apperrors.InvalidToken(fmt.Errorf("%w: want %s, got %q", ErrWrongKind, kind, claims.Type))
	}
	if claims.RegisteredClaims.Subject == "" {
		return nil, apperrors.InvalidToken(ErrMissingClaims)
	}
	if kind == KindAccess && (claims.UserID <= 0 || claims.OrgID <= 0) {
		return nil, apperrors.InvalidToken(ErrMissingClaims)
	}
	return &claims, nil
}

// Package auth authenticates users and manages their token sessions.
//
// # Overview
//
// A Service exchanges credentials for a TokenPair, refreshes access tokens
// against the single stored refresh token of a subject, and logs subjects
// out. External identity providers (OAuth2, OIDC) plug in through the
// IdentityProvider interface and end in LoginWithIdentity.
//
// # Principal
//
// A Principal is the identity attached to a request after its bearer token is
// verified:
//
//	principal := &auth.Principal{
//		UserID:   42,
//		TenantID: 10,
//		RoleIDs:  []string{"member"},
//		Email:    "user@example.com",
//	}
//
// # Login flow
//
//	pair, principal, err := svc.Login(ctx, "user@example.com", "secret", 10)
//	// pair.AccessToken expires in 15 minutes, pair.RefreshToken in 7 days
//
//	pair, principal, err = svc.Refresh(ctx, pair.RefreshToken, 10)
//	// errors.Is(err, apperrors.ErrTokenMismatch) once rotated or logged out
//
// Unknown users and wrong passwords both fail with InvalidCredentials, and
// both pay for a bcrypt comparison.
package auth

// Package session stores the single active refresh token of each subject.
//
// Exactly one refresh token is kept per subject. A new login overwrites the
// slot, so a refresh token issued to another device stops working.
package session

import (
	"context"
	"time"
)

// KeyPrefix is prepended to the subject to form the storage key.
const KeyPrefix = "refresh_token:"

// Key returns the storage key for subject.
func Key(subject string) string {
	return KeyPrefix + subject
}

// Store persists refresh tokens keyed by subject.
//
// Put overwrites any previous token. Delete of an absent subject succeeds.
// Get reports found=false without error when nothing is stored.
type Store interface {
	Put(ctx context.Context, subject, token string, ttl time.Duration) error
	Get(ctx context.Context, subject string) (token string, found bool, err error)
	Delete(ctx context.Context, subject string) error
	TTL(ctx context.Context, subject string) (time.Duration, error)
}

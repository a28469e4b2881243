// Package credentials holds the persisted session record and the store contract used by the
// session manager. The store is the only place a session token may be written.
package credentials

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Record is the single source of truth for who is signed in.
type Record struct {
	UserID         string         // Stable identifier from the identity provider
	Email          string         //
	DisplayName    string         //
	AvatarURL      string         // Optional
	SessionToken   Secret         // Backend bearer credential, never logged
	ExpiresAt      time.Time      // Zero means unknown
	BackendProfile map[string]any // Optional server payload
}

// IsExpired reports whether the record is past its expiry at now. A record with an
// unknown expiry is reported as expired.
func (r *Record) IsExpired(now time.Time) bool {
	if r == nil || r.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(r.ExpiresAt)
}

// Remaining returns the validity left at now, zero once expired.
func (r *Record) Remaining(now time.Time) time.Duration {
	if r.IsExpired(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// Clone returns a deep enough copy for whole-record replacement.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.BackendProfile != nil {
		c.BackendProfile = make(map[string]any, len(r.BackendProfile))
		for k, v := range r.BackendProfile {
			c.BackendProfile[k] = v
		}
	}
	return &c
}

// MarshalZerologObject logs the identity fields only.
func (r *Record) MarshalZerologObject(e *zerolog.Event) {
	e.Str("user_id", r.UserID).
		Str("email", r.Email).
		Time("expires_at", r.ExpiresAt)
}

// Store persists at most one Record. Operations are atomic with respect to each other.
type Store interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context) (*Record, error)

	// Put replaces the stored record as a whole.
	Put(ctx context.Context, record *Record) error

	// Clear removes the record. It is idempotent and does not fail when nothing is stored.
	Clear(ctx context.Context) error
}

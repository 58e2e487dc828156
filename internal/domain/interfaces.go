package domain

import (
	"context"
	"time"
)

// TokenStore persists the access token across process restarts.
type TokenStore interface {
	// Load returns the stored token, its stored-at time, and whether a
	// record existed. A missing record is not an error.
	Load() (AccessToken, time.Time, bool, error)
	// Save atomically replaces the stored record.
	Save(tok AccessToken) error
	// NearExpiry reports whether the stored token is close enough to the
	// end of its assumed lifetime that a full handshake should run.
	NearExpiry(now time.Time) bool
}

// SessionSource yields the shared live session, deriving or refreshing it
// as needed. Implementations must guarantee single-flight refresh.
type SessionSource interface {
	Session(ctx context.Context) (*LiveSession, error)
	// Invalidate discards sess if it is still the current session, forcing
	// the next Session call to re-derive. Stale handles are ignored so a
	// slow caller cannot blow away a session derived after its failure.
	Invalidate(sess *LiveSession)
}

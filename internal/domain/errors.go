package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used with errors.Is across the module.
var (
	// ErrNotFound is returned when a contract search matches nothing.
	ErrNotFound = errors.New("no matching contract")

	// ErrStaleData is returned when the venue marks a quote delayed beyond
	// the caller's tolerance.
	ErrStaleData = errors.New("quote is stale")

	// ErrAuthExpired marks a 401 received while a session was believed
	// Active. It triggers exactly one refresh cycle; a second 401 after
	// refresh escalates to HandshakeError.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrSignatureMismatch marks a failed verification of the server's
	// live-session proof. It is fatal: the handshake cannot be trusted and
	// must never be retried with the same inputs.
	ErrSignatureMismatch = errors.New("live session token signature mismatch")
)

// KeyMaterialError reports missing, malformed or under-strength key files.
// Fatal at startup; never retried.
type KeyMaterialError struct {
	Path string
	Err  error
}

func (e *KeyMaterialError) Error() string {
	return fmt.Sprintf("key material %s: %v", e.Path, e.Err)
}

func (e *KeyMaterialError) Unwrap() error { return e.Err }

// HandshakeError reports a token exchange rejected by the venue. Fatal,
// surfaced to the operator, not auto-retried.
type HandshakeError struct {
	Stage  string // "request_token", "access_token", "live_session"
	Status int    // HTTP status, 0 if not applicable
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("handshake %s rejected (HTTP %d): %v", e.Stage, e.Status, e.Err)
	}
	return fmt.Sprintf("handshake %s failed: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// TransientNetworkError wraps connection and timeout failures. These are the
// only errors the transport retries, and only for idempotent calls.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable under the retry budget.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// OrderRejectedError is a venue-level business rejection (for example
// insufficient margin). Surfaced verbatim to the caller, never retried.
type OrderRejectedError struct {
	Code   string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("order rejected [%s]: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

package intuis

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// AuthError indicates invalid or revoked credentials. It is never retried:
// polling for the account must stop until the user re-authenticates.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "auth: " + e.Reason + ": " + e.Err.Error()
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitedError indicates the cloud returned 429 and retries were
// exhausted. RetryAfter holds the server-specified delay, if any.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// APIError indicates a permanent client-side failure (4xx other than
// 401/429), or a malformed response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
	}
	return "api: " + e.Message
}

// transientError marks failures worth retrying: timeouts, 5xx responses,
// connection resets.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is worth retrying against this or another
// cluster endpoint.
func IsTransient(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

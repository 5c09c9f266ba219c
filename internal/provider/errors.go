package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors the relay maps onto distinct HTTP statuses. Anything else
// coming out of a Completer is treated as a generic upstream failure.
var (
	// ErrInvalidAPIKey: the upstream rejected our credential (HTTP 401).
	ErrInvalidAPIKey = errors.New("upstream API key is invalid")

	// ErrRateLimited: the upstream throttled us (HTTP 429).
	ErrRateLimited = errors.New("upstream rate limit exceeded")
)

// UpstreamError carries the status and best available diagnostic text from a
// failed upstream call.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream HTTP %d: %s", e.StatusCode, e.Message)
}

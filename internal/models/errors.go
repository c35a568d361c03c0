package models

import (
	"errors"
	"fmt"
)

// Error kinds for expected outcomes. Callers branch with errors.Is; only
// genuinely unexpected faults bubble up unwrapped.
var (
	// ErrConfiguration signals a missing or invalid required setting.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation signals a missing required input argument.
	ErrValidation = errors.New("validation error")

	// ErrModerationBlocked is a policy decision, not a fault.
	ErrModerationBlocked = errors.New("prompt blocked by moderation")

	// ErrTransport signals a network or HTTP failure after retries.
	ErrTransport = errors.New("transport error")

	// ErrEmptyResponse signals a successful call that yielded no usable text.
	ErrEmptyResponse = errors.New("empty response")

	// ErrPersistence signals a store read/write failure.
	ErrPersistence = errors.New("persistence error")
)

// APIError carries the last HTTP status and response body of a failed
// remote call for the operational log. It matches ErrTransport under
// errors.Is.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api request failed: %v", e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is marks every APIError as transport-kind, whether or not an inner
// cause is attached. The inner cause stays reachable through Unwrap.
func (e *APIError) Is(target error) bool {
	return target == ErrTransport
}

// ModerationError wraps ErrModerationBlocked with the flagged categories.
type ModerationError struct {
	Flagged []string
}

func (e *ModerationError) Error() string {
	return fmt.Sprintf("prompt blocked by moderation: %v", e.Flagged)
}

func (e *ModerationError) Unwrap() error {
	return ErrModerationBlocked
}

package engine

import (
	"errors"
	"fmt"
)

// FailureKind classifies engine failures for the scheduler's failover
// policy. The classification is made by the engine adapter, never by
// string-matching in the scheduler.
type FailureKind string

// Possible failure kinds.
const (
	// FailureInvalidInput marks caller errors; the scheduler never
	// retries these.
	FailureInvalidInput FailureKind = "invalid_input"

	// FailureSessionInvalid marks account-level authentication failures
	// (expired cookies, revoked API key). It puts the account into
	// cooldown and may trigger a single failover retry.
	FailureSessionInvalid FailureKind = "session_invalid"

	// FailureTimeout marks calls that exceeded the scheduler's deadline.
	// A timeout does not imply the account is unhealthy.
	FailureTimeout FailureKind = "timeout"

	// FailureUpstream marks transient upstream errors (5xx, rate limits,
	// network). A single occurrence does not trigger cooldown.
	FailureUpstream FailureKind = "upstream_error"
)

// Failure is a typed engine error. It wraps the underlying cause so
// callers can still unwrap, but scheduling decisions branch only on Kind.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("engine failure (%s): %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("engine failure (%s): %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, message string, err error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: err}
}

// AsFailure extracts a *Failure from an error chain. Errors that are not
// typed failures are reported as upstream failures so the scheduler
// never quarantines an account on an unclassified error.
func AsFailure(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	return &Failure{Kind: FailureUpstream, Message: "unclassified engine error", Err: err}
}

package pool

import "errors"

// Common errors returned by the pool.
var (
	// ErrCapacityExceeded is returned when the global concurrency limit
	// is saturated. Retryable by the caller after backoff.
	ErrCapacityExceeded = errors.New("global concurrency limit reached")

	// ErrNoAccountAvailable is returned when every account is disabled,
	// cooling down, or at its per-account limit. Distinct from
	// ErrCapacityExceeded so callers can report account health rather
	// than generic overload.
	ErrNoAccountAvailable = errors.New("no account available")

	// ErrUnknownAccount is returned when an account id is not in the pool.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNoAccounts is returned when account discovery finds no usable
	// credential bundle at all. This is fatal at startup.
	ErrNoAccounts = errors.New("no usable accounts loaded")

	// ErrInvalidPoolConfig is returned when the pool limits are invalid.
	ErrInvalidPoolConfig = errors.New("invalid pool configuration")
)

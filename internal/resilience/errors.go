package resilience

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: network trouble, timeouts,
// 429s, 5xx responses from a collaborator.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient satisfies the retriable marker interface.
func (e *TransientError) Transient() bool { return true }

// PermanentError marks a failure retrying cannot fix: malformed input,
// authorization failure, a 4xx contract violation.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// ValidationError means the input does not fit the current flow step. It is
// handled by re-prompting and is never a hard turn failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StateConflictError means two writers were observed for one PendingFlow.
// The per-user lock should make this unreachable; when seen, the store
// resolves last-writer-wins and records an audit entry.
type StateConflictError struct {
	UserID string
	Detail string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("pending flow conflict for user %s: %s", e.UserID, e.Detail)
}

// ErrCircuitOpen is returned when a dependency's breaker refuses the call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrRateLimited is returned when the per-user token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

type transient interface {
	Transient() bool
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient: the caller gave up, retrying would mutate stale state.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// Transientf wraps an error as transient.
func Transientf(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Permanentf wraps an error as permanent.
func Permanentf(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

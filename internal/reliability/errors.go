package reliability

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure for propagation and transport mapping.
type Kind string

const (
	// KindClient covers malformed or empty input and unknown/ended sessions.
	KindClient Kind = "client_error"
	// KindSessionBusy signals a concurrent turn on the same session.
	KindSessionBusy Kind = "session_busy"
	// KindUpstreamTransient is a retryable adapter failure (rate limit, timeout).
	KindUpstreamTransient Kind = "upstream_transient"
	// KindUpstreamPermanent is a non-retryable adapter failure (auth, bad request).
	KindUpstreamPermanent Kind = "upstream_permanent"
	// KindMemoryUnavailable means the note store is unreachable; never fatal to a turn.
	KindMemoryUnavailable Kind = "memory_unavailable"
	// KindInternal is an orchestrator invariant violation. Always logged, never masked.
	KindInternal Kind = "internal_invariant_violation"
)

// Error attaches a Kind to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a failure kind and the operation that produced it.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// uncategorized failures so they are never silently downgraded.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Retryable reports whether the failure is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindUpstreamTransient
}

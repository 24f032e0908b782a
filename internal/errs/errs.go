// Package errs defines the six error kinds the kernel distinguishes and the
// propagation policy around them: only Fatal ever terminates a session,
// everything else is recorded and execution continues.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a kernel error for the purposes of retry, rollback, and
// session termination policy.
type Kind int

const (
	// InvalidInput marks a malformed session config, axiom file, or triple on
	// ingest. Surfaced, no retry.
	InvalidInput Kind = iota
	// CapabilityTransient marks a LanguageModel or SourceAdapter transient
	// failure. The caller retries the specific call up to three times with
	// exponential backoff.
	CapabilityTransient
	// CapabilityPermanent marks a capability permanent failure. The in-flight
	// expansion is rolled back; the caller continues with the next selection.
	CapabilityPermanent
	// ParseFailure marks a variant or axiom response that could not be
	// parsed. Logged at warning severity; does not fail the session.
	ParseFailure
	// Contention marks two tasks racing to expand the same node. The loser
	// receives this and re-selects.
	Contention
	// Fatal marks an invariant violation (tier monotonicity, weight sum,
	// fingerprint collision across distinct triples). The session
	// transitions to failed and stops.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case CapabilityTransient:
		return "capability_transient"
	case CapabilityPermanent:
		return "capability_permanent"
	case ParseFailure:
		return "parse_failure"
	case Contention:
		return "contention"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the kernel's typed error, carrying a Kind alongside the usual
// message and optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a kernel error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kernel error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is (or wraps) a kernel error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

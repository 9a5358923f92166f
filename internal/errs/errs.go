// Package errs defines the error-kind taxonomy shared across the orchestrator.
// Components never return ad-hoc sentinel errors; they wrap a Kind so ORCH
// can decide retry, coercion, or user-visible-message policy without string
// matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the orchestrator's recovery policy.
type Kind string

const (
	TransientNetwork     Kind = "transient_network"
	RateLimited          Kind = "rate_limited"
	SymbolUnknown        Kind = "symbol_unknown"
	InsufficientData     Kind = "insufficient_data"
	PlanGenerationFailed Kind = "plan_generation_failed"
	NotAllowed           Kind = "not_allowed"
	LimitExceeded        Kind = "limit_exceeded"
	DatabaseError        Kind = "database_error"
)

// Error wraps an underlying cause with a Kind for policy dispatch.
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

// New builds a Kind-tagged error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a Kind, preserving it for errors.Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not tagged.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether ORCH should retry a work item that failed with err
// per the per-exchange fetch retry policy (TransientNetwork, RateLimited).
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == TransientNetwork || kind == RateLimited
}

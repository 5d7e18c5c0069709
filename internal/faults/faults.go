// Package faults defines the error kinds a protection journey can fail with.
//
// Every Failed journey carries exactly one of these kinds in its history.
// None of them is retried by the engine itself: a caller that wants another
// attempt resubmits a fresh transaction with a new identifier.
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure.
type Kind string

const (
	// KindInvalidTransaction: malformed input, fatal to that transaction.
	KindInvalidTransaction Kind = "invalid_transaction"
	// KindUnsupportedMeasure: selector and applicator disagree, a configuration defect.
	KindUnsupportedMeasure Kind = "unsupported_measure"
	// KindExecutionTimeout: the execution collaborator did not answer in time.
	KindExecutionTimeout Kind = "execution_timeout"
	// KindExecutionReverted: the execution collaborator reported failure.
	KindExecutionReverted Kind = "execution_reverted"
)

// Error is a classified failure. Two Errors match under errors.Is when their
// kinds are equal, so callers can test against the sentinels below.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality with another *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidTransaction = &Error{Kind: KindInvalidTransaction, Message: "invalid transaction"}
	ErrUnsupportedMeasure = &Error{Kind: KindUnsupportedMeasure, Message: "unsupported protection measure"}
	ErrExecutionTimeout   = &Error{Kind: KindExecutionTimeout, Message: "execution timed out"}
	ErrExecutionReverted  = &Error{Kind: KindExecutionReverted, Message: "execution reverted"}
)

// New builds a classified error with a specific message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, or "" when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

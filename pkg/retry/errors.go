package retry

import (
	"context"
	"errors"
	"fmt"
)

// Class categorizes a failure so the retry tiers can decide whether another
// attempt can possibly help.
type Class string

const (
	// ClassElementNotFound indicates an expected element was not present on
	// the page. Usually transient (lazy rendering), retried.
	ClassElementNotFound Class = "ELEMENT_NOT_FOUND"

	// ClassTimeout indicates a bounded wait elapsed without the condition
	// becoming true. Retried.
	ClassTimeout Class = "TIMEOUT"

	// ClassSessionLost indicates the automation session or login is gone and
	// in-session retries cannot recover. Escalates to a session restart.
	ClassSessionLost Class = "SESSION_LOST"

	// ClassNetwork indicates a transport-level failure. Retried.
	ClassNetwork Class = "NETWORK"

	// ClassValidation indicates the remote application rejected submitted
	// values. Terminal: resubmitting the same values cannot succeed.
	ClassValidation Class = "VALIDATION_ERROR"

	// ClassNoOverlap indicates the requested billing period does not
	// intersect the authorized window. Terminal.
	ClassNoOverlap Class = "NO_OVERLAP"

	// ClassDuplicate marks the success-without-side-effect path: an
	// identical entry already exists remotely. Not a failure.
	ClassDuplicate Class = "DUPLICATE"

	// ClassSkipped marks an item the operator excluded from the run.
	ClassSkipped Class = "SKIPPED"

	// ClassUnknown is everything else. Retried, on the assumption that an
	// unclassified failure is more likely transient than permanent.
	ClassUnknown Class = "UNKNOWN"
)

// Error carries a failure class alongside the underlying cause.
type Error struct {
	Class Class
	Msg   string
	Cause error
}

// Errorf builds a classified error with a formatted message.
func Errorf(class Class, format string, args ...interface{}) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil cause yields nil.
func Wrap(class Class, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Class: class, Msg: msg, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Cause)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Class, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Class, e.Cause)
	default:
		return string(e.Class)
	}
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Classify returns the class of err, walking the wrap chain. Unclassified
// errors map to ClassUnknown; nil maps to the empty class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	return ClassUnknown
}

// IsTerminal reports whether err cannot be resolved by retrying at any tier.
// Only validation rejections, empty clamp intersections and operator skips
// are terminal; everything else is assumed transient.
func IsTerminal(err error) bool {
	switch Classify(err) {
	case ClassValidation, ClassNoOverlap, ClassSkipped:
		return true
	default:
		return false
	}
}

// IsSessionLost reports whether err requires a full session restart.
func IsSessionLost(err error) bool {
	return Classify(err) == ClassSessionLost
}

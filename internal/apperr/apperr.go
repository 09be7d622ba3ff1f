// Package apperr classifies failures into the kinds the API surface exposes.
// Wrapped causes are kept for logs but never rendered to callers.
package apperr

import (
	"context"
	"errors"
)

// Kind is the caller-visible class of a failure.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindResourceUnavailable
	KindExtractionTimeout
	KindDataInconsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindResourceUnavailable:
		return "resource_unavailable"
	case KindExtractionTimeout:
		return "extraction_timeout"
	case KindDataInconsistency:
		return "data_inconsistency"
	default:
		return "internal_error"
	}
}

// Error carries a kind, a message safe to show callers and the internal cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Msg
	}
	return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.NotFound(""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Msg == ""
	}
	return false
}

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

func Validation(msg string) *Error { return newErr(KindValidation, msg, nil) }

func NotFound(msg string) *Error { return newErr(KindNotFound, msg, nil) }

func Unavailable(msg string, err error) *Error {
	return newErr(KindResourceUnavailable, msg, err)
}

func ExtractionTimeout(msg string, err error) *Error {
	return newErr(KindExtractionTimeout, msg, err)
}

func DataInconsistency(msg string, err error) *Error {
	return newErr(KindDataInconsistency, msg, err)
}

func Internal(msg string, err error) *Error { return newErr(KindInternal, msg, err) }

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrUnavailable       = &Error{Kind: KindResourceUnavailable}
	ErrExtractionTimeout = &Error{Kind: KindExtractionTimeout}
	ErrDataInconsistency = &Error{Kind: KindDataInconsistency}
)

// KindOf returns the kind of the first *Error in the chain. Deadline errors
// without a classification are reported as resource unavailability.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindResourceUnavailable
	}
	return KindInternal
}

// SafeMessage is what callers may see: the kind and the curated message only.
func SafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	switch KindOf(err) {
	case KindResourceUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal error"
	}
}

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide between retrying,
// surfacing and flagging for reconciliation.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindContention   ErrorKind = "contention"
	KindTransient    ErrorKind = "transient"
	KindInconsistent ErrorKind = "inconsistent"
	KindFatal        ErrorKind = "fatal"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind to err, keeping err reachable through errors.Is.
func Wrap(kind ErrorKind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the outermost kind found in err's chain, or "" when err
// carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Kind == kind {
			return true
		}
		err = de.Err
	}
	return false
}

// Retryable reports whether the failure is worth retrying by the caller.
func Retryable(err error) bool {
	return IsKind(err, KindTransient) || IsKind(err, KindContention)
}

var (
	ErrBookingNotFound  = NewError(KindNotFound, "booking not found")
	ErrDocumentNotFound = NewError(KindNotFound, "availability document not found")
	ErrVersionConflict  = NewError(KindContention, "availability document changed concurrently")
	ErrDuplicate        = NewError(KindConflict, "record already exists")
)

package utils

import (
	"errors"
	"fmt"
)

// Kind classifies Guardian failures for handling-policy decisions.
type Kind string

const (
	// KindInsufficientData marks analyzer windows too small to score.
	// Recovered locally: the tick treats the dimension as "no signal".
	KindInsufficientData Kind = "insufficient_data"
	// KindIngestOverflow marks intake-queue overflow. Recovered locally by
	// dropping the oldest queued event.
	KindIngestOverflow Kind = "ingest_overflow"
	// KindResponseFailure marks an external side-effect call that failed
	// after retries. Re-injected into the next evaluation tick.
	KindResponseFailure Kind = "response_failure"
	// KindConfiguration marks invalid startup configuration. Fatal.
	KindConfiguration Kind = "configuration"
	// KindValidation marks a rejected inbound payload.
	KindValidation Kind = "validation"
)

// AppError wraps an operation, failure kind, human-facing message, and
// underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind Kind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, or empty when err is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

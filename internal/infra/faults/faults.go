// Package faults defines the error kinds the bot distinguishes when deciding
// whether to log, retry next cycle, tell the operator, or abort startup.
package faults

import "errors"

var (
	// ErrTransientIO covers network and collaborator failures that are retried next cycle.
	ErrTransientIO = errors.New("transient io failure")
	// ErrRateLimitExceeded is returned when no token could be acquired.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidInput marks operator input that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence marks a settings load or save failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrStartup aborts the process with a non-zero exit code.
	ErrStartup = errors.New("startup failure")
)

// Kind is a short label for logs and metric labels.
type Kind string

const (
	KindTransientIO Kind = "transient_io"
	KindRateLimit   Kind = "rate_limit"
	KindInvalid     Kind = "invalid_input"
	KindPersistence Kind = "persistence"
	KindStartup     Kind = "startup"
	KindUnknown     Kind = "unknown"
)

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimit
	case errors.Is(err, ErrInvalidInput):
		return KindInvalid
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrStartup):
		return KindStartup
	case errors.Is(err, ErrTransientIO):
		return KindTransientIO
	default:
		return KindUnknown
	}
}

// Invalid builds an ErrInvalidInput carrying a message fit to show the operator.
func Invalid(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Unwrap() error { return ErrInvalidInput }

// Package common provides shared constants, types, and utilities
// used across the tunnel client.
package common

import "errors"

// Sentinel errors for tunnel client operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Controller errors.
	ErrHalted         = errors.New("controller halted")
	ErrAlreadyStarted = errors.New("controller already started")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")

	// Configuration errors.
	ErrConfigLoad    = errors.New("failed to load configuration")
	ErrConfigSave    = errors.New("failed to save configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoRemotes     = errors.New("no remote endpoints configured")

	// Stats errors.
	ErrStatsClosed = errors.New("stats store closed")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

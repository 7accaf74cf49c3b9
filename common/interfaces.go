// Package common provides shared constants, types, and utilities
// used across the tunnel client.
package common

// CredentialStore defines the interface for credential storage.
// Implementations may use the system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves a password for a remote profile.
	Store(profileID, password string) error
	// Get retrieves a password for a remote profile.
	Get(profileID string) (string, error)
	// Delete removes a password for a remote profile.
	Delete(profileID string) error
}

// Logger defines the interface for leveled logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}

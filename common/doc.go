// Package common provides shared constants, types, utilities, and interfaces
// used throughout the tunnel client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Interfaces: Abstractions for credential storage and logging
//   - Logger: Leveled logging with optional file output and rotation
//   - Utils: Common utility functions for file and directory handling
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/skobel/tunnelclient/common"
//
//	// Use constants
//	timeout := common.DefaultConnTimeout
//
//	// Use logger
//	common.LogInfo("Connecting to %s", remote)
//
//	// Check errors
//	if errors.Is(err, common.ErrCredentialsNotFound) {
//	    // Prompt for credentials
//	}
package common

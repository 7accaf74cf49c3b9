// Package common provides shared constants, types, and utilities
// used across the tunnel client.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "tunnelclient"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "tunnelclient"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	StatsFileName       = "stats.db"
	LogFileName         = "tunnelclient.log"
)

// Default timeouts and intervals for the connection controller.
const (
	// DefaultConnTimeout bounds the time a connection may take to reach
	// the connected state before the controller gives up or pauses.
	DefaultConnTimeout = 30 * time.Second
	// DefaultServerPollTimeout bounds the time an attempt may wait for the
	// first packet from the server before rotating to the next remote.
	DefaultServerPollTimeout = 10 * time.Second
	// DefaultRestartDelay is the fixed wait before a retryable
	// termination is followed by a new connection attempt.
	DefaultRestartDelay = 2 * time.Second
)

// Package connect implements the connection-lifecycle controller.
// This file defines the boundary to the tunnel session implementation.
// One Session represents exactly one connection attempt.
package connect

import "github.com/skobel/tunnelclient/config"

// Session is one connection attempt's protocol engine. The controller
// exclusively owns its Session: a session is created for each attempt,
// stopped when the attempt is superseded, and never restarted.
//
// Implementations report progress and termination through the
// SessionNotify handed to the SessionFactory. Those callbacks may be
// invoked from any goroutine; the controller marshals them onto its own
// event loop.
type Session interface {
	// Start begins the connection attempt. It must not block.
	Start()
	// Stop tears the session down. When sendExitNotify is true the remote
	// peer is told about the intentional disconnect first.
	Stop(sendExitNotify bool)
	// SendExplicitExitNotify asks the session to tell the remote peer
	// that the client is disconnecting intentionally, without tearing the
	// session down.
	SendExplicitExitNotify()
	// FirstPacketReceived reports whether any packet from the server has
	// arrived yet.
	FirstPacketReceived() bool
	// ReachedConnectedState reports whether the attempt ever reached the
	// fully connected state.
	ReachedConnectedState() bool
}

// SessionNotify is the controller-side callback target a session reports
// to. Both methods are safe to call from any goroutine and return
// immediately.
type SessionNotify interface {
	// Connected reports that the attempt reached the connected state.
	Connected()
	// Terminated reports that the session ended. code classifies the
	// cause; reason is a human-readable detail, empty when there is none.
	Terminated(code FatalCode, reason string)
}

// SessionConfig is the per-attempt configuration a session is built with.
type SessionConfig struct {
	// Remote is the endpoint this attempt connects to.
	Remote config.Remote
	// OpenVPN carries the tunnel process settings.
	OpenVPN config.OpenVPN
	// Username and Password are the authentication credentials.
	Username string
	Password string
}

// SessionFactory constructs a fresh session for one attempt, bound to the
// given notify target.
type SessionFactory func(cfg SessionConfig, notify SessionNotify) Session

// Package connect implements the connection-lifecycle controller.
// This file defines the closed set of lifecycle events the controller
// emits and the sink interfaces it reports through.
package connect

import "github.com/skobel/tunnelclient/common"

// EventKind identifies a lifecycle event emitted by the controller.
type EventKind int

const (
	// EventResolve is emitted when asynchronous pre-resolution of the
	// remote list begins.
	EventResolve EventKind = iota
	// EventReconnecting is emitted at the start of every attempt after
	// the first.
	EventReconnecting
	// EventPause is emitted when the controller enters the paused state.
	EventPause
	// EventResume is emitted when the controller leaves the paused state.
	EventResume
	// EventDisconnected is emitted exactly once when the controller stops.
	EventDisconnected
	// EventConnectionTimeout is emitted when the connection timeout
	// expires and the controller is not configured to pause instead.
	EventConnectionTimeout
	// EventDynamicChallenge is emitted for an authentication failure whose
	// reason carries a dynamic challenge from the server.
	EventDynamicChallenge
	// EventAuthFailed is emitted for an ordinary authentication failure.
	EventAuthFailed
	// EventTunSetupFailed is emitted when tunnel interface setup failed.
	EventTunSetupFailed
	// EventTunIfaceCreate is emitted when the tunnel interface could not
	// be created.
	EventTunIfaceCreate
	// EventTunIfaceDisabled is emitted when the tunnel interface is
	// administratively disabled.
	EventTunIfaceDisabled
	// EventProxyError is emitted for a proxy failure.
	EventProxyError
	// EventProxyNeedCreds is emitted when the proxy requires credentials.
	EventProxyNeedCreds
	// EventCertVerifyFail is emitted when certificate verification failed.
	EventCertVerifyFail
	// EventTLSVersionMinFail is emitted when the peer cannot meet the
	// minimum TLS version.
	EventTLSVersionMinFail
	// EventClientHalt is emitted when the server halted this client.
	EventClientHalt
	// EventClientRestart is emitted when the server requested a restart.
	EventClientRestart
	// EventInactiveTimeout is emitted when the session hit its inactivity
	// timeout.
	EventInactiveTimeout
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventResolve:
		return "Resolve"
	case EventReconnecting:
		return "Reconnecting"
	case EventPause:
		return "Pause"
	case EventResume:
		return "Resume"
	case EventDisconnected:
		return "Disconnected"
	case EventConnectionTimeout:
		return "ConnectionTimeout"
	case EventDynamicChallenge:
		return "DynamicChallenge"
	case EventAuthFailed:
		return "AuthFailed"
	case EventTunSetupFailed:
		return "TunSetupFailed"
	case EventTunIfaceCreate:
		return "TunIfaceCreate"
	case EventTunIfaceDisabled:
		return "TunIfaceDisabled"
	case EventProxyError:
		return "ProxyError"
	case EventProxyNeedCreds:
		return "ProxyNeedCreds"
	case EventCertVerifyFail:
		return "CertVerifyFail"
	case EventTLSVersionMinFail:
		return "TLSVersionMinFail"
	case EventClientHalt:
		return "ClientHalt"
	case EventClientRestart:
		return "ClientRestart"
	case EventInactiveTimeout:
		return "InactiveTimeout"
	default:
		return "Unknown"
	}
}

// Event is one lifecycle notification. Reason is empty for events that
// carry no payload.
type Event struct {
	Kind   EventKind
	Reason string
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Reason
}

// EventSink receives lifecycle events from the controller.
// Implementations must not block; the controller calls them from its
// event loop.
type EventSink interface {
	Event(ev Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ev Event)

// Event calls f(ev).
func (f EventSinkFunc) Event(ev Event) {
	f(ev)
}

// LogEvents returns an EventSink that writes each event to the
// application logger.
func LogEvents() EventSink {
	return EventSinkFunc(func(ev Event) {
		common.LogInfo("event: %s", ev.String())
	})
}

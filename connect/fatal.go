// Package connect implements the connection-lifecycle controller.
// This file defines the fatal-error classification reported by a
// terminated tunnel session. The classification decides whether the
// controller retries or stops permanently.
package connect

import "strings"

// FatalCode classifies the cause of a session termination.
type FatalCode int

const (
	// FatalNone means the session terminated without a fatal error, for
	// example a transient network failure. Retryable.
	FatalNone FatalCode = iota
	// FatalAuthFailed means the server rejected the credentials.
	FatalAuthFailed
	// FatalTunSetupFailed means tunnel interface setup failed.
	FatalTunSetupFailed
	// FatalTunIfaceCreate means the tunnel interface could not be created.
	FatalTunIfaceCreate
	// FatalTunIfaceDisabled means the tunnel interface is disabled.
	FatalTunIfaceDisabled
	// FatalProxyError means the proxy connection failed.
	FatalProxyError
	// FatalProxyNeedCreds means the proxy requires credentials.
	FatalProxyNeedCreds
	// FatalCertVerifyFail means server certificate verification failed.
	FatalCertVerifyFail
	// FatalTLSVersionMin means the minimum TLS version was not met.
	FatalTLSVersionMin
	// FatalClientHalt means the server halted this client permanently.
	FatalClientHalt
	// FatalClientRestart means the server requested a restart. Retryable.
	FatalClientRestart
	// FatalInactiveTimeout means the session hit its inactivity timeout.
	FatalInactiveTimeout
)

// String returns a human-readable representation of the fatal code.
func (c FatalCode) String() string {
	switch c {
	case FatalNone:
		return "None"
	case FatalAuthFailed:
		return "AuthFailed"
	case FatalTunSetupFailed:
		return "TunSetupFailed"
	case FatalTunIfaceCreate:
		return "TunIfaceCreate"
	case FatalTunIfaceDisabled:
		return "TunIfaceDisabled"
	case FatalProxyError:
		return "ProxyError"
	case FatalProxyNeedCreds:
		return "ProxyNeedCreds"
	case FatalCertVerifyFail:
		return "CertVerifyFail"
	case FatalTLSVersionMin:
		return "TLSVersionMin"
	case FatalClientHalt:
		return "ClientHalt"
	case FatalClientRestart:
		return "ClientRestart"
	case FatalInactiveTimeout:
		return "InactiveTimeout"
	default:
		return "Unknown"
	}
}

// dynamicChallengePrefix marks an AUTH_FAILED reason that carries a
// CRV1 dynamic challenge from the server.
// Format: CRV1:<flags>:<state_id>:<username_b64>:<message>
const dynamicChallengePrefix = "CRV1:"

// IsDynamicChallenge reports whether an authentication failure reason
// carries a dynamic challenge/response request.
func IsDynamicChallenge(reason string) bool {
	return strings.HasPrefix(reason, dynamicChallengePrefix)
}

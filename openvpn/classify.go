// Package openvpn provides a tunnel session implementation backed by an
// OpenVPN client process. This file maps process log lines to the fatal
// classification consumed by the connection controller.
package openvpn

import (
	"strings"

	"github.com/skobel/tunnelclient/connect"
)

// markConnected reports whether the line announces a fully established
// connection.
func markConnected(line string) bool {
	return strings.Contains(line, "Initialization Sequence Completed")
}

// markFirstPacket reports whether the line proves the server responded.
func markFirstPacket(line string) bool {
	return strings.Contains(line, "Peer Connection Initiated") ||
		strings.Contains(line, "TLS: Initial packet from")
}

// authFailedMarker prefixes the server's authentication rejection in the
// control channel log line. Anything after the comma is the reason, which
// for a dynamic challenge starts with "CRV1:".
const authFailedMarker = "AUTH_FAILED"

// classifyLine maps one OpenVPN log line to a fatal classification.
// Returns ok=false for lines that carry no termination verdict. Only
// permanent conditions are classified; transient failures (ping restarts,
// connection refused, TLS handshake retries) stay FatalNone so the
// controller retries them.
func classifyLine(line string) (code connect.FatalCode, reason string, ok bool) {
	switch {
	case strings.Contains(line, authFailedMarker):
		return connect.FatalAuthFailed, authReason(line), true

	case strings.Contains(line, "Cannot allocate TUN/TAP dev"),
		strings.Contains(line, "Cannot open TUN/TAP dev"):
		return connect.FatalTunIfaceCreate, trimmedReason(line), true

	case strings.Contains(line, "TUN/TAP device") && strings.Contains(line, "is down"):
		return connect.FatalTunIfaceDisabled, trimmedReason(line), true

	case strings.Contains(line, "Cannot ioctl TUNSETIFF"),
		strings.Contains(line, "do_ifconfig") && strings.Contains(line, "failed"),
		strings.Contains(line, "ERROR: Cannot open TUN"):
		return connect.FatalTunSetupFailed, trimmedReason(line), true

	case strings.Contains(line, "Proxy requires authentication"),
		strings.Contains(line, "407 Proxy Authentication Required"):
		return connect.FatalProxyNeedCreds, trimmedReason(line), true

	case strings.Contains(line, "PROXY ERROR"),
		strings.Contains(line, "proxy error"):
		return connect.FatalProxyError, trimmedReason(line), true

	case strings.Contains(line, "certificate verify failed"),
		strings.Contains(line, "VERIFY ERROR"):
		return connect.FatalCertVerifyFail, trimmedReason(line), true

	case strings.Contains(line, "tls-version-min"):
		return connect.FatalTLSVersionMin, "", true

	case strings.Contains(line, "Received control message: HALT"):
		return connect.FatalClientHalt, controlReason(line, "HALT"), true

	case strings.Contains(line, "Received control message: RESTART"):
		return connect.FatalClientRestart, controlReason(line, "RESTART"), true

	case strings.Contains(line, "Inactivity timeout (--inactive)"):
		return connect.FatalInactiveTimeout, "", true

	default:
		return connect.FatalNone, "", false
	}
}

// authReason extracts the reason behind an AUTH_FAILED control message.
// "AUTH: Received control message: AUTH_FAILED,CRV1:..." yields
// "CRV1:...", so dynamic challenges survive intact.
func authReason(line string) string {
	idx := strings.Index(line, authFailedMarker)
	rest := line[idx+len(authFailedMarker):]
	rest = strings.TrimPrefix(rest, ",")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "authentication failed"
	}
	return rest
}

// controlReason extracts the text following a HALT or RESTART control
// message.
func controlReason(line, message string) string {
	idx := strings.Index(line, message)
	rest := line[idx+len(message):]
	rest = strings.TrimPrefix(rest, ",")
	return strings.TrimSpace(rest)
}

// trimmedReason trims the timestamp prefix OpenVPN puts on log lines so
// events carry just the message.
func trimmedReason(line string) string {
	// Lines look like "Tue Aug 24 10:00:00 2026 <message>". Anything
	// before the first multi-space gap or known marker is best effort.
	if idx := strings.Index(line, "ERROR:"); idx >= 0 {
		return strings.TrimSpace(line[idx:])
	}
	return strings.TrimSpace(line)
}

// Package connect implements the connection-lifecycle controller.
// This file defines the error-stat counters the controller increments and
// the sink interface they are reported through.
package connect

// Error-stat counter names. One counter exists for every terminal or
// retry-triggering condition.
const (
	StatReconnect      = "reconnect"
	StatPause          = "pause"
	StatConnTimeout    = "connection_timeout"
	StatAuthFailed     = "auth_failed"
	StatTunSetupFailed = "tun_setup_failed"
	StatTunIfaceCreate = "tun_iface_create"
	StatTunIfaceDown   = "tun_iface_disabled"
	StatProxyError     = "proxy_error"
	StatProxyNeedCreds = "proxy_need_creds"
	StatCertVerifyFail = "cert_verify_fail"
	StatTLSVersionMin  = "tls_version_min"
	StatClientHalt     = "client_halt"
	StatClientRestart  = "client_restart"
	StatInactiveTO     = "inactive_timeout"
)

// StatsSink receives error-counter increments from the controller.
// Implementations must not block; the controller calls them from its
// event loop.
type StatsSink interface {
	Error(name string)
}

// StatsSinkFunc adapts a function to the StatsSink interface.
type StatsSinkFunc func(name string)

// Error calls f(name).
func (f StatsSinkFunc) Error(name string) {
	f(name)
}

// NopStats returns a StatsSink that discards all increments.
func NopStats() StatsSink {
	return StatsSinkFunc(func(string) {})
}

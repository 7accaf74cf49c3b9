// Package connect implements the connection-lifecycle controller for the
// tunnel client.
//
// The controller owns the decision of when to attempt a connection, when to
// retry, when to rotate to an alternate remote, when to pause and resume,
// and when to give up permanently. It sits above the tunnel session (the
// openvpn package provides a process-backed implementation) and below any
// CLI or UI layer.
//
// # Architecture
//
// The package is organized around these types:
//
//   - Controller: the single-goroutine state machine that creates and
//     replaces tunnel sessions, runs the retry timers, and classifies
//     termination causes
//   - Session / SessionNotify / SessionFactory: the boundary to the tunnel
//     implementation; one Session per connection attempt
//   - RemoteList: the rotating list of candidate server endpoints
//   - PreResolver / HostResolver: optional asynchronous DNS resolution of
//     the remote list before the first attempt
//   - Event / EventSink and StatsSink: the observable output of the
//     controller
//
// # Concurrency
//
// All controller state is confined to one event-loop goroutine. Exported
// control methods (Start, Stop, Pause, Resume, Reconnect, ...) may be
// called from any goroutine; they post the operation onto the loop and
// return immediately. Timer and session callbacks are posted the same way,
// each carrying the attempt generation captured when it was scheduled, so
// callbacks from a superseded attempt are ignored.
//
// # Failure policy
//
// A terminated session reports a FatalCode. Exactly two codes lead to a
// scheduled retry: FatalNone (no-fault termination) and FatalClientRestart
// (server asked for a reconnect). Every other code stops the controller
// permanently, each with a distinct event so the caller can present a
// specific diagnosis.
package connect

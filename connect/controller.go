// Package connect implements the connection-lifecycle controller.
// This file contains the Controller, the state machine that owns the
// decision of when to attempt a connection, when to retry, when to rotate
// to an alternate remote, when to pause and resume, and when to give up
// permanently.
//
// All controller state lives on a single event-loop goroutine. Exported
// control methods post the operation onto the loop and return immediately,
// so they are safe to call from any goroutine. Timer callbacks carry the
// attempt generation captured at scheduling time and are ignored once the
// generation has advanced.
package connect

import (
	"fmt"
	"time"

	"github.com/skobel/tunnelclient/common"
	"github.com/skobel/tunnelclient/config"
)

// opQueueSize is the capacity of the posted-operation queue. Posts beyond
// this block the caller until the loop catches up.
const opQueueSize = 64

// Options configures a Controller.
type Options struct {
	// Config supplies the remote list, timeouts, and retry policy.
	Config *config.Config
	// Factory constructs one tunnel session per connection attempt.
	Factory SessionFactory
	// Events receives lifecycle notifications. Defaults to LogEvents().
	Events EventSink
	// Stats receives error-counter increments. Defaults to NopStats().
	Stats StatsSink
	// Resolver optionally pre-resolves the remote list before the first
	// attempt. May be nil.
	Resolver PreResolver
	// Username and Password are handed to each session.
	Username string
	Password string
}

// Controller sequences connection attempts for one logical tunnel client.
//
// A Controller is created with New, driven through Start, Stop,
// GracefulStop, Pause, Resume, Reconnect, and DontRestart, and observed
// through its EventSink, StatsSink, and Done channel. Once stopped it is
// finished for good; create a new Controller to connect again.
type Controller struct {
	cfg      *config.Config
	remotes  *RemoteList
	events   EventSink
	stats    StatsSink
	factory  SessionFactory
	resolver PreResolver
	username string
	password string

	ops  chan func()
	done chan struct{}

	// State below is confined to the event-loop goroutine.
	generation       uint64
	halted           bool
	paused           bool
	noRestart        bool
	session          Session
	preResolve       PreResolver
	serverPollTimer  *time.Timer
	restartWaitTimer *time.Timer
	connTimer        *time.Timer
	connTimerPending bool
}

// New creates a Controller and starts its event loop. The loop goroutine
// runs until the controller halts; Done() reports when that happens.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil {
		return nil, common.WrapError(common.ErrInvalidConfig, "controller requires a config")
	}
	if len(opts.Config.Remotes) == 0 {
		return nil, common.ErrNoRemotes
	}
	if opts.Factory == nil {
		return nil, common.WrapError(common.ErrInvalidConfig, "controller requires a session factory")
	}
	if opts.Events == nil {
		opts.Events = LogEvents()
	}
	if opts.Stats == nil {
		opts.Stats = NopStats()
	}

	c := &Controller{
		cfg:      opts.Config,
		remotes:  NewRemoteList(opts.Config.Remotes),
		events:   opts.Events,
		stats:    opts.Stats,
		factory:  opts.Factory,
		resolver: opts.Resolver,
		username: opts.Username,
		password: opts.Password,
		ops:      make(chan func(), opQueueSize),
		done:     make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// run is the controller's event loop. Every state mutation happens here.
func (c *Controller) run() {
	for op := range c.ops {
		op()
		if c.halted {
			close(c.done)
			return
		}
	}
}

// post enqueues an operation for the event loop. Operations posted from
// one goroutine execute in the order posted. After the controller halts,
// post becomes a no-op.
func (c *Controller) post(op func()) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.ops <- op:
	case <-c.done:
	}
}

// Done returns a channel that is closed once the controller has halted
// and will never create another session, fire another timer, or emit
// another event.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start begins connecting. If the resolver reports outstanding work the
// remote list is resolved first; otherwise the first attempt starts
// immediately. Safe to call from any goroutine.
func (c *Controller) Start() {
	c.post(c.start)
}

// Stop halts the controller without notifying the remote peer. Idempotent
// and terminal. Safe to call from any goroutine.
func (c *Controller) Stop() {
	c.post(c.stop)
}

// GracefulStop is Stop preceded by an explicit exit notification to the
// remote peer. Safe to call from any goroutine.
func (c *Controller) GracefulStop() {
	c.post(c.gracefulStop)
}

// Pause stops the current session gracefully and suspends the controller
// until Resume. Safe to call from any goroutine.
func (c *Controller) Pause() {
	c.post(c.pause)
}

// Resume leaves the paused state and starts a new attempt immediately.
// Safe to call from any goroutine.
func (c *Controller) Resume() {
	c.post(c.resume)
}

// Reconnect schedules a new attempt after the given delay, superseding
// any pending restart. Negative delays are clamped to zero. Safe to call
// from any goroutine.
func (c *Controller) Reconnect(delay time.Duration) {
	c.post(func() { c.reconnect(delay) })
}

// DontRestart marks every future session termination as terminal, even
// causes that would normally be retried. It does not itself stop
// anything. Safe to call from any goroutine.
func (c *Controller) DontRestart() {
	c.post(func() { c.noRestart = true })
}

// attemptNotify is the SessionNotify handed to one attempt's session. It
// carries the generation captured at attempt creation and drops callbacks
// from superseded attempts, the same fence the timers use. A session being
// replaced can race its own stop and still report; the fence makes that
// report a no-op.
type attemptNotify struct {
	c   *Controller
	gen uint64
}

// Connected reports that the attempt reached the connected state.
func (n *attemptNotify) Connected() {
	n.c.post(func() {
		if n.gen != n.c.generation || n.c.halted {
			return
		}
		n.c.sessionConnected()
	})
}

// Terminated reports that the session ended.
func (n *attemptNotify) Terminated(code FatalCode, reason string) {
	n.c.post(func() {
		if n.gen != n.c.generation || n.c.halted {
			return
		}
		n.c.sessionTerminated(code, reason)
	})
}

// --- operations below run on the event loop ---

func (c *Controller) start() {
	if c.session != nil || c.halted || c.paused || c.preResolve != nil {
		return
	}
	if c.resolver != nil && c.resolver.WorkAvailable() {
		c.events.Event(Event{Kind: EventResolve})
		c.preResolve = c.resolver
		c.preResolve.Start(func() { c.post(c.preResolveDone) })
		return
	}
	c.newClient()
}

func (c *Controller) preResolveDone() {
	pr := c.preResolve
	c.preResolve = nil
	if c.halted || pr == nil {
		return
	}
	pr.Apply(c.remotes)
	c.newClient()
}

func (c *Controller) stop() {
	if c.halted {
		return
	}
	c.halted = true
	if c.preResolve != nil {
		c.preResolve.Cancel()
		c.preResolve = nil
	}
	if c.session != nil {
		c.session.Stop(false)
	}
	c.cancelTimers()
	c.events.Event(Event{Kind: EventDisconnected})
}

func (c *Controller) gracefulStop() {
	if !c.halted && c.session != nil {
		c.session.SendExplicitExitNotify()
	}
	c.stop()
}

func (c *Controller) pause() {
	if c.halted || c.paused {
		return
	}
	c.paused = true
	// Invalidate timer callbacks already in flight; cancelTimers alone
	// cannot stop a closure whose timer fired just before the cancel.
	c.generation++
	// The stopped session object is retained: resume consults its
	// ReachedConnectedState for the rotation decision.
	if c.session != nil {
		c.session.SendExplicitExitNotify()
		c.session.Stop(false)
	}
	c.cancelTimers()
	c.events.Event(Event{Kind: EventPause})
	c.stats.Error(StatPause)
}

func (c *Controller) resume() {
	if c.halted || !c.paused {
		return
	}
	c.paused = false
	c.events.Event(Event{Kind: EventResume})
	c.newClient()
}

func (c *Controller) reconnect(delay time.Duration) {
	if c.halted {
		return
	}
	if delay < 0 {
		delay = 0
	}
	common.LogInfo("client terminated, reconnecting in %s...", delay)
	c.scheduleRestart(delay)
}

// queueRestart schedules a restart after the fixed retry delay. Used for
// retryable terminations.
func (c *Controller) queueRestart() {
	delay := c.cfg.RestartDelay.Std()
	common.LogInfo("client terminated, restarting in %s...", delay)
	c.scheduleRestart(delay)
}

// scheduleRestart arms the restart-wait timer fenced to the current
// generation. A pending server poll is superseded.
func (c *Controller) scheduleRestart(delay time.Duration) {
	gen := c.generation
	if c.serverPollTimer != nil {
		c.serverPollTimer.Stop()
		c.serverPollTimer = nil
	}
	if c.restartWaitTimer != nil {
		c.restartWaitTimer.Stop()
	}
	c.restartWaitTimer = time.AfterFunc(delay, func() {
		c.post(func() { c.restartWaitExpired(gen) })
	})
}

func (c *Controller) restartWaitExpired(gen uint64) {
	if gen != c.generation || c.halted {
		return
	}
	if c.paused {
		c.resume()
		return
	}
	if c.session != nil {
		c.session.SendExplicitExitNotify()
	}
	c.newClient()
}

func (c *Controller) serverPollExpired(gen uint64) {
	if gen != c.generation || c.halted {
		return
	}
	if c.session != nil && c.session.FirstPacketReceived() {
		return
	}
	common.LogInfo("server poll timeout, trying next remote...")
	c.newClient()
}

// connTimerExpired is fenced by halted and the pending flag, not by
// generation: the connection timeout bounds time-to-connected across
// attempts, so a new attempt must not silently rearm it from zero. The
// pending flag is the cancellation indication; a callback racing the
// disarm in sessionConnected finds it cleared.
func (c *Controller) connTimerExpired() {
	if c.halted || !c.connTimerPending {
		return
	}
	c.stats.Error(StatConnTimeout)
	if !c.paused && c.cfg.PauseOnConnTimeout {
		// Go into the paused state instead of disconnecting.
		c.pause()
		return
	}
	c.events.Event(Event{Kind: EventConnectionTimeout})
	c.stop()
}

func (c *Controller) connTimerStart() {
	if c.connTimerPending {
		return
	}
	timeout := c.cfg.ConnTimeout.Std()
	if timeout <= 0 {
		return
	}
	c.connTimer = time.AfterFunc(timeout, func() {
		c.post(c.connTimerExpired)
	})
	c.connTimerPending = true
}

// sessionConnected disarms the connection timeout. Success counts for the
// whole controller regardless of which attempt delivered it.
func (c *Controller) sessionConnected() {
	if c.connTimer != nil {
		c.connTimer.Stop()
		c.connTimer = nil
	}
	c.connTimerPending = false
	common.LogDebug("session reached connected state")
}

// sessionTerminated classifies the termination cause and either schedules
// a restart or stops permanently. An unrecognized code is a contract
// violation between the controller and the session layer and panics.
func (c *Controller) sessionTerminated(code FatalCode, reason string) {
	if c.halted {
		return
	}
	if c.noRestart {
		c.stop()
		return
	}
	switch code {
	case FatalNone:
		c.queueRestart()
	case FatalAuthFailed:
		if IsDynamicChallenge(reason) {
			c.events.Event(Event{Kind: EventDynamicChallenge, Reason: reason})
		} else {
			c.events.Event(Event{Kind: EventAuthFailed, Reason: reason})
			c.stats.Error(StatAuthFailed)
		}
		c.stop()
	case FatalTunSetupFailed:
		c.terminal(EventTunSetupFailed, StatTunSetupFailed, reason)
	case FatalTunIfaceCreate:
		c.terminal(EventTunIfaceCreate, StatTunIfaceCreate, reason)
	case FatalTunIfaceDisabled:
		c.terminal(EventTunIfaceDisabled, StatTunIfaceDown, reason)
	case FatalProxyError:
		c.terminal(EventProxyError, StatProxyError, reason)
	case FatalProxyNeedCreds:
		c.terminal(EventProxyNeedCreds, StatProxyNeedCreds, reason)
	case FatalCertVerifyFail:
		c.terminal(EventCertVerifyFail, StatCertVerifyFail, reason)
	case FatalTLSVersionMin:
		c.terminal(EventTLSVersionMinFail, StatTLSVersionMin, "")
	case FatalClientHalt:
		c.terminal(EventClientHalt, StatClientHalt, reason)
	case FatalClientRestart:
		c.events.Event(Event{Kind: EventClientRestart, Reason: reason})
		c.stats.Error(StatClientRestart)
		c.queueRestart()
	case FatalInactiveTimeout:
		c.terminal(EventInactiveTimeout, StatInactiveTO, "")
	default:
		panic(fmt.Sprintf("connect: unhandled fatal code %d (%s)", int(code), code))
	}
}

// terminal emits the event and stat for a permanent failure and stops.
func (c *Controller) terminal(kind EventKind, stat string, reason string) {
	c.events.Event(Event{Kind: kind, Reason: reason})
	c.stats.Error(stat)
	c.stop()
}

// newClient starts a fresh connection attempt, superseding the previous
// one. Every timer scheduled before this call is invalidated by the
// generation bump, whether or not it can still fire.
func (c *Controller) newClient() {
	c.generation++
	gen := c.generation

	if c.session != nil {
		c.session.Stop(false)
	}
	if c.generation > 1 {
		c.events.Event(Event{Kind: EventReconnecting})
		c.stats.Error(StatReconnect)
		// Rotate only when the prior attempt never got anywhere. An
		// attempt that connected and later failed retries the same
		// remote first.
		if c.session == nil || !c.session.ReachedConnectedState() {
			c.remotes.Next()
		}
	}

	c.session = c.factory(c.sessionConfig(), &attemptNotify{c: c, gen: gen})

	if c.restartWaitTimer != nil {
		c.restartWaitTimer.Stop()
		c.restartWaitTimer = nil
	}
	if timeout := c.cfg.ServerPollTimeout.Std(); timeout > 0 {
		c.serverPollTimer = time.AfterFunc(timeout, func() {
			c.post(func() { c.serverPollExpired(gen) })
		})
	}
	c.connTimerStart()

	common.LogInfo("connecting to %s (attempt %d)", c.remotes.Current(), c.generation)
	c.session.Start()
}

func (c *Controller) sessionConfig() SessionConfig {
	return SessionConfig{
		Remote:   c.remotes.Current(),
		OpenVPN:  c.cfg.OpenVPN,
		Username: c.username,
		Password: c.password,
	}
}

func (c *Controller) cancelTimers() {
	if c.restartWaitTimer != nil {
		c.restartWaitTimer.Stop()
		c.restartWaitTimer = nil
	}
	if c.serverPollTimer != nil {
		c.serverPollTimer.Stop()
		c.serverPollTimer = nil
	}
	if c.connTimer != nil {
		c.connTimer.Stop()
		c.connTimer = nil
	}
	c.connTimerPending = false
}

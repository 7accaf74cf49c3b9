package connect

import (
	"sync"
	"testing"
	"time"

	"github.com/skobel/tunnelclient/config"
)

// waitTimeout bounds every polling wait in these tests.
const waitTimeout = 2 * time.Second

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// settle gives in-flight posted operations time to land before a
// negative assertion.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// fakeSession is a scriptable Session for controller tests.
type fakeSession struct {
	mu          sync.Mutex
	notify      SessionNotify
	cfg         SessionConfig
	started     bool
	stopped     bool
	exitNotify  int
	firstPacket bool
	connected   bool
}

func (f *fakeSession) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeSession) Stop(sendExitNotify bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sendExitNotify {
		f.exitNotify++
	}
	f.stopped = true
}

func (f *fakeSession) SendExplicitExitNotify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitNotify++
}

func (f *fakeSession) FirstPacketReceived() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstPacket
}

func (f *fakeSession) ReachedConnectedState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeSession) exitNotifies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitNotify
}

func (f *fakeSession) remote() config.Remote {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Remote
}

// connect marks the session connected and notifies the controller, as a
// real session would on reaching the connected state.
func (f *fakeSession) connect() {
	f.mu.Lock()
	f.firstPacket = true
	f.connected = true
	stopped := f.stopped
	f.mu.Unlock()
	if !stopped {
		f.notify.Connected()
	}
}

func (f *fakeSession) receiveFirstPacket() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firstPacket = true
}

// terminate reports the session's end unless the controller already
// stopped it.
func (f *fakeSession) terminate(code FatalCode, reason string) {
	f.mu.Lock()
	stopped := f.stopped
	f.stopped = true
	f.mu.Unlock()
	if !stopped {
		f.notify.Terminated(code, reason)
	}
}

// fakeFactory records every session it builds.
type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (ff *fakeFactory) new(cfg SessionConfig, notify SessionNotify) Session {
	s := &fakeSession{cfg: cfg, notify: notify}
	ff.mu.Lock()
	ff.sessions = append(ff.sessions, s)
	ff.mu.Unlock()
	return s
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.sessions)
}

func (ff *fakeFactory) at(i int) *fakeSession {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.sessions[i]
}

func (ff *fakeFactory) last() *fakeSession {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.sessions[len(ff.sessions)-1]
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Event(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) countKind(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) find(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

// statRecorder collects stat increments.
type statRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newStatRecorder() *statRecorder {
	return &statRecorder{counts: make(map[string]int)}
}

func (r *statRecorder) Error(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

func (r *statRecorder) get(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// testConfig returns a config with fast timers suitable for tests.
// Server poll and connection timeout default to disabled.
func testConfig() *config.Config {
	return &config.Config{
		Remotes: []config.Remote{
			{Host: "10.0.0.1", Port: 1194, Proto: "udp"},
			{Host: "10.0.0.2", Port: 1194, Proto: "udp"},
			{Host: "10.0.0.3", Port: 1194, Proto: "udp"},
		},
		RestartDelay: config.Duration(10 * time.Millisecond),
	}
}

type harness struct {
	ctrl    *Controller
	factory *fakeFactory
	events  *eventRecorder
	stats   *statRecorder
}

func newHarness(t *testing.T, cfg *config.Config, resolver PreResolver) *harness {
	t.Helper()
	h := &harness{
		factory: &fakeFactory{},
		events:  &eventRecorder{},
		stats:   newStatRecorder(),
	}
	ctrl, err := New(Options{
		Config:   cfg,
		Factory:  h.factory.new,
		Events:   h.events,
		Stats:    h.stats,
		Resolver: resolver,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Stop)
	return h
}

func (h *harness) halted() bool {
	select {
	case <-h.ctrl.Done():
		return true
	default:
		return false
	}
}

func TestNewValidatesOptions(t *testing.T) {
	cfg := testConfig()
	factory := (&fakeFactory{}).new

	if _, err := New(Options{Factory: factory}); err == nil {
		t.Error("New() without config should fail")
	}
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("New() without factory should fail")
	}
	if _, err := New(Options{Config: &config.Config{}, Factory: factory}); err == nil {
		t.Error("New() without remotes should fail")
	}
}

func TestStartCreatesFirstSession(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	sess := h.factory.at(0)
	waitFor(t, "session started", func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.started
	})
	if got := sess.remote().Host; got != "10.0.0.1" {
		t.Errorf("first attempt remote = %s, want 10.0.0.1", got)
	}
	if h.events.countKind(EventReconnecting) != 0 {
		t.Error("first attempt must not emit Reconnecting")
	}
}

func TestStartIsIdempotentWhileSessionExists(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	h.ctrl.Start()
	h.ctrl.Start()
	settle()

	if got := h.factory.count(); got != 1 {
		t.Errorf("session count = %d, want 1", got)
	}
}

func TestStopIsTerminalAndSilent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Stop()
	waitFor(t, "halt", h.halted)

	if got := h.events.countKind(EventDisconnected); got != 1 {
		t.Errorf("Disconnected events = %d, want 1", got)
	}
	if !h.factory.at(0).isStopped() {
		t.Error("session should be stopped")
	}
	if n := h.factory.at(0).exitNotifies(); n != 0 {
		t.Errorf("hard stop sent %d exit notifications, want 0", n)
	}

	before := h.events.total()
	h.ctrl.Start()
	h.ctrl.Resume()
	h.ctrl.Reconnect(0)
	h.factory.at(0).notify.Terminated(FatalNone, "")
	settle()

	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions after stop = %d, want 1", got)
	}
	if got := h.events.total(); got != before {
		t.Errorf("events after stop grew from %d to %d", before, got)
	}

	// Second stop is a no-op.
	h.ctrl.Stop()
	settle()
	if got := h.events.countKind(EventDisconnected); got != 1 {
		t.Errorf("Disconnected events after double stop = %d, want 1", got)
	}
}

func TestGracefulStopNotifiesPeer(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.GracefulStop()
	waitFor(t, "halt", h.halted)

	if n := h.factory.at(0).exitNotifies(); n != 1 {
		t.Errorf("graceful stop sent %d exit notifications, want 1", n)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Pause()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	sess := h.factory.at(0)
	if !sess.isStopped() {
		t.Error("pause should stop the session")
	}
	if sess.exitNotifies() == 0 {
		t.Error("pause should notify the peer")
	}
	if h.stats.get(StatPause) != 1 {
		t.Error("pause should increment the pause stat")
	}

	// Second pause is a no-op.
	h.ctrl.Pause()
	settle()
	if got := h.events.countKind(EventPause); got != 1 {
		t.Errorf("Pause events = %d, want 1", got)
	}

	h.ctrl.Resume()
	waitFor(t, "resume event", func() bool { return h.events.countKind(EventResume) == 1 })
	waitFor(t, "new attempt", func() bool { return h.factory.count() == 2 })

	// Exactly one new attempt, announced by exactly one Reconnecting.
	settle()
	if got := h.factory.count(); got != 2 {
		t.Errorf("sessions after resume = %d, want 2", got)
	}
	if got := h.events.countKind(EventReconnecting); got != 1 {
		t.Errorf("Reconnecting events = %d, want 1", got)
	}

	// Resume while not paused is a no-op.
	h.ctrl.Resume()
	settle()
	if got := h.events.countKind(EventResume); got != 1 {
		t.Errorf("Resume events = %d, want 1", got)
	}
}

func TestConnectionTimeoutStops(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = config.Duration(30 * time.Millisecond)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "halt", h.halted)

	if got := h.events.countKind(EventConnectionTimeout); got != 1 {
		t.Errorf("ConnectionTimeout events = %d, want 1", got)
	}
	if h.stats.get(StatConnTimeout) != 1 {
		t.Error("connection timeout should increment its stat")
	}
	if got := h.events.countKind(EventDisconnected); got != 1 {
		t.Errorf("Disconnected events = %d, want 1", got)
	}
}

func TestConnectionTimeoutPausesWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = config.Duration(30 * time.Millisecond)
	cfg.PauseOnConnTimeout = true
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	if h.halted() {
		t.Fatal("pause-on-timeout must not halt the controller")
	}
	if h.events.countKind(EventConnectionTimeout) != 0 {
		t.Error("pause-on-timeout must not emit ConnectionTimeout")
	}
	if h.stats.get(StatConnTimeout) != 1 {
		t.Error("timeout stat should still be incremented")
	}

	h.ctrl.Resume()
	waitFor(t, "new attempt", func() bool { return h.factory.count() == 2 })
}

func TestConnectedDisarmsConnectionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = config.Duration(40 * time.Millisecond)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })
	h.factory.at(0).connect()

	time.Sleep(100 * time.Millisecond)
	if h.halted() {
		t.Fatal("connected session must disarm the connection timeout")
	}
	if h.events.countKind(EventConnectionTimeout) != 0 {
		t.Error("no ConnectionTimeout expected after connecting in time")
	}
}

func TestNoFaultTerminationSchedulesOneRestart(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.factory.at(0).terminate(FatalNone, "")
	waitFor(t, "restart attempt", func() bool { return h.factory.count() == 2 })

	settle()
	if got := h.factory.count(); got != 2 {
		t.Errorf("sessions = %d, want exactly 2", got)
	}
	if got := h.events.countKind(EventReconnecting); got != 1 {
		t.Errorf("Reconnecting events = %d, want 1", got)
	}
	if h.stats.get(StatReconnect) != 1 {
		t.Error("restart should increment the reconnect stat")
	}
}

func TestClientRestartRequestRetries(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.factory.at(0).terminate(FatalClientRestart, "server restart")
	waitFor(t, "restart attempt", func() bool { return h.factory.count() == 2 })

	ev, ok := h.events.find(EventClientRestart)
	if !ok {
		t.Fatal("ClientRestart event missing")
	}
	if ev.Reason != "server restart" {
		t.Errorf("ClientRestart reason = %q, want %q", ev.Reason, "server restart")
	}
	if h.stats.get(StatClientRestart) != 1 {
		t.Error("client restart should increment its stat")
	}
	if h.halted() {
		t.Error("client restart must not halt the controller")
	}
}

func TestDontRestartOverridesRetryableTermination(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.DontRestart()
	settle()
	h.factory.at(0).terminate(FatalClientRestart, "server restart")
	waitFor(t, "halt", h.halted)

	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1 (no restart)", got)
	}
	if h.events.countKind(EventClientRestart) != 0 {
		t.Error("dont-restart stop must not emit ClientRestart")
	}
	if got := h.events.countKind(EventDisconnected); got != 1 {
		t.Errorf("Disconnected events = %d, want 1", got)
	}
}

func TestAuthFailedStopsWithEvent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.factory.at(0).terminate(FatalAuthFailed, "bad password")
	waitFor(t, "halt", h.halted)

	ev, ok := h.events.find(EventAuthFailed)
	if !ok {
		t.Fatal("AuthFailed event missing")
	}
	if ev.Reason != "bad password" {
		t.Errorf("AuthFailed reason = %q, want %q", ev.Reason, "bad password")
	}
	if h.stats.get(StatAuthFailed) != 1 {
		t.Error("auth failure should increment its stat")
	}
	if h.events.countKind(EventDynamicChallenge) != 0 {
		t.Error("plain auth failure must not emit DynamicChallenge")
	}
}

func TestDynamicChallengeSuppressesAuthFailed(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	reason := "CRV1:R,E:abc123:dXNlcg==:Enter OTP"
	h.factory.at(0).terminate(FatalAuthFailed, reason)
	waitFor(t, "halt", h.halted)

	if got := h.events.countKind(EventDynamicChallenge); got != 1 {
		t.Fatalf("DynamicChallenge events = %d, want 1", got)
	}
	ev, _ := h.events.find(EventDynamicChallenge)
	if ev.Reason != reason {
		t.Errorf("DynamicChallenge reason = %q, want %q", ev.Reason, reason)
	}
	if h.events.countKind(EventAuthFailed) != 0 {
		t.Error("dynamic challenge must not emit AuthFailed")
	}
	if h.stats.get(StatAuthFailed) != 0 {
		t.Error("dynamic challenge must not increment the auth-failed stat")
	}
}

func TestTerminalClassifications(t *testing.T) {
	tests := []struct {
		name   string
		code   FatalCode
		reason string
		event  EventKind
		stat   string
	}{
		{"tun setup failed", FatalTunSetupFailed, "no tun", EventTunSetupFailed, StatTunSetupFailed},
		{"tun iface create", FatalTunIfaceCreate, "mkdev", EventTunIfaceCreate, StatTunIfaceCreate},
		{"tun iface disabled", FatalTunIfaceDisabled, "down", EventTunIfaceDisabled, StatTunIfaceDown},
		{"proxy error", FatalProxyError, "502", EventProxyError, StatProxyError},
		{"proxy need creds", FatalProxyNeedCreds, "407", EventProxyNeedCreds, StatProxyNeedCreds},
		{"cert verify fail", FatalCertVerifyFail, "expired", EventCertVerifyFail, StatCertVerifyFail},
		{"tls version min", FatalTLSVersionMin, "", EventTLSVersionMinFail, StatTLSVersionMin},
		{"client halt", FatalClientHalt, "banned", EventClientHalt, StatClientHalt},
		{"inactive timeout", FatalInactiveTimeout, "", EventInactiveTimeout, StatInactiveTO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), nil)

			h.ctrl.Start()
			waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

			h.factory.at(0).terminate(tt.code, tt.reason)
			waitFor(t, "halt", h.halted)

			if got := h.events.countKind(tt.event); got != 1 {
				t.Errorf("%s events = %d, want 1", tt.event, got)
			}
			if got := h.stats.get(tt.stat); got != 1 {
				t.Errorf("stat %q = %d, want 1", tt.stat, got)
			}
			if got := h.factory.count(); got != 1 {
				t.Errorf("sessions = %d, want 1 (terminal stop)", got)
			}
		})
	}
}

func TestUnknownFatalCodeIsADefect(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	defer func() {
		if recover() == nil {
			t.Fatal("unknown fatal code should panic")
		}
	}()
	// White-box: invoke the classification directly so the panic lands
	// on this goroutine instead of the event loop.
	h.ctrl.sessionTerminated(FatalCode(99), "")
}

func TestEndpointRotation(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })
	if got := h.factory.at(0).remote().Host; got != "10.0.0.1" {
		t.Fatalf("attempt 1 remote = %s, want 10.0.0.1", got)
	}

	// Never got anywhere: rotate.
	h.factory.at(0).terminate(FatalNone, "")
	waitFor(t, "second attempt", func() bool { return h.factory.count() == 2 })
	if got := h.factory.at(1).remote().Host; got != "10.0.0.2" {
		t.Errorf("attempt 2 remote = %s, want 10.0.0.2", got)
	}

	// Reached connected then failed: retry the same remote.
	h.factory.at(1).connect()
	settle()
	h.factory.at(1).terminate(FatalNone, "")
	waitFor(t, "third attempt", func() bool { return h.factory.count() == 3 })
	if got := h.factory.at(2).remote().Host; got != "10.0.0.2" {
		t.Errorf("attempt 3 remote = %s, want 10.0.0.2 (no rotation after connected)", got)
	}
}

func TestServerPollTimeoutRotates(t *testing.T) {
	cfg := testConfig()
	cfg.ServerPollTimeout = config.Duration(25 * time.Millisecond)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	// No packet arrives: the poll timeout starts the next attempt on the
	// next remote.
	waitFor(t, "second attempt", func() bool { return h.factory.count() == 2 })
	if got := h.factory.at(1).remote().Host; got != "10.0.0.2" {
		t.Errorf("attempt 2 remote = %s, want 10.0.0.2", got)
	}
}

func TestServerPollTimeoutIgnoredAfterFirstPacket(t *testing.T) {
	cfg := testConfig()
	cfg.ServerPollTimeout = config.Duration(25 * time.Millisecond)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })
	h.factory.at(0).receiveFirstPacket()

	time.Sleep(80 * time.Millisecond)
	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1 (poll timeout must not fire)", got)
	}
}

func TestStaleTimerCallbacksAreIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	// Callbacks captured at generation 0 are stale once attempt 1 runs,
	// even if the underlying timer managed to fire.
	h.ctrl.post(func() { h.ctrl.restartWaitExpired(0) })
	h.ctrl.post(func() { h.ctrl.serverPollExpired(0) })
	settle()

	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1 (stale callbacks must be no-ops)", got)
	}
	if got := h.events.countKind(EventReconnecting); got != 0 {
		t.Errorf("Reconnecting events = %d, want 0", got)
	}
}

func TestReconnectSchedulesNewAttempt(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Reconnect(10 * time.Millisecond)
	waitFor(t, "second attempt", func() bool { return h.factory.count() == 2 })

	// The superseded session is told about the restart before teardown.
	if h.factory.at(0).exitNotifies() == 0 {
		t.Error("reconnect should send an exit notification to the old session")
	}
}

func TestReconnectClampsNegativeDelay(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Reconnect(-5 * time.Second)
	waitFor(t, "immediate second attempt", func() bool { return h.factory.count() == 2 })
}

func TestReconnectWhilePausedResumes(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Pause()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	h.ctrl.Reconnect(10 * time.Millisecond)
	waitFor(t, "resume event", func() bool { return h.events.countKind(EventResume) == 1 })
	waitFor(t, "new attempt", func() bool { return h.factory.count() == 2 })
}

func TestPauseCancelsPendingRestart(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Reconnect(30 * time.Millisecond)
	h.ctrl.Pause()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	time.Sleep(80 * time.Millisecond)
	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1 (pause cancels the pending restart)", got)
	}
	if h.events.countKind(EventResume) != 0 {
		t.Error("no Resume expected")
	}
}

// fakeResolver is a scriptable PreResolver.
type fakeResolver struct {
	mu         sync.Mutex
	work       bool
	cancelled  bool
	applied    bool
	onComplete func()
}

func (fr *fakeResolver) WorkAvailable() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.work
}

func (fr *fakeResolver) Start(onComplete func()) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.onComplete = onComplete
}

func (fr *fakeResolver) Cancel() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.cancelled = true
}

func (fr *fakeResolver) Apply(rl *RemoteList) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.applied = true
}

func (fr *fakeResolver) complete() {
	fr.mu.Lock()
	cb := fr.onComplete
	fr.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (fr *fakeResolver) wasCancelled() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.cancelled
}

func (fr *fakeResolver) wasApplied() bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.applied
}

func TestStartWaitsForResolution(t *testing.T) {
	resolver := &fakeResolver{work: true}
	h := newHarness(t, testConfig(), resolver)

	h.ctrl.Start()
	waitFor(t, "resolve event", func() bool { return h.events.countKind(EventResolve) == 1 })

	settle()
	if got := h.factory.count(); got != 0 {
		t.Fatalf("sessions before resolution = %d, want 0", got)
	}

	resolver.complete()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })
	if !resolver.wasApplied() {
		t.Error("resolved addresses should be applied to the remote list")
	}
}

func TestStopCancelsPendingResolution(t *testing.T) {
	resolver := &fakeResolver{work: true}
	h := newHarness(t, testConfig(), resolver)

	h.ctrl.Start()
	waitFor(t, "resolve event", func() bool { return h.events.countKind(EventResolve) == 1 })

	h.ctrl.Stop()
	waitFor(t, "halt", h.halted)

	if !resolver.wasCancelled() {
		t.Error("stop should cancel in-flight resolution")
	}

	resolver.complete()
	settle()
	if got := h.factory.count(); got != 0 {
		t.Errorf("sessions = %d, want 0 (late resolution must be ignored)", got)
	}
}

func TestStartSkipsResolverWithoutWork(t *testing.T) {
	resolver := &fakeResolver{work: false}
	h := newHarness(t, testConfig(), resolver)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	if h.events.countKind(EventResolve) != 0 {
		t.Error("no Resolve event expected when the resolver has no work")
	}
}

func TestLateConnectionTimeoutAfterConnectIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = config.Duration(time.Hour)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })
	h.factory.at(0).connect()

	// The timer goroutine can deliver its callback after the disarm; the
	// cleared pending flag must make it a no-op.
	h.ctrl.post(h.ctrl.connTimerExpired)
	settle()

	if h.halted() {
		t.Fatal("controller halted after successful connect")
	}
	if h.events.countKind(EventConnectionTimeout) != 0 {
		t.Error("no ConnectionTimeout expected after the timer was disarmed")
	}
	if h.stats.get(StatConnTimeout) != 0 {
		t.Error("no timeout stat expected after the timer was disarmed")
	}
}

func TestServerPollCallbackRacingPauseIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Pause()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	// A poll callback captured before the pause can fire just before its
	// timer is cancelled; pause invalidates its generation.
	h.ctrl.post(func() { h.ctrl.serverPollExpired(1) })
	settle()

	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1 (no attempt may start while paused)", got)
	}
	if h.events.countKind(EventReconnecting) != 0 {
		t.Error("no Reconnecting expected while paused")
	}
}

func TestRestartWaitCallbackRacingPauseIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Pause()
	waitFor(t, "pause event", func() bool { return h.events.countKind(EventPause) == 1 })

	// A restart-wait callback scheduled before the pause must not act as
	// a resume; only restarts scheduled while paused may.
	h.ctrl.post(func() { h.ctrl.restartWaitExpired(1) })
	settle()

	if h.events.countKind(EventResume) != 0 {
		t.Error("pre-pause restart callback must not resume")
	}
	if got := h.factory.count(); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestStaleSessionTerminationIsIgnored(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Reconnect(0)
	waitFor(t, "second attempt", func() bool { return h.factory.count() == 2 })

	// The superseded session can race its own stop and still report; its
	// verdict must not reach the new attempt.
	h.factory.at(0).notify.Terminated(FatalAuthFailed, "stale auth failure")
	settle()

	if h.halted() {
		t.Fatal("stale termination halted the controller")
	}
	if h.events.countKind(EventAuthFailed) != 0 {
		t.Error("no AuthFailed expected from a superseded session")
	}

	h.factory.at(0).notify.Terminated(FatalNone, "")
	settle()
	if got := h.factory.count(); got != 2 {
		t.Errorf("sessions = %d, want 2 (stale no-fault must not schedule a restart)", got)
	}
}

func TestStaleSessionConnectedIsIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.ConnTimeout = config.Duration(40 * time.Millisecond)
	h := newHarness(t, cfg, nil)

	h.ctrl.Start()
	waitFor(t, "first session", func() bool { return h.factory.count() == 1 })

	h.ctrl.Reconnect(0)
	waitFor(t, "second attempt", func() bool { return h.factory.count() == 2 })

	// A connected report from the superseded attempt must not disarm the
	// connection timeout, so the timeout still fires.
	h.factory.at(0).notify.Connected()
	waitFor(t, "halt", h.halted)

	if h.events.countKind(EventConnectionTimeout) != 1 {
		t.Error("connection timeout should still fire after a stale connect")
	}
}

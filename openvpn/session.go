// Package openvpn provides a tunnel session implementation backed by an
// OpenVPN client process. One Session drives exactly one process for one
// connection attempt; the connect.Controller creates and replaces
// sessions as its retry policy dictates.
package openvpn

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/skobel/tunnelclient/common"
	"github.com/skobel/tunnelclient/connect"
)

// killGrace is how long a graceful stop waits for the process to exit
// before it is killed.
const killGrace = 5 * time.Second

// Session is one OpenVPN process lifetime. It implements connect.Session
// and reports progress through the connect.SessionNotify it was built
// with.
type Session struct {
	id     string
	cfg    connect.SessionConfig
	notify connect.SessionNotify

	mu          sync.Mutex
	cmd         *exec.Cmd
	credFile    string
	firstPacket bool
	connected   bool
	stopped     bool
	exitSent    bool
	fatalCode   connect.FatalCode
	fatalReason string
}

// NewFactory returns a connect.SessionFactory that builds OpenVPN-backed
// sessions. Each session gets a fresh ID used to correlate its log lines.
func NewFactory() connect.SessionFactory {
	return func(cfg connect.SessionConfig, notify connect.SessionNotify) connect.Session {
		return &Session{
			id:     uuid.NewString()[:8],
			cfg:    cfg,
			notify: notify,
		}
	}
}

// Start spawns the OpenVPN process and begins monitoring its output.
// Failures to even launch the process are reported as a tunnel setup
// failure through the notify target.
func (s *Session) Start() {
	credFile, err := s.writeCredentials()
	if err != nil {
		common.LogError("session %s: could not write credentials: %v", s.id, err)
		s.fail(connect.FatalTunSetupFailed, fmt.Sprintf("credentials: %v", err))
		return
	}

	args := []string{
		"--config", s.cfg.OpenVPN.ConfigPath,
		"--remote", s.cfg.Remote.Host, strconv.Itoa(s.cfg.Remote.Port), s.cfg.Remote.Proto,
		"--verb", "3",
	}
	if credFile != "" {
		args = append(args, "--auth-user-pass", credFile)
	}

	cmd := exec.Command("openvpn", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.removeCredentials()
		s.fail(connect.FatalTunSetupFailed, err.Error())
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.removeCredentials()
		s.fail(connect.FatalTunSetupFailed, err.Error())
		return
	}

	s.mu.Lock()
	s.cmd = cmd
	s.credFile = credFile
	s.mu.Unlock()

	common.LogInfo("session %s: starting openvpn to %s", s.id, s.cfg.Remote)
	if err := cmd.Start(); err != nil {
		common.LogError("session %s: could not start openvpn: %v", s.id, err)
		s.removeCredentials()
		s.fail(connect.FatalTunSetupFailed, fmt.Sprintf("start openvpn: %v", err))
		return
	}
	common.LogDebug("session %s: openvpn pid %d", s.id, cmd.Process.Pid)

	go s.monitorOutput(stdout)
	go s.monitorOutput(stderr)
	go s.waitForExit()
}

// Stop tears the process down. A session that has been stopped reports no
// further notifications.
func (s *Session) Stop(sendExitNotify bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		s.removeCredentials()
		return
	}
	if sendExitNotify {
		// SIGTERM lets OpenVPN send its exit notification and clean up
		// routes; escalate if it lingers.
		_ = cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			time.Sleep(killGrace)
			_ = cmd.Process.Kill()
		}()
	} else {
		_ = cmd.Process.Kill()
	}
}

// SendExplicitExitNotify tells the remote peer about the intentional
// disconnect without tearing the session down here; process exit is then
// observed by the wait goroutine.
func (s *Session) SendExplicitExitNotify() {
	s.mu.Lock()
	if s.exitSent || s.stopped {
		s.mu.Unlock()
		return
	}
	s.exitSent = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

// FirstPacketReceived reports whether the server has responded at all.
func (s *Session) FirstPacketReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstPacket
}

// ReachedConnectedState reports whether this attempt ever fully
// connected.
func (s *Session) ReachedConnectedState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// monitorOutput scans one process output stream, classifying the lines
// that change session state.
func (s *Session) monitorOutput(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		common.LogDebug("session %s: openvpn: %s", s.id, line)

		if markConnected(line) {
			s.mu.Lock()
			s.firstPacket = true
			s.connected = true
			stopped := s.stopped
			s.mu.Unlock()
			common.LogInfo("session %s: connection established", s.id)
			if !stopped {
				s.notify.Connected()
			}
			continue
		}
		if markFirstPacket(line) {
			s.mu.Lock()
			s.firstPacket = true
			s.mu.Unlock()
			continue
		}
		if code, reason, ok := classifyLine(line); ok {
			s.mu.Lock()
			// First classified failure wins; later noise keeps out.
			if s.fatalCode == connect.FatalNone {
				s.fatalCode = code
				s.fatalReason = reason
			}
			s.mu.Unlock()
		}
	}
}

// waitForExit blocks on the process and reports the termination unless
// the controller stopped this session itself.
func (s *Session) waitForExit() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	err := cmd.Wait()
	s.removeCredentials()

	s.mu.Lock()
	stopped := s.stopped
	code := s.fatalCode
	reason := s.fatalReason
	s.mu.Unlock()

	if stopped {
		return
	}
	if err != nil {
		common.LogWarn("session %s: openvpn exited: %v (%s)", s.id, err, code)
	} else {
		common.LogInfo("session %s: openvpn exited normally", s.id)
	}
	s.notify.Terminated(code, reason)
}

// fail reports a session that never got a process off the ground.
func (s *Session) fail(code connect.FatalCode, reason string) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.notify.Terminated(code, reason)
	}
}

// writeCredentials creates the temporary auth-user-pass file. Returns an
// empty path when the session has no credentials.
func (s *Session) writeCredentials() (string, error) {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return "", nil
	}

	tmpDir := filepath.Join(os.TempDir(), common.ConfigDirName)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", err
	}

	credFile := filepath.Join(tmpDir, fmt.Sprintf("cred-%s-%d", s.id, time.Now().UnixNano()))
	content := fmt.Sprintf("%s\n%s\n", s.cfg.Username, s.cfg.Password)
	if err := os.WriteFile(credFile, []byte(content), 0600); err != nil {
		return "", err
	}
	return credFile, nil
}

// removeCredentials deletes the temporary credentials file, if any.
func (s *Session) removeCredentials() {
	s.mu.Lock()
	credFile := s.credFile
	s.credFile = ""
	s.mu.Unlock()
	if credFile != "" {
		os.Remove(credFile)
	}
}

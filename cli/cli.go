// Package cli provides the command-line interface for the tunnel client.
// It wires the configuration, credential store, stats store, and OpenVPN
// session factory into a connection controller and drives it from the
// terminal.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/skobel/tunnelclient/common"
	"github.com/skobel/tunnelclient/config"
	"github.com/skobel/tunnelclient/connect"
	"github.com/skobel/tunnelclient/keyring"
	"github.com/skobel/tunnelclient/openvpn"
	"github.com/skobel/tunnelclient/stats"
)

// CLI drives a tunnel client session from the terminal.
type CLI struct {
	cfg *config.Config
}

// New loads the configuration and creates a CLI instance.
func New(configPath string) (*CLI, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &CLI{cfg: cfg}, nil
}

// Config returns the loaded configuration.
func (c *CLI) Config() *config.Config {
	return c.cfg
}

// Run connects and keeps the tunnel up until the controller halts or the
// process receives a termination signal. SIGUSR1 pauses the connection
// and SIGUSR2 resumes it.
func (c *CLI) Run() error {
	username, password, err := c.credentials()
	if err != nil {
		return err
	}

	statsStore, err := stats.Open("")
	if err != nil {
		return err
	}
	defer statsStore.Close()

	ctrl, err := connect.New(connect.Options{
		Config:   c.cfg,
		Factory:  openvpn.NewFactory(),
		Events:   connect.LogEvents(),
		Stats:    statsStore,
		Resolver: connect.NewHostResolver(c.cfg.Remotes),
		Username: username,
		Password: password,
	})
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	ctrl.Start()

	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				common.LogInfo("pausing on signal")
				ctrl.Pause()
			case syscall.SIGUSR2:
				common.LogInfo("resuming on signal")
				ctrl.Resume()
			default:
				common.LogInfo("shutting down on signal %v", sig)
				ctrl.GracefulStop()
			}
		case <-ctrl.Done():
			return nil
		}
	}
}

// CheckConfig validates the configuration and prints the remote list.
func (c *CLI) CheckConfig() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tPORT\tPROTO")
	for _, r := range c.cfg.Remotes {
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.Host, r.Port, r.Proto)
	}
	w.Flush()

	fmt.Printf("\nconn_timeout: %s\n", c.cfg.ConnTimeout.Std())
	fmt.Printf("server_poll_timeout: %s\n", c.cfg.ServerPollTimeout.Std())
	fmt.Printf("restart_delay: %s\n", c.cfg.RestartDelay.Std())
	fmt.Printf("pause_on_conn_timeout: %v\n", c.cfg.PauseOnConnTimeout)
	return nil
}

// ShowStats prints the persisted error counters.
func (c *CLI) ShowStats() error {
	store, err := stats.Open("")
	if err != nil {
		return err
	}
	defer store.Close()

	counters, err := store.Snapshot()
	if err != nil {
		return err
	}
	if len(counters) == 0 {
		fmt.Println("No error stats recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTER\tCOUNT")
	for _, counter := range counters {
		fmt.Fprintf(w, "%s\t%d\n", counter.Name, counter.Count)
	}
	return w.Flush()
}

// credentials resolves the username and password for the session,
// consulting the keyring first and prompting on the terminal when
// nothing is stored.
func (c *CLI) credentials() (string, string, error) {
	username := c.cfg.OpenVPN.Username
	if username == "" {
		return "", "", nil
	}

	store, err := keyring.New()
	if err != nil {
		return "", "", err
	}

	password, err := store.Get(username)
	if err == nil {
		return username, password, nil
	}

	fmt.Printf("Password for %s: ", username)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", "", common.WrapError(err, "failed to read password")
	}
	password = string(raw)

	if c.cfg.OpenVPN.SavePassword && password != "" {
		if err := store.Store(username, password); err != nil {
			common.LogWarn("could not save password: %v", err)
		}
	}
	return username, password, nil
}

// PrintHelp prints usage information.
func PrintHelp() {
	fmt.Printf(`%s - tunnel client with automatic reconnection

Usage:
  tunnelclient [options]

Options:
  -config PATH   Configuration file (default: ~/.config/%s/%s)
  -check         Validate the configuration and exit
  -stats         Show persisted error counters and exit
  -verbose       Enable debug logging
  -version       Show version and exit
  -help          Show this help

Signals:
  SIGINT/SIGTERM  Disconnect gracefully and exit
  SIGUSR1         Pause the connection
  SIGUSR2         Resume the connection
`, common.AppName, common.ConfigDirName, common.ConfigFileName)
}

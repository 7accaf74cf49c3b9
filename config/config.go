// Package config provides configuration management for the tunnel client.
// It handles loading, saving, and validating client settings, including the
// remote endpoint list consumed by the connection controller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skobel/tunnelclient/common"
)

// Duration wraps time.Duration so it can be written as "30s" or "2m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string like "30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Remote describes one candidate server endpoint.
type Remote struct {
	// Host is a hostname or IP address literal.
	Host string `yaml:"host"`
	// Port is the server port.
	Port int `yaml:"port"`
	// Proto is the transport protocol: "udp" or "tcp".
	Proto string `yaml:"proto"`
}

// Addr returns the host:port form of the remote.
func (r Remote) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// String returns a human-readable representation of the remote.
func (r Remote) String() string {
	return fmt.Sprintf("%s:%d/%s", r.Host, r.Port, r.Proto)
}

// OpenVPN holds settings for the process-backed tunnel session.
type OpenVPN struct {
	// ConfigPath is the path to the OpenVPN configuration file.
	ConfigPath string `yaml:"config_path"`
	// Username is the optional username for authentication.
	Username string `yaml:"username,omitempty"`
	// SavePassword indicates whether the password is kept in the keyring.
	SavePassword bool `yaml:"save_password"`
}

// Log holds logging settings.
type Log struct {
	// Level is the minimum log level: "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
	// EnableFile enables logging to a rotated file in the config directory.
	EnableFile bool `yaml:"enable_file"`
}

// Config represents the tunnel client configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Remotes is the ordered list of candidate server endpoints.
	Remotes []Remote `yaml:"remotes"`
	// ConnTimeout bounds the time an attempt may take to reach the
	// connected state. Zero disables the timeout.
	ConnTimeout Duration `yaml:"conn_timeout,omitempty"`
	// ServerPollTimeout bounds the time an attempt may wait for the first
	// packet from the server. Zero disables the poll timer.
	ServerPollTimeout Duration `yaml:"server_poll_timeout,omitempty"`
	// RestartDelay is the fixed wait before a retryable termination is
	// followed by a new attempt.
	RestartDelay Duration `yaml:"restart_delay,omitempty"`
	// PauseOnConnTimeout makes a connection timeout pause the controller
	// instead of stopping it.
	PauseOnConnTimeout bool `yaml:"pause_on_conn_timeout"`
	// OpenVPN configures the process-backed tunnel session.
	OpenVPN OpenVPN `yaml:"openvpn"`
	// Log configures logging.
	Log Log `yaml:"log"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ConnTimeout:        Duration(common.DefaultConnTimeout),
		ServerPollTimeout:  Duration(common.DefaultServerPollTimeout),
		RestartDelay:       Duration(common.DefaultRestartDelay),
		PauseOnConnTimeout: false,
		Log: Log{
			Level:      "info",
			EnableFile: true,
		},
	}
}

// Load loads the configuration from the given path.
// An empty path loads from the default location in the user's config
// directory, creating a default file if none exists.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = defaultPath()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, common.WrapError(err, "error opening configuration")
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, common.WrapError(err, "error parsing configuration")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate verifies that configuration values are usable.
func (c *Config) Validate() error {
	if len(c.Remotes) == 0 {
		return common.ErrNoRemotes
	}
	for i, r := range c.Remotes {
		if r.Host == "" {
			return fmt.Errorf("%w: remote %d has no host", common.ErrInvalidConfig, i)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("%w: remote %d has invalid port %d", common.ErrInvalidConfig, i, r.Port)
		}
		switch r.Proto {
		case "udp", "tcp":
		case "":
			c.Remotes[i].Proto = "udp"
		default:
			return fmt.Errorf("%w: remote %d has invalid proto %q", common.ErrInvalidConfig, i, r.Proto)
		}
	}
	if c.ConnTimeout < 0 || c.ServerPollTimeout < 0 || c.RestartDelay < 0 {
		return fmt.Errorf("%w: negative timeout", common.ErrInvalidConfig)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		c.Log.Level = "info" // Fallback to default
	}
	return nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = defaultPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return common.WrapError(err, "error creating config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return common.WrapError(err, "error serializing configuration")
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return common.WrapError(err, "error saving configuration")
	}

	return nil
}

func defaultPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, common.ConfigFileName), nil
}

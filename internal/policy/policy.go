// Package policy holds the runtime configuration of the orchestrator: timing
// knobs, retry parameters, the message threshold, and file locations. The
// workflow file describes WHAT runs; policy describes HOW the runtime behaves.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default global state directory (~/.config/weft).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "weft")
}

// GlobalLedgerFile returns the default run-ledger database path.
func GlobalLedgerFile() string {
	return filepath.Join(GlobalStateDir(), "runs.sqlite")
}

// RetryConfig controls backend failure handling per controller.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffMs         int     `yaml:"backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`
}

// Config holds runtime configuration. Zero values fall back to defaults.
type Config struct {
	// PollIntervalMs is the controller inbox poll floor.
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// IdleDebounceMs is how long the global-idle predicate must hold before
	// the scheduler shuts down.
	IdleDebounceMs int `yaml:"idle_debounce_ms"`
	// MessageThreshold is the smart-send extraction threshold in bytes.
	MessageThreshold int `yaml:"message_threshold"`
	// HTTPAddr is the MCP server bind address. Empty means loopback with an
	// ephemeral port.
	HTTPAddr string `yaml:"http_addr"`
	// ExitOnIdle stops the workflow when global idle is detected.
	ExitOnIdle *bool `yaml:"exit_on_idle"`
	// ActivityWindow is how many recent messages a prompt carries.
	ActivityWindow int `yaml:"activity_window"`
	// SendTimeoutSeconds bounds one backend invocation.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`

	Retry RetryConfig `yaml:"retry"`

	// LedgerFile is the run-ledger sqlite path; "none" disables the ledger.
	LedgerFile string `yaml:"ledger_file"`
	// LogFile is the orchestrator log path; "none" disables file logging.
	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	exitOnIdle := true
	return &Config{
		PollIntervalMs:     500,
		IdleDebounceMs:     2000,
		MessageThreshold:   2000,
		ExitOnIdle:         &exitOnIdle,
		ActivityWindow:     20,
		SendTimeoutSeconds: 300,
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffMs:         1000,
			BackoffMultiplier: 2,
			MaxBackoffMs:      120000,
		},
	}
}

// LoadConfig loads configuration from a YAML file, applying defaults for
// anything unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// PollInterval returns the configured poll interval.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// IdleDebounce returns the global-idle debounce window.
func (c *Config) IdleDebounce() time.Duration {
	if c.IdleDebounceMs <= 0 {
		return 4 * c.PollInterval()
	}
	return time.Duration(c.IdleDebounceMs) * time.Millisecond
}

// SendTimeout returns the per-invocation backend timeout.
func (c *Config) SendTimeout() time.Duration {
	if c.SendTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// Backoff returns the first retry delay.
func (c *Config) Backoff() time.Duration {
	if c.Retry.BackoffMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Retry.BackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (c *Config) MaxBackoff() time.Duration {
	if c.Retry.MaxBackoffMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond
}

// ShouldExitOnIdle reports whether global idle ends the workflow.
func (c *Config) ShouldExitOnIdle() bool {
	return c.ExitOnIdle == nil || *c.ExitOnIdle
}

// ResolvedLedgerFile returns the run-ledger path, or "" when disabled.
func (c *Config) ResolvedLedgerFile() string {
	switch c.LedgerFile {
	case "none", "off":
		return ""
	case "":
		return GlobalLedgerFile()
	}
	return c.LedgerFile
}

// ResolvedLogFile returns the log path, or "" when file logging is disabled.
func (c *Config) ResolvedLogFile() string {
	switch c.LogFile {
	case "none", "off":
		return ""
	case "":
		return filepath.Join(GlobalStateDir(), "weft.log")
	}
	return c.LogFile
}

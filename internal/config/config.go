// Package config provides configuration for the debug bridge.
//
// Configuration controls which interpreter and adapter module owned
// sessions spawn, the default attach port, and the limit on concurrent
// sessions; it also carries a session idle timeout value that no
// component enforces. Configuration can be loaded from a JSON file or
// use sensible defaults.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Interpreter is the Python executable used for owned sessions
	// unless a tool call overrides it.
	Interpreter string `json:"interpreter"`

	// AdapterModule is the Python module invoked with -m, normally
	// "debugpy".
	AdapterModule string `json:"adapterModule"`

	// DefaultAttachPort is the port attach_to_debugpy targets when the
	// caller does not specify one.
	DefaultAttachPort int `json:"defaultAttachPort"`

	// MaxSessions caps concurrent sessions in the registry.
	MaxSessions int `json:"maxSessions"`

	// SessionTimeout is how long an idle session may remain without an
	// operation. It is loaded and defaulted here, but nothing reads it:
	// idle sessions are not reclaimed. In JSON it is an integer number
	// of nanoseconds.
	SessionTimeout time.Duration `json:"sessionTimeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interpreter:       "python3",
		AdapterModule:     "debugpy",
		DefaultAttachPort: 5678,
		MaxSessions:       16,
		SessionTimeout:    30 * time.Minute,
	}
}

// LoadConfig loads configuration from a JSON file, falling back to
// DefaultConfig's values for any field the file omits.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

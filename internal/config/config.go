// Package config loads and watches the FireZap YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Transport TransportConfig `yaml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr  string `yaml:"addr"`  // listen address, e.g. ":3000"
	Token string `yaml:"token"` // bearer token; empty disables auth
}

// DataConfig configures on-disk state.
type DataConfig struct {
	Dir string `yaml:"dir"` // root data dir; session credentials live under <dir>/sessions/<id>
}

// TransportConfig selects and configures the session transport.
type TransportConfig struct {
	// Kind is "whatsapp" (in-process whatsmeow client) or "process"
	// (supervised external worker speaking the stdout marker protocol).
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command"` // process kind: executable to spawn
	Args    []string `yaml:"args"`    // process kind: args before the session id
}

// ReconnectConfig controls the bounded backoff applied after a lost
// connection. Error and Exited states are never retried.
type ReconnectConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"` // first retry delay (default 1500)
	MaxDelayMs  int `yaml:"max_delay_ms"`  // backoff cap (default 30000)
	MaxAttempts int `yaml:"max_attempts"`  // attempts before giving up (default 5)
}

// BaseDelay returns the configured base delay as a duration.
func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the configured delay cap as a duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"` // per-IP connect/request rate (0 disables)
	Burst         int `yaml:"burst"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // e.g. "localhost:4318"
	Protocol    string `yaml:"protocol"` // "http" (default) or "grpc"
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{Addr: ":3000"},
		Data:   DataConfig{Dir: filepath.Join(home, ".firezap")},
		Transport: TransportConfig{
			Kind: "whatsapp",
		},
		Reconnect: ReconnectConfig{
			BaseDelayMs: 1500,
			MaxDelayMs:  30000,
			MaxAttempts: 5,
		},
		Gateway: GatewayConfig{
			RatePerMinute: 120,
			Burst:         20,
		},
	}
}

// Load reads the config file at path, applying defaults and environment
// overrides. A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FIREZAP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FIREZAP_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("FIREZAP_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case "whatsapp", "process":
	default:
		return fmt.Errorf("transport.kind must be \"whatsapp\" or \"process\", got %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "process" && c.Transport.Command == "" {
		return fmt.Errorf("transport.command is required for transport.kind=process")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0")
	}
	return nil
}

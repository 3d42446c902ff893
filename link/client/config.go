package client

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// defaultPort and defaultTimeoutMS mirror the spec's documented defaults.
const (
	defaultPort      = 8123
	defaultTimeoutMS = 1500
)

// Config is the client engine's construction-time configuration surface.
// SSID/Password are passed through to the Network implementation's BringUp; the
// core engine never interprets them itself (network bring-up is an external
// collaborator, see Network in network.go).
type Config struct {
	MyID      string `toml:"my_id"`
	Server    string `toml:"server"`
	Port      int    `toml:"port"`
	TimeoutMS int    `toml:"timeout_ms"`
	SSID      string `toml:"ssid"`
	Password  string `toml:"password"`
	Verbose   bool   `toml:"verbose"`
	Watchdog  bool   `toml:"watchdog"`
}

// LoadConfig parses a TOML file at path into a Config and applies defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("client: load config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = defaultTimeoutMS
	}
}

func (c *Config) validate() error {
	if c.MyID == "" {
		return fmt.Errorf("client: my_id is required")
	}
	if c.Server == "" {
		return fmt.Errorf("client: server is required")
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

package hub

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultPort      = 8123
	defaultTimeoutMS = 1500
)

// Config is the hub engine's construction-time configuration surface.
type Config struct {
	ExpectedIDs []string `toml:"expected_ids"`
	Port        int      `toml:"port"`
	TimeoutMS   int      `toml:"timeout_ms"`
	Verbose     bool     `toml:"verbose"`
}

// LoadConfig parses a TOML file at path into a Config and applies defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("hub: load config %s: %w", path, err)
	}
	cfg.applyDefaults()
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

func (c *Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

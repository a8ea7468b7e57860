/*
Package config loads service configuration from a TOML file with
sensible defaults for local development.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
	Monitor   Monitor   `toml:"monitor"`
	Reconcile Reconcile `toml:"reconcile"`
}

// Server configures the HTTP listener.
type Server struct {
	Listen string `toml:"listen"`
}

// Database configures the SQLite store.
type Database struct {
	Path string `toml:"path"`
}

// Monitor configures the external fleet monitor client.
type Monitor struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// Reconcile configures the background status reconciliation loop.
type Reconcile struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration lets TOML carry values like "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:   Server{Listen: ":8080"},
		Database: Database{Path: "./data/vendcore.db"},
		Monitor: Monitor{
			BaseURL: "http://localhost:9090",
			Timeout: duration{4 * time.Second},
		},
		Reconcile: Reconcile{
			Enabled:  true,
			Interval: duration{30 * time.Second},
		},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server.Listen == "" {
		return cfg, fmt.Errorf("server.listen must not be empty")
	}
	if cfg.Database.Path == "" {
		return cfg, fmt.Errorf("database.path must not be empty")
	}
	if cfg.Reconcile.Enabled && cfg.Reconcile.Interval.Duration <= 0 {
		return cfg, fmt.Errorf("reconcile.interval must be positive when enabled")
	}
	return cfg, nil
}

// MonitorTimeout returns the configured monitor timeout, falling back
// to the default when unset.
func (c Config) MonitorTimeout() time.Duration {
	if c.Monitor.Timeout.Duration <= 0 {
		return 4 * time.Second
	}
	return c.Monitor.Timeout.Duration
}

// Package config loads server configuration from an optional YAML file
// over built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	Database  Database  `yaml:"database"`
	Session   Session   `yaml:"session"`
	WebSocket WebSocket `yaml:"websocket"`
}

// Database selects the SQL backend. Driver is "postgres" in production;
// tests use the pure-Go "sqlite" driver.
type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Session tunes per-document session behavior.
type Session struct {
	// RecentOpsCap bounds the per-document buffer of recently applied
	// operations used for transformation.
	RecentOpsCap int `yaml:"recent_ops_cap"`

	// IdleEviction is how long a session may sit quiescent with no
	// subscribers before it is evicted. Zero disables eviction.
	IdleEviction time.Duration `yaml:"idle_eviction"`
}

// WebSocket tunes the transport layer.
type WebSocket struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxClients     int           `yaml:"max_clients"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		Env:      "dev",
		LogLevel: "info",
		Database: Database{
			Driver: "postgres",
			DSN:    "postgres://localhost/collabdocs?sslmode=disable",
		},
		Session: Session{
			RecentOpsCap: 100,
			IdleEviction: 10 * time.Minute,
		},
		WebSocket: WebSocket{
			MaxMessageSize: 512 * 1024, // 512KB
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxClients:     1000,
		},
	}
}

// Load reads configuration from path, overlaying defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Session.RecentOpsCap <= 0 {
		cfg.Session.RecentOpsCap = 100
	}
	return cfg, nil
}

// Package config loads the courier TOML configuration. The same file
// carries a [server] section for courierd and a [client] section for the
// courier CLI; each binary reads only its own.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Server configures the courierd daemon.
type Server struct {
	ListenAddr        string     `toml:"listen_addr"`
	DatabasePath      string     `toml:"database_path"`
	LogPath           string     `toml:"log_path"`
	SubscriberBuffer  int        `toml:"subscriber_buffer"`
	PairingTTLMinutes int        `toml:"pairing_ttl_minutes"`
	Identities        []Identity `toml:"identities"`
}

// Identity seeds one account and its opaque bearer token. Token issuance
// itself lives outside courier; this is only the lookup table.
type Identity struct {
	ID    string `toml:"id"`
	Token string `toml:"token"`
}

// Client configures the courier CLI for one device.
type Client struct {
	ServerURL      string `toml:"server_url"`
	Token          string `toml:"token"`
	DeviceID       string `toml:"device_id"`
	DefaultProfile string `toml:"default_profile"`
}

// Config is the full file.
type Config struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
}

// PairingTTL returns the configured pairing session lifetime, or zero when
// unset so callers fall back to their default.
func (s Server) PairingTTL() time.Duration {
	return time.Duration(s.PairingTTLMinutes) * time.Minute
}

// Load reads config from the given path and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with defaults applied, for running without a
// config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8787"
	}
	if c.Server.DatabasePath == "" {
		c.Server.DatabasePath = "courier.db"
	}
	if c.Server.SubscriberBuffer <= 0 {
		c.Server.SubscriberBuffer = 64
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = "http://127.0.0.1:8787"
	}
}

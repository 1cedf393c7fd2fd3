// Package config loads the YAML configuration of the pseudows command.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kleeedolinux/pseudows/debug"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Path is where the endpoint is mounted.
	Path           string        `yaml:"path"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// HandshakeRate is new sessions per second; 0 means unlimited.
	HandshakeRate  float64 `yaml:"handshake_rate"`
	HandshakeBurst int     `yaml:"handshake_burst"`
	BufferSize     int     `yaml:"buffer_size"`
	Compression    bool    `yaml:"compression"`
	// Broadcast relays every message to all clients instead of echoing it.
	Broadcast bool `yaml:"broadcast"`
}

type ClientConfig struct {
	URL              string        `yaml:"url"`
	Protocol         string        `yaml:"protocol"`
	Timeout          time.Duration `yaml:"timeout"`
	RequeueOnFailure bool          `yaml:"requeue_on_failure"`
	// Native dials a real WebSocket instead of emulating one.
	Native bool `yaml:"native"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			Path:           "/ws",
			PollTimeout:    25 * time.Second,
			SessionTimeout: 60 * time.Second,
			HandshakeBurst: 10,
			BufferSize:     1024,
		},
		Client: ClientConfig{
			URL:     "ws://localhost:8080/ws",
			Timeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config load failed (%s)", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config parse failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return errors.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.PollTimeout <= 0 {
		return errors.New("server.poll_timeout must be positive")
	}
	if c.Server.SessionTimeout <= c.Server.PollTimeout {
		return errors.New("server.session_timeout must exceed server.poll_timeout")
	}
	if c.Server.HandshakeRate < 0 || c.Server.HandshakeBurst < 0 {
		return errors.New("server.handshake_rate and server.handshake_burst must not be negative")
	}
	if c.Server.BufferSize < 0 {
		return errors.New("server.buffer_size must not be negative")
	}
	if c.Client.Timeout <= 0 {
		return errors.New("client.timeout must be positive")
	}
	// An idle drain is held for up to the poll timeout.
	if c.Client.Timeout <= c.Server.PollTimeout {
		return errors.Errorf("client.timeout %s must exceed server.poll_timeout %s",
			c.Client.Timeout, c.Server.PollTimeout)
	}
	if _, err := debug.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// Debug maps the log section onto the logger configuration.
func (l LogConfig) Debug() debug.Config {
	return debug.Config{
		Level:      l.Level,
		JSON:       l.JSON,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
	}
}

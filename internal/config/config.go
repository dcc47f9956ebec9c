package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	NodeID string `yaml:"node_id"`
	Debug  bool   `yaml:"debug"`

	Broker BrokerConfig `yaml:"broker"`
	// Parent is empty on the root gateway.
	Parent ParentConfig `yaml:"parent"`

	// AdvertiseAddr is the host:port children and the parent use to reach
	// this gateway's broker.
	AdvertiseAddr string   `yaml:"advertise_addr"`
	HasChildren   bool     `yaml:"has_children"`
	Children      []string `yaml:"children"`

	TimeoutSeconds int             `yaml:"timeout_seconds"`
	Directory      DirectoryConfig `yaml:"directory"`
	HTTP           HTTPConfig      `yaml:"http"`
}

type BrokerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ParentConfig struct {
	URL string `yaml:"url"`
}

type DirectoryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	// Port 0 disables the HTTP API.
	Port int `yaml:"port"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Timeout is the per-request aggregation deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsRoot reports whether the gateway has no parent.
func (c *Config) IsRoot() bool {
	return c.Parent.URL == ""
}

// Validate checks a configuration assembled outside Load, e.g. after flag
// overrides.
func (c *Config) Validate() error {
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = "gateway"
	}
	if c.Broker.URL == "" {
		c.Broker.URL = "tcp://localhost:1883"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.Directory.URL == "" {
		c.Directory.URL = "http://localhost:8000"
	}
	if c.Directory.Timeout == 0 {
		c.Directory.Timeout = 5 * time.Second
	}
	if len(c.Children) > 0 {
		c.HasChildren = true
	}
}

func (c *Config) validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout_seconds must be positive, got %d", ErrInvalidConfig, c.TimeoutSeconds)
	}
	if c.Directory.Timeout < 0 {
		return fmt.Errorf("%w: directory.timeout must be positive", ErrInvalidConfig)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: http.port out of range: %d", ErrInvalidConfig, c.HTTP.Port)
	}
	if !c.IsRoot() && c.AdvertiseAddr == "" {
		return fmt.Errorf("%w: advertise_addr is required when parent.url is set", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Children))
	for _, child := range c.Children {
		if child == "" {
			return fmt.Errorf("%w: empty child address", ErrInvalidConfig)
		}
		if seen[child] {
			return fmt.Errorf("%w: duplicate child %s", ErrInvalidConfig, child)
		}
		seen[child] = true
	}
	return nil
}

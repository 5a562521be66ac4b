// Package config loads proxy settings from the environment, with .env
// support for local development. The loaded config is held behind an
// atomic.Value so handlers always see a consistent snapshot.
package config

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Davincible/claude-vllm-proxy/internal/upstream"
)

type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"3456"`

	// APIKey, when set, gates the proxy itself: clients must present it
	// via x-api-key or Authorization.
	APIKey string `env:"API_KEY"`

	VLLMURL    string `env:"VLLM_URL"`
	VLLMAPIKey string `env:"VLLM_API_KEY"`
	VLLMModel  string `env:"VLLM_MODEL"`

	VisionURL    string `env:"VISION_URL"`
	VisionAPIKey string `env:"VISION_API_KEY"`
	VisionModel  string `env:"VISION_MODEL"`

	TelemetryEnabled  bool   `env:"TELEMETRY_ENABLED" envDefault:"true"`
	TelemetryEndpoint string `env:"TELEMETRY_ENDPOINT"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.VLLMURL == "" {
		return fmt.Errorf("VLLM_URL is required")
	}

	if _, err := url.ParseRequestURI(c.VLLMURL); err != nil {
		return fmt.Errorf("VLLM_URL is not a valid URL: %w", err)
	}

	if c.VisionURL != "" {
		if _, err := url.ParseRequestURI(c.VisionURL); err != nil {
			return fmt.Errorf("VISION_URL is not a valid URL: %w", err)
		}
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Port)
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Backends builds the upstream selector from the configured endpoints.
func (c *Config) Backends() upstream.Selector {
	sel := upstream.Selector{
		Default: upstream.Backend{URL: c.VLLMURL, APIKey: c.VLLMAPIKey, Model: c.VLLMModel},
	}

	if c.VisionURL != "" {
		sel.Vision = &upstream.Backend{URL: c.VisionURL, APIKey: c.VisionAPIKey, Model: c.VisionModel}
	}

	return sel
}

// Manager holds the active config behind an atomic.Value so reloads never
// race with in-flight requests.
type Manager struct {
	value atomic.Value
}

func NewManager() *Manager {
	return &Manager{}
}

// Load refreshes the config from the environment and stores it.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	m.value.Store(cfg)

	return cfg, nil
}

// Get returns the active config, loading it on first use. A load failure
// surfaces as the error from Load; Get never fabricates defaults for a
// missing backend URL.
func (m *Manager) Get() (*Config, error) {
	if v := m.value.Load(); v != nil {
		return v.(*Config), nil
	}

	return m.Load()
}

// Set stores a snapshot directly, bypassing the environment.
func (m *Manager) Set(cfg *Config) {
	m.value.Store(cfg)
}

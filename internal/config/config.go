// Package config loads connector configuration from a YAML file, an optional
// .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/remote_connector/remote/connector"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// RateLimit configures outbound request pacing. Zero disables it.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REMOTE_RATE_LIMIT"`
	Burst             int     `yaml:"burst" env:"REMOTE_RATE_BURST"`
}

// CircuitBreaker configures the transport circuit breaker. A zero
// FailureThreshold disables it.
type CircuitBreaker struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Config is the connector configuration.
type Config struct {
	URL            string            `yaml:"url" env:"REMOTE_URL"`
	Host           string            `yaml:"host" env:"REMOTE_HOST"`
	Port           int               `yaml:"port" env:"REMOTE_PORT"`
	Timeout        time.Duration     `yaml:"timeout" env:"REMOTE_TIMEOUT"`
	Headers        map[string]string `yaml:"headers"`
	Options        map[string]any    `yaml:"options"`
	RateLimit      RateLimit         `yaml:"rate_limit"`
	CircuitBreaker CircuitBreaker    `yaml:"circuit_breaker"`
	LogLevel       string            `yaml:"log_level" env:"REMOTE_LOG_LEVEL"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     3000,
		Timeout:  30 * time.Second,
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (if it exists) on top of the defaults and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the environment. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env (%s): %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with REMOTE_* environment variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

// Validate checks that the configuration can reach a remote service.
func (c *Config) Validate() error {
	if c.URL == "" && c.Host == "" {
		return fmt.Errorf("url or host is required")
	}
	if c.URL == "" && c.Port <= 0 {
		return fmt.Errorf("port is required when url is not set")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}
	return nil
}

// BaseURL returns the configured URL, or one built from host and port.
func (c *Config) BaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	return "http://" + c.Host + ":" + strconv.Itoa(c.Port)
}

// Settings converts the configuration into connector settings.
func (c *Config) Settings() connector.Settings {
	return connector.Settings{
		URL:     c.BaseURL(),
		Options: c.Options,
		Transport: transport.Config{
			URL:               c.BaseURL(),
			Timeout:           c.Timeout,
			Headers:           c.Headers,
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
			CircuitBreaker: transport.CircuitBreakerConfig{
				FailureThreshold: c.CircuitBreaker.FailureThreshold,
				SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
				Timeout:          c.CircuitBreaker.Timeout,
			},
		},
		LogLevel: c.LogLevel,
	}
}

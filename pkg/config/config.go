// Package config loads the companion's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/polisai/polis-companion/internal/governance"
	"github.com/polisai/polis-companion/pkg/domain"
	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/policy/dlp"
	"github.com/polisai/polis-companion/pkg/provider"
	"github.com/polisai/polis-companion/pkg/storage"
)

// Config is the root of the configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Governor  GovernorConfig  `yaml:"governor"`
	Provider  ProviderConfig  `yaml:"provider"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GovernorConfig configures validation, rate limiting and filtering.
type GovernorConfig struct {
	RateLimit        int           `yaml:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window"`
	MaxMessageLength int           `yaml:"max_message_length"`
	Denylist         []string      `yaml:"denylist"`
	Rules            []dlp.Rule    `yaml:"rules"`
	Refusal          string        `yaml:"refusal"`
}

// ProviderConfig configures the upstream completion API.
type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	PersonaFile string        `yaml:"persona_file"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint           string            `yaml:"endpoint"`
	Insecure           bool              `yaml:"insecure"`
	ServiceName        string            `yaml:"service_name"`
	Environment        string            `yaml:"environment"`
	Headers            map[string]string `yaml:"headers"`
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Governor.RateLimit == 0 {
		c.Governor.RateLimit = governance.DefaultRateLimit
	}
	if c.Governor.RateWindow == 0 {
		c.Governor.RateWindow = governance.DefaultRateWindow
	}
	if c.Governor.MaxMessageLength == 0 {
		c.Governor.MaxMessageLength = governor.MaxMessageLength
	}
	if c.Governor.Denylist == nil {
		c.Governor.Denylist = append([]string(nil), dlp.DefaultDenylist...)
	}
	if strings.TrimSpace(c.Governor.Refusal) == "" {
		c.Governor.Refusal = governor.DefaultRefusal
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = provider.DefaultBaseURL
	}
	if c.Provider.Model == "" {
		c.Provider.Model = provider.DefaultModel
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = provider.DefaultMaxTokens
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = governance.DefaultRequestTimeout
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverSQLite
	}
	if c.Storage.Path == "" && c.Storage.Driver == storage.DriverSQLite {
		c.Storage.Path = "data/companion.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "polis-companion"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if c.Governor.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("governor.rate_limit must be positive, got %d", c.Governor.RateLimit))
	}
	if c.Governor.RateWindow < 0 {
		errs = append(errs, fmt.Errorf("governor.rate_window must be positive, got %s", c.Governor.RateWindow))
	}
	if c.Governor.MaxMessageLength < 0 {
		errs = append(errs, fmt.Errorf("governor.max_message_length must be positive, got %d", c.Governor.MaxMessageLength))
	}
	if _, err := dlp.NewScanner(dlp.Config{Rules: c.Governor.Rules}); err != nil {
		errs = append(errs, fmt.Errorf("governor.rules: %w", err))
	}
	if c.Provider.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider.max_tokens must be positive, got %d", c.Provider.MaxTokens))
	}
	if c.Provider.Timeout < 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive, got %s", c.Provider.Timeout))
	}
	switch c.Storage.Driver {
	case storage.DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
		}
	case storage.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

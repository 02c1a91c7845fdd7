// Package config loads and validates all service configuration from
// COHORT_-prefixed environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvironmentProduction enables the stricter validation rules.
const EnvironmentProduction = "production"

// Config aggregates every section consumed by the two binaries.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Push          PushConfig          `envconfig:"PUSH"`
	Segmenter     SegmenterConfig     `envconfig:"SEGMENTER"`
	Observability ObservabilityConfig `envconfig:"OBS"`
}

// AppConfig holds process-wide settings shared by both binaries.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"cohort"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads the environment, applies defaults and runs the full validation
// chain. A config returned from Load is safe to wire.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("COHORT", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate runs the struct-tag rules first, then each section's own checks,
// which get the environment so production can tighten them.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	sections := []func() error{
		func() error { return c.Database.Validate(c.App.Environment) },
		func() error { return c.Redis.Validate(c.App.Environment) },
		func() error { return c.Server.Validate(c.App.Environment) },
		func() error { return c.Push.Validate(c.App.Environment) },
		c.Segmenter.Validate,
		c.Observability.Validate,
	}
	for _, validate := range sections {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// LogConfig emits a startup summary. Secrets never appear here, only
// booleans saying whether an optional section is configured.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("server_port", c.Server.Port),
		slog.Duration("segmenter_interval", c.Segmenter.Interval),
		slog.Bool("push_configured", c.Push.IsConfigured()),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
	)
}

// Helpers shared by the section validators. The component argument prefixes
// error messages, e.g. "database host cannot be empty".

func validatePort(port, component string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", component)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", component, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", component, n)
	}
	return nil
}

func validateHost(host, component string) error {
	if host == "" {
		return fmt.Errorf("%s host cannot be empty", component)
	}
	if strings.TrimSpace(host) != host {
		return fmt.Errorf("%s host cannot contain whitespace", component)
	}
	return nil
}

func validatePasswordStrength(password, component, environment string) error {
	if environment == EnvironmentProduction && len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", component)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	switch mode {
	case "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return parsed, nil
}

package config

import (
	"fmt"
	"time"
)

// PushConfig configures the push notification sender endpoint. When the
// endpoint is unset, services fall back to the no-op sender, which is the
// expected mode for local development.
type PushConfig struct {
	// Endpoint is the HTTP URL of the push delivery gateway.
	Endpoint string `envconfig:"ENDPOINT"`

	// APIKey authenticates against the gateway.
	APIKey string `envconfig:"API_KEY"`

	// Timeout bounds one delivery request.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s" validate:"min=1s"`

	// BatchSize caps the number of device tokens per delivery request.
	BatchSize int `envconfig:"BATCH_SIZE" default:"500" validate:"min=1"`
}

// Validate checks if the push sender configuration is valid.
func (c *PushConfig) Validate(environment string) error {
	if c.Endpoint == "" {
		if environment == EnvironmentProduction {
			return fmt.Errorf("push endpoint is required in production environment")
		}
		return nil
	}

	if _, err := parseAndValidateURL(c.Endpoint, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid push endpoint: %w", err)
	}

	if environment == EnvironmentProduction && c.APIKey == "" {
		return fmt.Errorf("push API key is required in production environment")
	}

	return nil
}

// IsConfigured returns true when a delivery gateway endpoint was provided.
func (c *PushConfig) IsConfigured() bool {
	return c.Endpoint != ""
}

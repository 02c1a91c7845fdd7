package config

import (
	"fmt"
	"net"
	"time"
)

// RedisConfig describes the optional device-token cache. Leaving host and
// port empty disables caching entirely.
type RedisConfig struct {
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize     int           `envconfig:"POOL_SIZE" default:"20" validate:"min=1"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2" validate:"min=0"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout  time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries   int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`

	// TokenTTL bounds the staleness of cached device-token sets.
	TokenTTL time.Duration `envconfig:"TOKEN_TTL" default:"5m" validate:"min=1s"`
}

// Address returns the host:port dial target.
func (c *RedisConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks the section when it is in use; an unconfigured section
// passes and the cache stays disabled.
func (c *RedisConfig) Validate(environment string) error {
	if !c.IsConfigured() {
		return nil
	}

	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}

	if environment != EnvironmentProduction {
		return nil
	}
	switch {
	case c.Password == "":
		return fmt.Errorf("redis password is required in production environment")
	case !c.TLSEnabled:
		return fmt.Errorf("redis TLS must be enabled in production environment")
	}
	return validatePasswordStrength(c.Password, "redis", environment)
}

// IsConfigured reports whether an endpoint was provided.
func (c *RedisConfig) IsConfigured() bool {
	return c.Host != "" && c.Port != ""
}

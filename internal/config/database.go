package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig describes the Postgres connection. Either URL or the
// individual components must be set; URL wins when both are present.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`

	SSLMode string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
}

// ConnectionString returns the DSN handed to pgx.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	query := url.Values{"sslmode": []string{c.SSLMode}}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?%s",
		c.User, c.Password, c.Host, c.Port, c.Name, query.Encode())
}

// Validate checks whichever connection form is in use. In production a
// password and a verifying SSL mode are mandatory.
func (c *DatabaseConfig) Validate(environment string) error {
	var err error
	if c.URL != "" {
		if err = validatePostgresURL(c.URL); err != nil {
			err = fmt.Errorf("invalid database URL: %w", err)
		}
	} else {
		err = c.validateComponents(environment)
	}
	if err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

func (c *DatabaseConfig) validateComponents(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	switch {
	case c.Name == "":
		return fmt.Errorf("database name cannot be empty")
	case c.User == "":
		return fmt.Errorf("database user cannot be empty")
	}
	if environment != EnvironmentProduction {
		return nil
	}
	switch {
	case c.Password == "":
		return fmt.Errorf("database password is required in production environment")
	case !isSecureSSLMode(c.SSLMode):
		return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
	}
	return validatePasswordStrength(c.Password, "database", environment)
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" ||
		(c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	switch {
	case err != nil:
		return err
	case parsed.User == nil || parsed.User.Username() == "":
		return fmt.Errorf("user is required in URL")
	case strings.TrimPrefix(parsed.Path, "/") == "":
		return fmt.Errorf("database name is required in URL path")
	}
	return nil
}

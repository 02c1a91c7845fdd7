package config

import "time"

// ObservabilityConfig sizes the admin server that exposes probes and the
// prometheus scrape endpoint.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds probe handling and doubles as the HTTP read/write
	// timeout on the admin listener.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

func (o *ObservabilityConfig) Validate() error {
	return validatePort(o.Port, "observability")
}

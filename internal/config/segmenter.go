package config

import (
	"fmt"
	"time"
)

// SegmenterConfig configures the background worker that refreshes the
// estimated size of every active segment.
type SegmenterConfig struct {
	// Interval is the duration between refresh cycles.
	Interval time.Duration `envconfig:"INTERVAL" default:"10m"`

	// ResolveTimeout bounds one segment's membership resolution. Resolution
	// is a directory scan and can be long-running on large populations.
	ResolveTimeout time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"2m" validate:"min=1s"`
}

// Validate checks if the segmenter configuration is valid.
func (c *SegmenterConfig) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("segmenter interval must be at least 1s, got %s", c.Interval)
	}
	return nil
}

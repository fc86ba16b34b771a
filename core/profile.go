package core

import (
	"fmt"
	"time"
)

// Profile represents a pre-configured deployment profile
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileStaging     Profile = "staging"
	ProfileProduction  Profile = "production"
)

// profiles maps each profile to the settings it forces. Development keeps
// analytics local (editor journal, debug logs, no breaker); staging and
// production post to a collector with progressively stricter protection.
var profiles = map[Profile]func(*Config){
	ProfileDevelopment: func(c *Config) {
		c.Mode = ModeEditor
		c.Logging.Level = "debug"
		c.Logging.Format = "text"
		c.CircuitBreaker.Enabled = false
		c.Telemetry.SamplingRate = 1.0
	},
	ProfileStaging: func(c *Config) {
		c.Mode = ModeProduction
		c.CircuitBreaker = CircuitBreakerConfig{
			Enabled:      true,
			MaxFailures:  10,
			RecoveryTime: 15 * time.Second,
			HalfOpenMax:  3,
		}
		c.Telemetry.SamplingRate = 0.1
	},
	ProfileProduction: func(c *Config) {
		c.Mode = ModeProduction
		c.Logging.Format = "json"
		c.CircuitBreaker = CircuitBreakerConfig{
			Enabled:      true,
			MaxFailures:  10,
			RecoveryTime: 30 * time.Second,
			HalfOpenMax:  5,
		}
		c.Telemetry.SamplingRate = 0.01
	},
}

// WithProfile applies a pre-configured profile. An unknown profile is a
// configuration error.
func WithProfile(profile Profile) Option {
	return func(c *Config) error {
		apply, ok := profiles[profile]
		if !ok {
			return &FrameworkError{
				Op:      "core.WithProfile",
				Kind:    "config",
				ID:      string(profile),
				Message: fmt.Sprintf("unknown profile %q (want development, staging or production)", profile),
				Err:     ErrInvalidConfiguration,
			}
		}
		apply(c)
		return nil
	}
}

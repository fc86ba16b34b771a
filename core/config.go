package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv.
const EnvPrefix = "OPENXR_ANALYTICS_"

// Sink modes accepted by Config.Mode.
const (
	ModeProduction = "production"
	ModeEditor     = "editor"
	ModeDisabled   = "disabled"
)

// Rate limit backends accepted by RateLimitConfig.Backend.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds all configuration for the analytics emitter and its sinks.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables, then an optional config file
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("my-xr-app"),
//	    WithMode(ModeProduction),
//	    WithCollectorEndpoint("https://analytics.example.com/v1/events"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Name identifies the application emitting analytics
	Name string `json:"name" yaml:"name" env:"NAME"`

	// Mode selects the sink adapter: production, editor or disabled
	Mode string `json:"mode" yaml:"mode" env:"MODE"`

	// TestSupport forces every registration to fail so no analytics leave the process
	TestSupport bool `json:"test_support" yaml:"test_support" env:"TEST_SUPPORT"`

	Collector      CollectorConfig      `json:"collector" yaml:"collector" envPrefix:"COLLECTOR_"`
	Journal        JournalConfig        `json:"journal" yaml:"journal" envPrefix:"JOURNAL_"`
	RateLimit      RateLimitConfig      `json:"rate_limit" yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker" envPrefix:"CB_"`
	Telemetry      TelemetryConfig      `json:"telemetry" yaml:"telemetry" envPrefix:"OTEL_"`
	Logging        LoggingConfig        `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Health         HealthConfig         `json:"health" yaml:"health" envPrefix:"HEALTH_"`
}

// CollectorConfig configures the HTTP analytics collector used in production mode.
type CollectorConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	// Enabled mirrors the host's analytics opt-out switch
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// JournalConfig configures the SQLite event journal used in editor mode.
type JournalConfig struct {
	Path    string `json:"path" yaml:"path" env:"PATH"`
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
}

// RateLimitConfig selects where per-category event windows are counted.
// The memory backend counts per process; the redis backend shares the
// window between every process pointing at the same Redis database.
type RateLimitConfig struct {
	Backend  string        `json:"backend" yaml:"backend" env:"BACKEND"`
	RedisURL string        `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
	Window   time.Duration `json:"window" yaml:"window" env:"WINDOW"`
}

// CircuitBreakerConfig protects the collector from repeated failed posts.
type CircuitBreakerConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	MaxFailures  int           `json:"max_failures" yaml:"max_failures" env:"MAX_FAILURES"`
	RecoveryTime time.Duration `json:"recovery_time" yaml:"recovery_time" env:"RECOVERY_TIME"`
	HalfOpenMax  int           `json:"half_open_max" yaml:"half_open_max" env:"HALF_OPEN_MAX"`
}

// TelemetryConfig contains self-observability configuration (OTLP export of
// the emitter's own counters and spans). Disabled by default.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	ServiceName  string  `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" env:"SAMPLING_RATE"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
	// ErrorInterval is the minimum gap between two error lines. Zero
	// means one second; a negative value writes every error.
	ErrorInterval time.Duration `json:"error_interval" yaml:"error_interval" env:"ERROR_INTERVAL"`
}

// HealthConfig controls the optional health endpoint served by the CLI.
type HealthConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Address string `json:"address" yaml:"address" env:"ADDRESS"`
	Path    string `json:"path" yaml:"path" env:"PATH"`
}

// Option is a functional option for configuring the emitter.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
// Analytics start disabled; production and editor modes must be chosen explicitly.
func DefaultConfig() *Config {
	cfg := &Config{
		Name: "openxr-app",
		Mode: ModeDisabled,
		Collector: CollectorConfig{
			Timeout: 5 * time.Second,
			Enabled: true,
		},
		Journal: JournalConfig{
			Path:    "openxr-analytics.db",
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			Backend: RateLimitBackendMemory,
			Window:  time.Hour,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:      true,
			MaxFailures:  5,
			RecoveryTime: 30 * time.Second,
			HalfOpenMax:  3,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			SamplingRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			ErrorInterval: time.Second,
		},
		Health: HealthConfig{
			Enabled: false,
			Address: "localhost:8081",
			Path:    "/health",
		},
	}

	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		cfg.Logging.Format = "json" // Structured logs for log aggregation
	}

	return cfg
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are overridden by functional options.
//
// Variable naming convention:
//   - Emitter-specific: OPENXR_ANALYTICS_<SECTION>_<SETTING>
//   - Standard variables: REDIS_URL, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME
func (c *Config) LoadFromEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w: %v", ErrInvalidConfiguration, err)
	}

	if c.RateLimit.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RateLimit.RedisURL = v
		}
	}
	if c.Telemetry.Endpoint == "" {
		if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
			c.Telemetry.Endpoint = v
			c.Telemetry.Enabled = true // Auto-enable if OTEL endpoint is present
		}
	}
	if c.Telemetry.ServiceName == "" {
		if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
			c.Telemetry.ServiceName = v
		} else {
			c.Telemetry.ServiceName = c.Name
		}
	}

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file. Durations are
// written as strings ("5s", "30m") in both formats.
// File settings override environment variables but are overridden by functional options.
//
// Example YAML:
//
//	name: my-xr-app
//	mode: production
//	collector:
//	  endpoint: https://analytics.example.com/v1/events
//	  timeout: 5s
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	// JSON is a subset of YAML, so one decoder serves both and duration
	// fields accept strings like "5s" in either format.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v: %w", cleanPath, err, ErrInvalidConfiguration)
	}

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "application name is required",
			Err:     ErrMissingConfiguration,
		}
	}

	switch c.Mode {
	case ModeProduction:
		if c.Collector.Endpoint == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "collector endpoint is required in production mode",
				Err:     ErrMissingConfiguration,
			}
		}
		if c.Collector.Timeout <= 0 {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: fmt.Sprintf("invalid collector timeout: %s", c.Collector.Timeout),
				Err:     ErrInvalidConfiguration,
			}
		}
	case ModeEditor:
		if c.Journal.Path == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "journal path is required in editor mode",
				Err:     ErrMissingConfiguration,
			}
		}
	case ModeDisabled:
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown mode %q (want production, editor or disabled)", c.Mode),
			Err:     ErrInvalidConfiguration,
		}
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.RateLimit.RedisURL == "" {
			return &FrameworkError{
				Op:      "Config.Validate",
				Kind:    "config",
				Message: "redis URL is required for the redis rate limit backend",
				Err:     ErrMissingConfiguration,
			}
		}
	default:
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("unknown rate limit backend %q", c.RateLimit.Backend),
			Err:     ErrInvalidConfiguration,
		}
	}
	if c.RateLimit.Window <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: fmt.Sprintf("invalid rate limit window: %s", c.RateLimit.Window),
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.CircuitBreaker.Enabled && c.CircuitBreaker.MaxFailures <= 0 {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "circuit breaker max failures must be positive",
			Err:     ErrInvalidConfiguration,
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "telemetry endpoint is required when telemetry is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	if c.Health.Enabled && c.Health.Address == "" {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: "health address is required when the health endpoint is enabled",
			Err:     ErrMissingConfiguration,
		}
	}

	return nil
}

// WithName sets the application name
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithMode sets the sink mode (production, editor or disabled)
func WithMode(mode string) Option {
	return func(c *Config) error {
		c.Mode = strings.ToLower(strings.TrimSpace(mode))
		return nil
	}
}

// WithTestSupport short-circuits registration so nothing is ever sent
func WithTestSupport(enabled bool) Option {
	return func(c *Config) error {
		c.TestSupport = enabled
		return nil
	}
}

// WithCollectorEndpoint sets the analytics collector URL
func WithCollectorEndpoint(endpoint string) Option {
	return func(c *Config) error {
		c.Collector.Endpoint = endpoint
		return nil
	}
}

// WithCollectorTimeout bounds each collector request
func WithCollectorTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout <= 0 {
			return fmt.Errorf("collector timeout must be positive: %w", ErrInvalidConfiguration)
		}
		c.Collector.Timeout = timeout
		return nil
	}
}

// WithJournalPath sets the SQLite journal file used in editor mode
func WithJournalPath(path string) Option {
	return func(c *Config) error {
		c.Journal.Path = path
		return nil
	}
}

// WithRedisRateLimit moves rate-window accounting into Redis
func WithRedisRateLimit(redisURL string) Option {
	return func(c *Config) error {
		c.RateLimit.Backend = RateLimitBackendRedis
		c.RateLimit.RedisURL = redisURL
		return nil
	}
}

// WithCircuitBreaker configures the collector circuit breaker
func WithCircuitBreaker(maxFailures int, recovery time.Duration) Option {
	return func(c *Config) error {
		c.CircuitBreaker.Enabled = true
		c.CircuitBreaker.MaxFailures = maxFailures
		c.CircuitBreaker.RecoveryTime = recovery
		return nil
	}
}

// WithTelemetry enables OTLP export of the emitter's own metrics and spans
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithLogLevel sets the logging level
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithHealth enables the health endpoint on address
func WithHealth(address string) Option {
	return func(c *Config) error {
		c.Health.Enabled = true
		c.Health.Address = address
		return nil
	}
}

// WithConfigFile loads configuration from a file
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the given options
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// SinkOption customizes NewSink.
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	logger     core.Logger
	httpClient *http.Client
	limiter    EventLimiter
	clock      Clock
}

// WithSinkLogger sets the logger used by the sink, its limiter and breaker.
func WithSinkLogger(logger core.Logger) SinkOption {
	return func(o *sinkOptions) { o.logger = logger }
}

// WithSinkHTTPClient replaces the traced HTTP client of the collector sink.
func WithSinkHTTPClient(client *http.Client) SinkOption {
	return func(o *sinkOptions) { o.httpClient = client }
}

// WithSinkLimiter replaces the limiter selected by the configuration.
func WithSinkLimiter(limiter EventLimiter) SinkOption {
	return func(o *sinkOptions) { o.limiter = limiter }
}

// WithSinkClock sets the time source of the sink and the memory limiter.
func WithSinkClock(clock Clock) SinkOption {
	return func(o *sinkOptions) { o.clock = clock }
}

// NewSink builds the sink selected by cfg.Mode along with its limiter.
func NewSink(ctx context.Context, cfg *core.Config, opts ...SinkOption) (SinkCloser, SinkMode, error) {
	o := &sinkOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := core.LoggerOrNoop(o.logger)

	mode, err := ParseSinkMode(cfg.Mode)
	if err != nil {
		return nil, SinkModeDisabled, err
	}

	if mode == SinkModeDisabled {
		logger.Info("Analytics sink disabled", map[string]interface{}{"mode": mode.String()})
		return NoopSink{}, mode, nil
	}

	limiter := o.limiter
	if limiter == nil {
		limiter, err = newLimiter(cfg.RateLimit, o.clock, logger)
		if err != nil {
			return nil, mode, err
		}
	}

	var sink SinkCloser
	switch mode {
	case SinkModeProduction:
		sink, err = NewCollectorSink(CollectorOptions{
			Endpoint:       cfg.Collector.Endpoint,
			Timeout:        cfg.Collector.Timeout,
			Enabled:        cfg.Collector.Enabled,
			Source:         cfg.Name,
			HTTPClient:     o.httpClient,
			Limiter:        limiter,
			CircuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker, logger),
			Logger:         logger,
			Clock:          o.clock,
		})
	case SinkModeEditor:
		sink, err = OpenJournalSink(ctx, JournalOptions{
			Path:    cfg.Journal.Path,
			Enabled: cfg.Journal.Enabled,
			Limiter: limiter,
			Logger:  logger,
			Clock:   o.clock,
		})
	}
	if err != nil {
		if closer, ok := limiter.(interface{ Close() error }); ok && o.limiter == nil {
			_ = closer.Close()
		}
		return nil, mode, err
	}

	logger.Info("Analytics sink ready", map[string]interface{}{
		"mode":               mode.String(),
		"rate_limit_backend": cfg.RateLimit.Backend,
	})
	return sink, mode, nil
}

func newLimiter(cfg core.RateLimitConfig, clock Clock, logger core.Logger) (EventLimiter, error) {
	switch cfg.Backend {
	case core.RateLimitBackendRedis:
		limiter, err := NewRedisWindowLimiter(cfg.RedisURL, cfg.Window, logger)
		if err != nil {
			return nil, err
		}
		limiter.SetClock(clock)
		return limiter, nil
	case core.RateLimitBackendMemory, "":
		return NewMemoryWindowLimiter(cfg.Window, clock), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q: %w", cfg.Backend, core.ErrInvalidConfiguration)
	}
}

// NewEmitterFromConfig builds the sink selected by cfg and an emitter on
// top of it. The caller closes the returned sink after the emitter is no
// longer used.
func NewEmitterFromConfig(ctx context.Context, cfg *core.Config, rt Runtime, logger core.Logger, opts ...EmitterOption) (*Emitter, SinkCloser, error) {
	sink, mode, err := NewSink(ctx, cfg, WithSinkLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	opts = append([]EmitterOption{
		WithLogger(logger),
		WithSinkMode(mode),
		WithTestSupport(cfg.TestSupport),
	}, opts...)
	return NewEmitter(sink, rt, opts...), sink, nil
}

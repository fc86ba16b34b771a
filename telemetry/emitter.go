package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of emitter spans.
const TracerName = MeterName

// Emitter reports XR runtime initialization outcomes to a Sink.
//
// An Emitter never returns errors and never panics: every failure is
// absorbed, logged and counted. It is safe for concurrent use.
type Emitter struct {
	sink        Sink
	runtime     Runtime
	state       *RegistrationState
	category    EventCategory
	testSupport bool
	mode        SinkMode

	logger  core.Logger
	metrics *MetricInstruments
	tracer  trace.Tracer

	sent       atomic.Int64
	dropped    atomic.Int64
	lastResult atomic.Int64
	startTime  time.Time
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithRegistrationState shares registration between emitters.
func WithRegistrationState(state *RegistrationState) EmitterOption {
	return func(e *Emitter) {
		if state != nil {
			e.state = state
		}
	}
}

// WithTestSupport makes EnsureRegistered always fail without touching the
// sink, so nothing is ever sent.
func WithTestSupport(enabled bool) EmitterOption {
	return func(e *Emitter) { e.testSupport = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = core.LoggerOrNoop(logger) }
}

// WithMeterProvider records emitter counters on provider instead of the
// global meter provider.
func WithMeterProvider(provider metric.MeterProvider) EmitterOption {
	return func(e *Emitter) { e.metrics = NewMetricInstruments(provider) }
}

// WithTracerProvider records emitter spans on provider instead of the
// global tracer provider.
func WithTracerProvider(provider trace.TracerProvider) EmitterOption {
	return func(e *Emitter) {
		if provider != nil {
			e.tracer = provider.Tracer(TracerName)
		}
	}
}

// WithSinkMode labels health output with the mode that produced the sink.
func WithSinkMode(mode SinkMode) EmitterOption {
	return func(e *Emitter) { e.mode = mode }
}

// NewEmitter creates an emitter reporting rt to sink. A nil sink behaves
// like NoopSink.
func NewEmitter(sink Sink, rt Runtime, opts ...EmitterOption) *Emitter {
	if sink == nil {
		sink = NoopSink{}
	}

	e := &Emitter{
		sink:      sink,
		runtime:   rt,
		state:     NewRegistrationState(),
		category:  InitializeCategory,
		logger:    core.NoOpLogger{},
		startTime: time.Now(),
	}
	e.lastResult.Store(-1)

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = NewMetricInstruments(nil)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(TracerName)
	}

	if err := e.metrics.RegisterGauge(MetricRegisteredGauge, e.registeredValue); err != nil {
		e.logger.Debug("Registered gauge unavailable", map[string]interface{}{"error": err.Error()})
	}

	return e
}

func (e *Emitter) registeredValue() int64 {
	if e.state.Registered() {
		return 1
	}
	return 0
}

// EnsureRegistered registers the initialization category with the sink if
// that has not happened yet and reports whether the emitter may send.
func (e *Emitter) EnsureRegistered() bool {
	return e.EnsureRegisteredContext(context.Background())
}

// EnsureRegisteredContext is EnsureRegistered with a caller context passed
// through to the sink.
func (e *Emitter) EnsureRegisteredContext(ctx context.Context) (registered bool) {
	if e.testSupport {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Analytics registration panicked", map[string]interface{}{
				"error": fmt.Sprint(r),
				"event": e.category.Name,
			})
			registered = false
		}
	}()

	return e.state.Do(func() bool {
		if !e.sink.Enabled() {
			e.logger.Debug("Analytics disabled, skipping registration", map[string]interface{}{
				"event": e.category.Name,
			})
			return false
		}

		result := e.sink.RegisterEvent(ctx, e.category)
		e.recordCounter(ctx, MetricRegistrations, attribute.String("result", result.String()))

		if result != ResultOK {
			e.logger.Warn("Analytics registration rejected", map[string]interface{}{
				"event":  e.category.Name,
				"result": result.String(),
			})
			return false
		}

		e.logger.Info("Analytics event registered", map[string]interface{}{
			"event":               e.category.Name,
			"vendor_key":          e.category.VendorKey,
			"max_events_per_hour": e.category.MaxEventsPerHour,
			"max_elements":        e.category.MaxElementsPerEvent,
		})
		return true
	})
}

// SendInitializeEvent reports one initialization attempt. It is fire and
// forget: nothing is returned and no failure escapes.
func (e *Emitter) SendInitializeEvent(success bool) {
	e.SendInitializeEventContext(context.Background(), success)
}

// SendInitializeEventContext is SendInitializeEvent with a caller context.
func (e *Emitter) SendInitializeEventContext(ctx context.Context, success bool) {
	ctx, span := e.tracer.Start(ctx, "openxr.analytics.send_initialize",
		trace.WithAttributes(
			attribute.String("event", e.category.Name),
			attribute.Bool("success", success),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.drop(ctx, "panic")
			span.SetStatus(codes.Error, "panic")
			e.logger.Error("Analytics send panicked", map[string]interface{}{
				"error": fmt.Sprint(r),
				"event": e.category.Name,
			})
		}
	}()

	if !e.EnsureRegisteredContext(ctx) {
		e.drop(ctx, "unregistered")
		span.SetAttributes(attribute.Bool("registered", false))
		return
	}

	record := BuildInitializationRecord(e.runtime, success)

	start := time.Now()
	result := e.sink.Send(ctx, e.category.Name, record)
	duration := float64(time.Since(start).Microseconds()) / 1000.0

	e.lastResult.Store(int64(result))
	span.SetAttributes(attribute.String("result", result.String()))
	if err := e.metrics.RecordHistogram(ctx, MetricSinkDuration, duration,
		metric.WithAttributes(attribute.String("event", e.category.Name))); err != nil {
		e.logger.Debug("Failed to record sink duration", map[string]interface{}{"error": err.Error()})
	}

	if result != ResultOK {
		e.drop(ctx, result.String())
		span.SetStatus(codes.Error, result.String())
		e.logger.Warn("Analytics event not accepted", map[string]interface{}{
			"event":  e.category.Name,
			"result": result.String(),
		})
		return
	}

	e.sent.Add(1)
	e.recordCounter(ctx, MetricEventsSent, attribute.String("event", e.category.Name))
	e.logger.Debug("Analytics event sent", map[string]interface{}{
		"event":              e.category.Name,
		"success":            success,
		"runtime":            record.Runtime,
		"enabled_features":   len(record.EnabledFeatures),
		"failed_features":    len(record.FailedFeatures),
		"enabled_extensions": len(record.EnabledExtensions),
	})
}

// Registered reports whether the category has been accepted by the sink.
func (e *Emitter) Registered() bool {
	return e.state.Registered()
}

// Close releases the emitter's metric callbacks. It does not close the sink.
func (e *Emitter) Close() error {
	return e.metrics.Shutdown()
}

func (e *Emitter) drop(ctx context.Context, reason string) {
	e.dropped.Add(1)
	e.recordCounter(ctx, MetricEventsDropped,
		attribute.String("event", e.category.Name),
		attribute.String("reason", reason))
}

func (e *Emitter) recordCounter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if err := e.metrics.RecordCounter(ctx, name, 1, metric.WithAttributes(attrs...)); err != nil {
		e.logger.Debug("Failed to record counter", map[string]interface{}{
			"metric": name,
			"error":  err.Error(),
		})
	}
}

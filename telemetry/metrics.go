package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Self-observability metric names.
const (
	MetricRegistrations   = "openxr.analytics.registrations"
	MetricEventsSent      = "openxr.analytics.events.sent"
	MetricEventsDropped   = "openxr.analytics.events.dropped"
	MetricSinkDuration    = "openxr.analytics.sink.duration_ms"
	MetricRegisteredGauge = "openxr.analytics.registered"
)

// MeterName is the instrumentation scope of every analytics instrument.
const MeterName = "github.com/AStrangerGravity/com.unity.xr.openxr/telemetry"

// MetricInstruments holds cached metric instruments for efficient recording
type MetricInstruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Registration
	mu         sync.RWMutex
}

// NewMetricInstruments creates an instrument cache on provider. A nil
// provider uses the global one, which is a no-op until Setup installs a
// real provider.
func NewMetricInstruments(provider metric.MeterProvider) *MetricInstruments {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	return &MetricInstruments{
		meter:      provider.Meter(MeterName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Registration),
	}
}

// RecordCounter increments a counter metric
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = m.counters[name]; !exists {
			var err error
			counter, err = m.meter.Int64Counter(name)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create counter %s: %w", name, err)
			}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	counter.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution (like latencies)
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			var err error
			histogram, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("failed to create histogram %s: %w", name, err)
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.Record(ctx, value, opts...)
	return nil
}

// RegisterGauge registers an observable integer gauge read through observe
// at collection time.
func (m *MetricInstruments) RegisterGauge(name string, observe func() int64) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.gauges[name]; exists {
		return fmt.Errorf("gauge %s already registered", name)
	}

	gauge, err := m.meter.Int64ObservableGauge(name)
	if err != nil {
		return fmt.Errorf("failed to create gauge %s: %w", name, err)
	}

	registration, err := m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, observe())
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("failed to register callback for gauge %s: %w", name, err)
	}

	m.gauges[name] = registration
	return nil
}

// Shutdown unregisters all gauge callbacks
func (m *MetricInstruments) Shutdown() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, registration := range m.gauges {
		if err := registration.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unregister gauge %s: %w", name, err))
		}
		delete(m.gauges, name)
	}
	return errors.Join(errs...)
}

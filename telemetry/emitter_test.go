package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func scenarioRuntime() *RuntimeSnapshot {
	return &RuntimeSnapshot{
		RuntimeName:    "Oculus",
		RuntimeVersion: "1.2.3",
		Plugin:         "1.8.0",
		API:            "1.0.0",
		Available: []ExtensionInfo{
			{Name: "XR_KHR_foo", Version: 2},
			{Name: "XR_EXT_bar", Version: 1},
		},
		Enabled: []string{"XR_KHR_foo"},
		FeatureList: []FeatureInfo{
			{Type: "FooFeature", FeatureVersion: "1.0", IsEnabled: true},
			{Type: "BarFeature", FeatureVersion: "2.0", IsEnabled: false, Failed: true},
		},
	}
}

func TestEmitterScenario(t *testing.T) {
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime())

	emitter.SendInitializeEvent(true)

	sent := sink.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, "openxr_initialize", sent[0].name)

	record, ok := sent[0].payload.(InitializationRecord)
	require.True(t, ok)
	assert.Equal(t, InitializationRecord{
		Success:             true,
		Runtime:             "Oculus",
		RuntimeVersion:      "1.2.3",
		PluginVersion:       "1.8.0",
		APIVersion:          "1.0.0",
		EnabledExtensions:   []string{"XR_KHR_foo_2"},
		AvailableExtensions: []string{"XR_KHR_foo_2", "XR_EXT_bar_1"},
		EnabledFeatures:     []string{"FooFeature_1.0"},
		FailedFeatures:      []string{"BarFeature_2.0"},
	}, record)

	require.Len(t, sink.categories, 1)
	assert.Equal(t, EventCategory{
		Name:                "openxr_initialize",
		MaxEventsPerHour:    1000,
		MaxElementsPerEvent: 1000,
		VendorKey:           "unity.openxr",
	}, sink.categories[0])
}

func TestEmitterRegistersOnce(t *testing.T) {
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime())

	emitter.SendInitializeEvent(true)
	emitter.SendInitializeEvent(false)
	emitter.SendInitializeEvent(true)

	assert.Equal(t, int64(1), sink.registerCalls.Load())
	assert.Len(t, sink.sentEvents(), 3)
	assert.True(t, emitter.Registered())
}

func TestEmitterDisabledSinkSendsNothing(t *testing.T) {
	sink := newFakeSink(false)
	emitter := NewEmitter(sink, scenarioRuntime())

	assert.False(t, emitter.EnsureRegistered())
	emitter.SendInitializeEvent(true)

	assert.Zero(t, sink.registerCalls.Load())
	assert.Empty(t, sink.sentEvents())
	assert.False(t, emitter.Registered())
}

func TestEmitterRetriesRejectedRegistration(t *testing.T) {
	sink := newFakeSink(true, ResultTooManyRequests, ResultOK)
	emitter := NewEmitter(sink, scenarioRuntime())

	emitter.SendInitializeEvent(true)
	assert.Empty(t, sink.sentEvents(), "rejected registration drops the event")
	assert.False(t, emitter.Registered())

	emitter.SendInitializeEvent(true)
	assert.Len(t, sink.sentEvents(), 1)
	assert.Equal(t, int64(2), sink.registerCalls.Load())
	assert.True(t, emitter.Registered())
}

func TestEmitterTestSupportNeverTouchesSink(t *testing.T) {
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime(), WithTestSupport(true))

	assert.False(t, emitter.EnsureRegistered())
	emitter.SendInitializeEvent(true)

	assert.Zero(t, sink.enabledCalls.Load())
	assert.Zero(t, sink.registerCalls.Load())
	assert.Empty(t, sink.sentEvents())
}

func TestEmitterTestSupportOverridesSharedRegistration(t *testing.T) {
	state := NewRegistrationState()
	sink := newFakeSink(true)

	require.True(t, NewEmitter(sink, nil, WithRegistrationState(state)).EnsureRegistered())

	testEmitter := NewEmitter(sink, nil, WithRegistrationState(state), WithTestSupport(true))
	assert.False(t, testEmitter.EnsureRegistered())
}

func TestEmitterRegistrationIsSticky(t *testing.T) {
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime())
	require.True(t, emitter.EnsureRegistered())

	// a later opt-out does not undo registration
	sink.enabled.Store(false)
	assert.True(t, emitter.EnsureRegistered())
	assert.Equal(t, int64(1), sink.enabledCalls.Load())

	emitter.SendInitializeEvent(true)
	assert.Len(t, sink.sentEvents(), 1)
}

func TestEmitterSharedRegistrationState(t *testing.T) {
	state := NewRegistrationState()
	sink := newFakeSink(true)

	first := NewEmitter(sink, scenarioRuntime(), WithRegistrationState(state))
	second := NewEmitter(sink, scenarioRuntime(), WithRegistrationState(state))

	first.SendInitializeEvent(true)
	second.SendInitializeEvent(false)

	assert.Equal(t, int64(1), sink.registerCalls.Load())
	assert.Len(t, sink.sentEvents(), 2)
}

func TestEmitterConcurrentFirstCallsRegisterOnce(t *testing.T) {
	sink := newFakeSink(true)
	sink.registerDelay = 10 * time.Millisecond
	emitter := NewEmitter(sink, scenarioRuntime())

	const workers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			<-start
			emitter.SendInitializeEvent(success)
		}(i%2 == 0)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), sink.registerCalls.Load())
	assert.Len(t, sink.sentEvents(), workers)
}

func TestEmitterReadsRuntimeLive(t *testing.T) {
	rt := scenarioRuntime()
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, rt)

	emitter.SendInitializeEvent(true)
	rt.Enabled = append(rt.Enabled, "XR_EXT_bar")
	rt.FeatureList[1].IsEnabled = true
	emitter.SendInitializeEvent(true)

	sent := sink.sentEvents()
	require.Len(t, sent, 2)
	second := sent[1].payload.(InitializationRecord)
	assert.Equal(t, []string{"XR_KHR_foo_2", "XR_EXT_bar_1"}, second.EnabledExtensions)
	assert.Equal(t, []string{"FooFeature_1.0", "BarFeature_2.0"}, second.EnabledFeatures)
}

func TestEmitterAbsorbsSendRejection(t *testing.T) {
	sink := newFakeSink(true)
	sink.sendResult = ResultTooManyRequests
	logger := &recordingLogger{}
	emitter := NewEmitter(sink, scenarioRuntime(), WithLogger(logger))

	assert.NotPanics(t, func() { emitter.SendInitializeEvent(true) })

	health := emitter.Health()
	assert.Zero(t, health.EventsSent)
	assert.Equal(t, int64(1), health.EventsDropped)
	assert.Equal(t, "too_many_requests", health.LastResult)
	assert.Contains(t, logger.messages("WARN"), "Analytics event not accepted")
}

func TestEmitterRecoversFromSinkPanic(t *testing.T) {
	sink := newFakeSink(true)
	sink.panicOnSend = true
	logger := &recordingLogger{}
	emitter := NewEmitter(sink, scenarioRuntime(), WithLogger(logger))

	assert.NotPanics(t, func() { emitter.SendInitializeEvent(true) })
	assert.Equal(t, int64(1), emitter.Health().EventsDropped)
	assert.Contains(t, logger.messages("ERROR"), "Analytics send panicked")
}

func TestEmitterNilSink(t *testing.T) {
	emitter := NewEmitter(nil, nil)

	assert.False(t, emitter.EnsureRegistered())
	assert.NotPanics(t, func() { emitter.SendInitializeEvent(true) })
}

func TestEmitterMetricsAndSpans(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime(),
		WithMeterProvider(meterProvider),
		WithTracerProvider(tracerProvider))
	defer emitter.Close()

	emitter.SendInitializeEvent(true)
	emitter.SendInitializeEvent(false)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	gauges := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					gauges[m.Name] = dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums[MetricRegistrations])
	assert.Equal(t, int64(2), sums[MetricEventsSent])
	assert.Equal(t, int64(1), gauges[MetricRegisteredGauge])

	ended := spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "openxr.analytics.send_initialize", ended[0].Name())
}

func TestEmitterHealth(t *testing.T) {
	sink := newFakeSink(true)
	emitter := NewEmitter(sink, scenarioRuntime(), WithSinkMode(SinkModeEditor))

	health := emitter.Health()
	assert.Equal(t, "editor", health.Mode)
	assert.True(t, health.SinkEnabled)
	assert.False(t, health.Registered)
	assert.Empty(t, health.LastResult)
	assert.Equal(t, CircuitDisabled, health.CircuitState)

	emitter.SendInitializeEvent(true)
	health = emitter.Health()
	assert.True(t, health.Registered)
	assert.Equal(t, int64(1), health.EventsSent)
	assert.Equal(t, "ok", health.LastResult)
}

func TestRegistrationStateDo(t *testing.T) {
	state := NewRegistrationState()
	calls := 0

	assert.False(t, state.Do(func() bool { calls++; return false }))
	assert.True(t, state.Do(func() bool { calls++; return true }))
	assert.True(t, state.Do(func() bool { calls++; return true }))
	assert.Equal(t, 2, calls)
	assert.True(t, state.Registered())
}

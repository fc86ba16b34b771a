package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectorServer struct {
	*httptest.Server
	status    atomic.Int64
	mu        sync.Mutex
	envelopes []map[string]interface{}
}

func newCollectorServer(t *testing.T) *collectorServer {
	t.Helper()
	cs := &collectorServer{}
	cs.status.Store(http.StatusAccepted)
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var envelope map[string]interface{}
		if json.Unmarshal(body, &envelope) == nil {
			cs.mu.Lock()
			cs.envelopes = append(cs.envelopes, envelope)
			cs.mu.Unlock()
		}
		w.WriteHeader(int(cs.status.Load()))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *collectorServer) received() []map[string]interface{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]map[string]interface{}(nil), cs.envelopes...)
}

func newTestCollectorSink(t *testing.T, endpoint string, breaker *CircuitBreaker) *CollectorSink {
	t.Helper()
	clock := newFakeClock()
	sink, err := NewCollectorSink(CollectorOptions{
		Endpoint:       endpoint,
		Enabled:        true,
		Source:         "test-app",
		Timeout:        time.Second,
		Limiter:        NewMemoryWindowLimiter(time.Hour, clock.Now),
		CircuitBreaker: breaker,
		Clock:          clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestNewCollectorSinkValidation(t *testing.T) {
	_, err := NewCollectorSink(CollectorOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingConfiguration))

	for _, endpoint := range []string{"ftp://collector", "not a url", "http://"} {
		_, err := NewCollectorSink(CollectorOptions{Endpoint: endpoint})
		require.Error(t, err, endpoint)
		assert.True(t, errors.Is(err, core.ErrInvalidConfiguration), endpoint)
	}
}

func TestCollectorSinkPostsEnvelope(t *testing.T) {
	server := newCollectorServer(t)
	sink := newTestCollectorSink(t, server.URL, nil)
	emitter := NewEmitter(sink, scenarioRuntime())

	emitter.SendInitializeEvent(true)

	received := server.received()
	require.Len(t, received, 1)
	envelope := received[0]
	assert.Equal(t, "openxr_initialize", envelope["event_name"])
	assert.Equal(t, "unity.openxr", envelope["vendor_key"])
	assert.Equal(t, "test-app", envelope["source"])
	assert.Equal(t, "2024-05-01T12:00:00Z", envelope["sent_at"])

	_, err := uuid.Parse(envelope["event_id"].(string))
	assert.NoError(t, err)

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, true, data["success"])
	assert.Equal(t, "Oculus", data["runtime"])
	assert.Equal(t, []interface{}{"XR_KHR_foo_2"}, data["enabled_extensions"])
	assert.Equal(t, []interface{}{"BarFeature_2.0"}, data["failed_features"])
}

func TestCollectorSinkRequiresRegistration(t *testing.T) {
	server := newCollectorServer(t)
	sink := newTestCollectorSink(t, server.URL, nil)

	assert.Equal(t, ResultNotInitialized, sink.Send(context.Background(), EventInitialize, countPayload(1)))
	assert.Empty(t, server.received())
}

func TestCollectorSinkDisabled(t *testing.T) {
	server := newCollectorServer(t)
	sink := newTestCollectorSink(t, server.URL, nil)
	sink.SetEnabled(false)
	ctx := context.Background()

	assert.False(t, sink.Enabled())
	assert.Equal(t, ResultAnalyticsDisabled, sink.RegisterEvent(ctx, InitializeCategory))
	assert.Equal(t, ResultAnalyticsDisabled, sink.Send(ctx, EventInitialize, countPayload(1)))
}

func TestCollectorSinkStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		expected Result
	}{
		{http.StatusOK, ResultOK},
		{http.StatusNoContent, ResultOK},
		{http.StatusTooManyRequests, ResultTooManyRequests},
		{http.StatusRequestEntityTooLarge, ResultSizeLimitReached},
		{http.StatusBadRequest, ResultInvalidData},
		{http.StatusBadGateway, ResultTransportError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := newCollectorServer(t)
			server.status.Store(int64(tt.status))
			sink := newTestCollectorSink(t, server.URL, nil)
			ctx := context.Background()

			require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))
			assert.Equal(t, tt.expected, sink.Send(ctx, EventInitialize, countPayload(1)))
		})
	}
}

type bigPayload struct {
	Blob string `json:"blob"`
}

func (bigPayload) ElementCount() int { return 1 }

func TestCollectorSinkSizeLimit(t *testing.T) {
	server := newCollectorServer(t)
	sink := newTestCollectorSink(t, server.URL, nil)
	ctx := context.Background()
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))

	result := sink.Send(ctx, EventInitialize, bigPayload{Blob: strings.Repeat("x", MaxEnvelopeBytes)})
	assert.Equal(t, ResultSizeLimitReached, result)
	assert.Empty(t, server.received())
}

func TestCollectorSinkCircuitBreaker(t *testing.T) {
	server := newCollectorServer(t)
	server.status.Store(http.StatusInternalServerError)

	breaker := NewCircuitBreaker(core.CircuitBreakerConfig{
		Enabled:      true,
		MaxFailures:  2,
		RecoveryTime: time.Hour,
		HalfOpenMax:  1,
	}, nil)
	sink := newTestCollectorSink(t, server.URL, breaker)
	ctx := context.Background()
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))

	assert.Equal(t, ResultTransportError, sink.Send(ctx, EventInitialize, countPayload(1)))
	assert.Equal(t, ResultTransportError, sink.Send(ctx, EventInitialize, countPayload(1)))
	assert.Equal(t, CircuitOpen, sink.CircuitState())

	// open circuit: no further requests reach the collector
	assert.Equal(t, ResultTransportError, sink.Send(ctx, EventInitialize, countPayload(1)))
	assert.Len(t, server.received(), 2)

	emitter := NewEmitter(sink, nil)
	assert.Equal(t, CircuitOpen, emitter.Health().CircuitState)
}

func TestCollectorSinkUnreachable(t *testing.T) {
	server := newCollectorServer(t)
	url := server.URL
	server.Close()

	sink := newTestCollectorSink(t, url, nil)
	ctx := context.Background()
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))
	assert.Equal(t, ResultTransportError, sink.Send(ctx, EventInitialize, countPayload(1)))
}

func TestCollectorSinkHourlyCeiling(t *testing.T) {
	server := newCollectorServer(t)
	server.status.Store(http.StatusNoContent)
	sink := newTestCollectorSink(t, server.URL, nil)
	ctx := context.Background()
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))

	for i := 0; i < MaxEventsPerHour; i++ {
		require.Equal(t, ResultOK, sink.Send(ctx, EventInitialize, countPayload(1)))
	}
	assert.Equal(t, ResultTooManyRequests, sink.Send(ctx, EventInitialize, countPayload(1)))
	assert.Len(t, server.received(), MaxEventsPerHour)
}

func TestCollectorSinkFailedDeliveryKeepsWindowFree(t *testing.T) {
	server := newCollectorServer(t)
	server.status.Store(http.StatusInternalServerError)

	breaker := NewCircuitBreaker(core.CircuitBreakerConfig{
		Enabled:      true,
		MaxFailures:  1,
		RecoveryTime: time.Hour,
		HalfOpenMax:  1,
	}, nil)
	sink := newTestCollectorSink(t, server.URL, breaker)
	ctx := context.Background()

	category := InitializeCategory
	category.MaxEventsPerHour = 3
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, category))

	// first attempt fails at the collector, the rest at the open circuit
	for i := 0; i < 3; i++ {
		assert.Equal(t, ResultTransportError, sink.Send(ctx, EventInitialize, countPayload(1)))
	}
	assert.Len(t, server.received(), 1)
	used, ok := sink.WindowUsage(ctx, EventInitialize)
	require.True(t, ok)
	assert.Zero(t, used, "undelivered events hold no window slot")

	breaker.Reset()
	server.status.Store(http.StatusAccepted)

	for i := 0; i < 3; i++ {
		require.Equal(t, ResultOK, sink.Send(ctx, EventInitialize, countPayload(1)), "event %d", i+1)
	}
	assert.Equal(t, ResultTooManyRequests, sink.Send(ctx, EventInitialize, countPayload(1)))

	used, _ = sink.WindowUsage(ctx, EventInitialize)
	assert.Equal(t, int64(3), used)
	assert.Len(t, server.received(), 4)
}

func TestCollectorSinkRejectedEventReleasesSlot(t *testing.T) {
	server := newCollectorServer(t)
	server.status.Store(http.StatusBadRequest)
	sink := newTestCollectorSink(t, server.URL, nil)
	ctx := context.Background()
	require.Equal(t, ResultOK, sink.RegisterEvent(ctx, InitializeCategory))

	assert.Equal(t, ResultInvalidData, sink.Send(ctx, EventInitialize, countPayload(1)))
	assert.Equal(t, ResultTooManyItems, sink.Send(ctx, EventInitialize, countPayload(MaxElementsPerEvent+1)))

	used, ok := sink.WindowUsage(ctx, EventInitialize)
	require.True(t, ok)
	assert.Zero(t, used)

	_, ok = sink.WindowUsage(ctx, "unregistered")
	assert.False(t, ok)
}

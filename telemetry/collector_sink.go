package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/google/uuid"
)

// MaxEnvelopeBytes caps the size of one posted event.
const MaxEnvelopeBytes = 64 << 10

// Envelope is the JSON document posted to the collector for each event.
type Envelope struct {
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	VendorKey string    `json:"vendor_key"`
	Source    string    `json:"source"`
	SentAt    time.Time `json:"sent_at"`
	Data      Payload   `json:"data"`
}

// CollectorOptions configures a CollectorSink.
type CollectorOptions struct {
	Endpoint string
	Timeout  time.Duration
	Enabled  bool
	// Source names the application in every envelope.
	Source         string
	HTTPClient     *http.Client
	Limiter        EventLimiter
	CircuitBreaker *CircuitBreaker
	Logger         core.Logger
	Clock          Clock
}

// CollectorSink posts events as JSON to an HTTP analytics collector. It
// backs production mode.
type CollectorSink struct {
	endpoint   string
	source     string
	client     *http.Client
	enabled    atomic.Bool
	categories *categoryTable
	limiter    EventLimiter
	circuit    *CircuitBreaker
	logger     core.Logger
	now        Clock
}

var _ SinkCloser = (*CollectorSink)(nil)

// NewCollectorSink validates opts and builds the sink. No request is made
// until the first Send.
func NewCollectorSink(opts CollectorOptions) (*CollectorSink, error) {
	if opts.Endpoint == "" {
		return nil, &core.FrameworkError{
			Op:      "telemetry.NewCollectorSink",
			Kind:    "configuration",
			Message: "collector endpoint is required",
			Err:     core.ErrMissingConfiguration,
		}
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &core.FrameworkError{
			Op:      "telemetry.NewCollectorSink",
			Kind:    "configuration",
			ID:      opts.Endpoint,
			Message: fmt.Sprintf("collector endpoint %q must be an http(s) URL", opts.Endpoint),
			Err:     core.ErrInvalidConfiguration,
		}
	}

	logger := core.LoggerOrNoop(opts.Logger)

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = NewTracedHTTPClient(nil, timeout)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &CollectorSink{
		endpoint:   opts.Endpoint,
		source:     opts.Source,
		client:     client,
		categories: newCategoryTable(opts.Limiter, logger),
		limiter:    opts.Limiter,
		circuit:    opts.CircuitBreaker,
		logger:     logger,
		now:        clock,
	}
	s.enabled.Store(opts.Enabled)
	return s, nil
}

func (s *CollectorSink) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles the opt-out switch.
func (s *CollectorSink) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// RegisterEvent records the category locally; the collector itself is
// stateless.
func (s *CollectorSink) RegisterEvent(_ context.Context, category EventCategory) Result {
	if !s.Enabled() {
		return ResultAnalyticsDisabled
	}
	return s.categories.register(category)
}

func (s *CollectorSink) Send(ctx context.Context, eventName string, payload Payload) Result {
	if !s.Enabled() {
		return ResultAnalyticsDisabled
	}

	category, result := s.categories.check(eventName, payload)
	if result != ResultOK {
		return result
	}

	eventID := uuid.NewString()
	body, err := json.Marshal(Envelope{
		EventID:   eventID,
		EventName: eventName,
		VendorKey: category.VendorKey,
		Source:    s.source,
		SentAt:    s.now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return ResultInvalidData
	}
	if len(body) > MaxEnvelopeBytes {
		return ResultSizeLimitReached
	}

	if !s.circuit.Allow() {
		s.logger.Debug("Collector circuit open, dropping event", map[string]interface{}{
			"event": eventName,
		})
		return ResultTransportError
	}

	if result := s.categories.reserve(ctx, category, eventID); result != ResultOK {
		return result
	}
	result = s.post(ctx, eventName, body)
	if result != ResultOK {
		s.categories.release(ctx, category, eventID)
	}
	return result
}

// WindowUsage reports how many events of eventName were delivered inside
// the current rate window.
func (s *CollectorSink) WindowUsage(ctx context.Context, eventName string) (int64, bool) {
	return s.categories.usage(ctx, eventName)
}

func (s *CollectorSink) post(ctx context.Context, eventName string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return ResultInvalidData
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.circuit.RecordFailure()
		s.logger.Error("Failed to post analytics event", map[string]interface{}{
			"error":    err.Error(),
			"event":    eventName,
			"endpoint": s.endpoint,
		})
		return ResultTransportError
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.circuit.RecordSuccess()
		return ResultOK
	case resp.StatusCode == http.StatusTooManyRequests:
		return ResultTooManyRequests
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return ResultSizeLimitReached
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		s.logger.Warn("Collector rejected analytics event", map[string]interface{}{
			"event":  eventName,
			"status": resp.StatusCode,
		})
		return ResultInvalidData
	default:
		s.circuit.RecordFailure()
		s.logger.Error("Collector failed to accept analytics event", map[string]interface{}{
			"event":  eventName,
			"status": resp.StatusCode,
		})
		return ResultTransportError
	}
}

// CircuitState reports the collector circuit breaker state.
func (s *CollectorSink) CircuitState() string {
	return s.circuit.State()
}

// Close releases the limiter if it holds a connection.
func (s *CollectorSink) Close() error {
	s.client.CloseIdleConnections()
	if closer, ok := s.limiter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Health is a point-in-time view of an emitter.
type Health struct {
	Mode          string `json:"mode"`
	SinkEnabled   bool   `json:"sink_enabled"`
	Registered    bool   `json:"registered"`
	TestSupport   bool   `json:"test_support"`
	EventsSent    int64  `json:"events_sent"`
	EventsDropped int64  `json:"events_dropped"`
	LastResult    string `json:"last_result,omitempty"`
	CircuitState  string `json:"circuit_state"`
	WindowUsed    int64  `json:"window_used"`
	WindowLimit   int    `json:"window_limit"`
	Uptime        string `json:"uptime"`
}

// circuitReporter is implemented by sinks guarded by a circuit breaker.
type circuitReporter interface {
	CircuitState() string
}

// windowReporter is implemented by sinks that enforce an hourly ceiling.
type windowReporter interface {
	WindowUsage(ctx context.Context, eventName string) (int64, bool)
}

// Health returns the current health of the emitter.
func (e *Emitter) Health() Health {
	h := Health{
		Mode:          e.mode.String(),
		SinkEnabled:   e.sink.Enabled(),
		Registered:    e.state.Registered(),
		TestSupport:   e.testSupport,
		EventsSent:    e.sent.Load(),
		EventsDropped: e.dropped.Load(),
		CircuitState:  CircuitDisabled,
		Uptime:        time.Since(e.startTime).Round(time.Second).String(),
	}
	if last := e.lastResult.Load(); last >= 0 {
		h.LastResult = Result(last).String()
	}
	if cr, ok := e.sink.(circuitReporter); ok {
		h.CircuitState = cr.CircuitState()
	}
	if wr, ok := e.sink.(windowReporter); ok {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if used, ok := wr.WindowUsage(ctx, e.category.Name); ok {
			h.WindowUsed = used
			h.WindowLimit = e.category.MaxEventsPerHour
		}
	}
	return h
}

// HealthHandler serves the emitter's health as JSON. It answers 503 while
// the collector circuit is open and 200 otherwise.
func HealthHandler(e *Emitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := e.Health()
		w.Header().Set("Content-Type", "application/json")

		if health.CircuitState == CircuitOpen {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	}
}

// JournalHandler serves a journal's events as a JSON array, oldest first.
// The "event" query parameter narrows the list to one event name.
func JournalHandler(s *JournalSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Events(r.Context(), r.URL.Query().Get("event"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []JournalEntry{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	}
}

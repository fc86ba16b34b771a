package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// Result mirrors the result codes an analytics backend reports for
// registration and send calls. The emitter observes these but never
// surfaces them to its callers.
type Result int

const (
	ResultOK Result = iota
	ResultNotInitialized
	ResultAnalyticsDisabled
	ResultTooManyItems
	ResultSizeLimitReached
	ResultTooManyRequests
	ResultInvalidData
	ResultUnsupportedPlatform
	// ResultTransportError reports that the sink could not reach its backend.
	ResultTransportError
)

var resultNames = map[Result]string{
	ResultOK:                  "ok",
	ResultNotInitialized:      "not_initialized",
	ResultAnalyticsDisabled:   "analytics_disabled",
	ResultTooManyItems:        "too_many_items",
	ResultSizeLimitReached:    "size_limit_reached",
	ResultTooManyRequests:     "too_many_requests",
	ResultInvalidData:         "invalid_data",
	ResultUnsupportedPlatform: "unsupported_platform",
	ResultTransportError:      "transport_error",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// EventCategory is the declaration a sink needs before it accepts events
// of a given name.
type EventCategory struct {
	Name                string
	MaxEventsPerHour    int
	MaxElementsPerEvent int
	VendorKey           string
}

// Payload is anything a sink can serialize. ElementCount is used to
// enforce MaxElementsPerEvent.
type Payload interface {
	ElementCount() int
}

// Sink is the host analytics facility. Implementations must be safe for
// concurrent use and must not block their caller for long: delivery,
// batching and retry are the sink's own business.
type Sink interface {
	// Enabled reports whether analytics are currently allowed.
	Enabled() bool
	RegisterEvent(ctx context.Context, category EventCategory) Result
	Send(ctx context.Context, eventName string, payload Payload) Result
}

// SinkCloser is a Sink that holds resources such as a database handle or
// a Redis connection.
type SinkCloser interface {
	Sink
	Close() error
}

// SinkMode selects which Sink adapter backs the emitter.
type SinkMode int

const (
	SinkModeDisabled SinkMode = iota
	SinkModeProduction
	SinkModeEditor
)

func (m SinkMode) String() string {
	switch m {
	case SinkModeProduction:
		return core.ModeProduction
	case SinkModeEditor:
		return core.ModeEditor
	default:
		return core.ModeDisabled
	}
}

// ParseSinkMode maps a configuration string to a SinkMode. The empty
// string selects SinkModeDisabled.
func ParseSinkMode(s string) (SinkMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case core.ModeProduction:
		return SinkModeProduction, nil
	case core.ModeEditor:
		return SinkModeEditor, nil
	case core.ModeDisabled, "":
		return SinkModeDisabled, nil
	default:
		return SinkModeDisabled, &core.FrameworkError{
			Op:      "telemetry.ParseSinkMode",
			Kind:    "configuration",
			Message: fmt.Sprintf("unknown sink mode %q", s),
			Err:     core.ErrInvalidConfiguration,
		}
	}
}

// NoopSink reports analytics as disabled and discards everything.
type NoopSink struct{}

var _ SinkCloser = NoopSink{}

func (NoopSink) Enabled() bool { return false }

func (NoopSink) RegisterEvent(context.Context, EventCategory) Result {
	return ResultAnalyticsDisabled
}

func (NoopSink) Send(context.Context, string, Payload) Result {
	return ResultAnalyticsDisabled
}

func (NoopSink) Close() error { return nil }

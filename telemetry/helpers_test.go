package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Info(msg string, f map[string]interface{})  { l.add("INFO", msg, f) }
func (l *recordingLogger) Warn(msg string, f map[string]interface{})  { l.add("WARN", msg, f) }
func (l *recordingLogger) Error(msg string, f map[string]interface{}) { l.add("ERROR", msg, f) }
func (l *recordingLogger) Debug(msg string, f map[string]interface{}) { l.add("DEBUG", msg, f) }

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentEvent struct {
	name    string
	payload Payload
}

// fakeSink scripts the answers of a Sink and records what it is asked.
type fakeSink struct {
	mu sync.Mutex

	enabled         atomic.Bool
	registerResults []Result // consumed in order; the last one repeats
	sendResult      Result
	registerDelay   time.Duration
	panicOnSend     bool

	enabledCalls  atomic.Int64
	registerCalls atomic.Int64
	categories    []EventCategory
	sent          []sentEvent
}

func newFakeSink(enabled bool, registerResults ...Result) *fakeSink {
	if len(registerResults) == 0 {
		registerResults = []Result{ResultOK}
	}
	s := &fakeSink{registerResults: registerResults, sendResult: ResultOK}
	s.enabled.Store(enabled)
	return s
}

func (s *fakeSink) Enabled() bool {
	s.enabledCalls.Add(1)
	return s.enabled.Load()
}

func (s *fakeSink) RegisterEvent(_ context.Context, c EventCategory) Result {
	n := s.registerCalls.Add(1)
	if s.registerDelay > 0 {
		time.Sleep(s.registerDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, c)
	idx := int(n) - 1
	if idx >= len(s.registerResults) {
		idx = len(s.registerResults) - 1
	}
	return s.registerResults[idx]
}

func (s *fakeSink) Send(_ context.Context, name string, p Payload) Result {
	if s.panicOnSend {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEvent{name: name, payload: p})
	return s.sendResult
}

func (s *fakeSink) sentEvents() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentEvent(nil), s.sent...)
}

// countPayload is a Payload with a fixed element count.
type countPayload int

func (c countPayload) ElementCount() int { return int(c) }

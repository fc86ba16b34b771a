package telemetry

import (
	"context"
	"sync"
	"time"
)

// EventLimiter counts events per key over a sliding window. Every event
// carries a caller-chosen id so a slot can be handed back when the event
// is never delivered.
type EventLimiter interface {
	// Allow records event id for key and reports whether it fits within
	// limit. Rejected events are not recorded.
	Allow(ctx context.Context, key, id string, limit int) (bool, error)

	// Release removes event id from key's window. Releasing an unknown id
	// is not an error.
	Release(ctx context.Context, key, id string) error

	// Count returns the number of events for key inside the window.
	Count(ctx context.Context, key string) (int64, error)
}

// Clock supplies the current time. Tests replace it to move through a
// window without sleeping.
type Clock func() time.Time

type windowEvent struct {
	at time.Time
	id string
}

// MemoryWindowLimiter is an in-process sliding window.
type MemoryWindowLimiter struct {
	window time.Duration
	now    Clock

	mu     sync.Mutex
	events map[string][]windowEvent
}

var _ EventLimiter = (*MemoryWindowLimiter)(nil)

// NewMemoryWindowLimiter creates a limiter over window. A nil clock uses
// time.Now; a non-positive window means one hour.
func NewMemoryWindowLimiter(window time.Duration, clock Clock) *MemoryWindowLimiter {
	if window <= 0 {
		window = time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryWindowLimiter{
		window: window,
		now:    clock,
		events: make(map[string][]windowEvent),
	}
}

func (l *MemoryWindowLimiter) Allow(_ context.Context, key, id string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	events := l.prune(key, now)
	if len(events) >= limit {
		return false, nil
	}
	l.events[key] = append(events, windowEvent{at: now, id: id})
	return true, nil
}

func (l *MemoryWindowLimiter) Release(_ context.Context, key, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.events[key]
	// newest first: a release usually follows its Allow closely
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].id != id {
			continue
		}
		events = append(events[:i], events[i+1:]...)
		if len(events) == 0 {
			delete(l.events, key)
		} else {
			l.events[key] = events
		}
		return nil
	}
	return nil
}

func (l *MemoryWindowLimiter) Count(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.prune(key, l.now()))), nil
}

// prune drops events at or before now-window. Callers hold l.mu.
func (l *MemoryWindowLimiter) prune(key string, now time.Time) []windowEvent {
	events := l.events[key]
	cutoff := now.Add(-l.window)

	i := 0
	for i < len(events) && !events[i].at.After(cutoff) {
		i++
	}
	if i == len(events) {
		delete(l.events, key)
		return nil
	}
	events = events[i:]
	l.events[key] = events
	return events
}

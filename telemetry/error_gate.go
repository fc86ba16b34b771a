package telemetry

import (
	"sync"
	"time"
)

// errorGate lets one error line through per interval and counts the ones
// it holds back, so a dead collector cannot flood the log.
type errorGate struct {
	interval   time.Duration
	now        Clock
	mu         sync.Mutex
	last       time.Time
	suppressed int
}

// newErrorGate returns a gate with the given interval. A non-positive
// interval lets every line through.
func newErrorGate(interval time.Duration, now Clock) *errorGate {
	if now == nil {
		now = time.Now
	}
	return &errorGate{interval: interval, now: now}
}

// pass reports whether a line may be written now. When it may, it also
// returns how many lines were held back since the last one written.
func (g *errorGate) pass() (bool, int) {
	if g.interval <= 0 {
		return true, 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		g.suppressed++
		return false, 0
	}
	g.last = now
	held := g.suppressed
	g.suppressed = 0
	return true, held
}

package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
	CircuitDisabled = "disabled"
)

// CircuitBreaker stops the collector sink from hammering a backend that
// keeps failing. A nil *CircuitBreaker allows everything.
type CircuitBreaker struct {
	config core.CircuitBreakerConfig
	logger core.Logger
	now    Clock

	state           atomic.Value // string
	failures        atomic.Int64
	successes       atomic.Int64
	lastFailureTime atomic.Value // time.Time

	mu sync.Mutex
}

// NewCircuitBreaker returns nil when the breaker is disabled.
func NewCircuitBreaker(config core.CircuitBreakerConfig, logger core.Logger) *CircuitBreaker {
	if !config.Enabled {
		return nil
	}

	// Set defaults
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.RecoveryTime <= 0 {
		config.RecoveryTime = 30 * time.Second
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = 3
	}

	cb := &CircuitBreaker{
		config: config,
		logger: core.LoggerOrNoop(logger),
		now:    time.Now,
	}
	cb.state.Store(CircuitClosed)
	cb.lastFailureTime.Store(time.Time{})

	return cb
}

// Allow checks if a request should be allowed
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}

	switch cb.State() {
	case CircuitOpen:
		lastFailure, _ := cb.lastFailureTime.Load().(time.Time)
		if lastFailure.IsZero() || cb.now().Sub(lastFailure) <= cb.config.RecoveryTime {
			return false
		}

		cb.mu.Lock()
		// Double-check after acquiring lock
		if cb.state.Load().(string) == CircuitOpen {
			cb.state.Store(CircuitHalfOpen)
			cb.successes.Store(0)

			cb.logger.Info("Circuit breaker entering HALF-OPEN state", map[string]interface{}{
				"previous_state":     CircuitOpen,
				"recovery_wait":      cb.config.RecoveryTime.String(),
				"time_since_failure": cb.now().Sub(lastFailure).String(),
				"max_test_requests":  cb.config.HalfOpenMax,
				"action":             "Testing collector connectivity with limited requests",
			})
		}
		cb.mu.Unlock()
		return true

	case CircuitHalfOpen:
		currentRequests := cb.successes.Load()
		allowed := currentRequests < int64(cb.config.HalfOpenMax)
		if !allowed {
			cb.logger.Debug("Circuit breaker rejecting request in half-open state", map[string]interface{}{
				"current_tests": currentRequests,
				"max_tests":     cb.config.HalfOpenMax,
			})
		}
		return allowed

	default:
		return true
	}
}

// RecordSuccess records a successful post. Enough successes in half-open
// close the circuit; in closed state the failure count resets.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}

	successes := cb.successes.Add(1)

	switch cb.State() {
	case CircuitHalfOpen:
		cb.logger.Debug("Circuit breaker recovery test", map[string]interface{}{
			"progress": fmt.Sprintf("%d/%d", successes, cb.config.HalfOpenMax),
		})

		if successes >= int64(cb.config.HalfOpenMax) {
			cb.mu.Lock()
			if cb.state.Load().(string) == CircuitHalfOpen {
				cb.state.Store(CircuitClosed)
				cb.failures.Store(0)

				cb.logger.Info("Circuit breaker CLOSED - collector recovered", map[string]interface{}{
					"recovery_tests": successes,
					"impact":         "Analytics delivery resumed",
				})
			}
			cb.mu.Unlock()
		}
	case CircuitClosed:
		cb.failures.Store(0)
	}
}

// RecordFailure records a failed post
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}

	failures := cb.failures.Add(1)
	cb.lastFailureTime.Store(cb.now())

	if cb.State() == CircuitHalfOpen {
		cb.open(CircuitHalfOpen, failures)
		return
	}

	if failures >= int64(cb.config.MaxFailures) {
		cb.open(CircuitClosed, failures)
		return
	}

	if failures == 1 {
		cb.logger.Info("Circuit breaker recorded first failure", map[string]interface{}{
			"failure_count": 1,
			"max_failures":  cb.config.MaxFailures,
		})
	} else if failures == int64(cb.config.MaxFailures)-1 {
		cb.logger.Warn("Circuit breaker one failure from opening", map[string]interface{}{
			"failure_count": failures,
			"max_failures":  cb.config.MaxFailures,
			"impact":        "Next failure will open circuit breaker",
		})
	}
}

func (cb *CircuitBreaker) open(from string, failures int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state.Load().(string) == CircuitOpen {
		return
	}
	cb.state.Store(CircuitOpen)
	cb.successes.Store(0)

	cb.logger.Warn("Circuit breaker OPENED - analytics events will be dropped", map[string]interface{}{
		"previous_state": from,
		"failure_count":  failures,
		"max_failures":   cb.config.MaxFailures,
		"recovery_time":  cb.config.RecoveryTime.String(),
		"action":         "Check analytics collector health at configured endpoint",
	})
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() string {
	if cb == nil {
		return CircuitDisabled
	}
	return cb.state.Load().(string)
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	previousState := cb.state.Load().(string)
	previousFailures := cb.failures.Load()

	cb.state.Store(CircuitClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.lastFailureTime.Store(time.Time{})

	if previousState != CircuitClosed || previousFailures > 0 {
		cb.logger.Info("Circuit breaker manually reset", map[string]interface{}{
			"previous_state":    previousState,
			"previous_failures": previousFailures,
		})
	}
}

package telemetry

import (
	"sync"
	"sync/atomic"
)

// RegistrationState records whether the event category has been accepted
// by the sink. It only ever moves from unregistered to registered.
//
// Emitters that should share one registration (for example several
// emitters in one process talking to the same sink) are given the same
// RegistrationState with WithRegistrationState.
type RegistrationState struct {
	registered atomic.Bool
	mu         sync.Mutex
}

// NewRegistrationState returns an unregistered state.
func NewRegistrationState() *RegistrationState {
	return &RegistrationState{}
}

// Registered reports whether a registration has succeeded.
func (s *RegistrationState) Registered() bool {
	return s.registered.Load()
}

// Do runs register at most once successfully. Concurrent callers wait for
// an in-flight attempt instead of starting their own; after a failed
// attempt the next caller tries again.
func (s *RegistrationState) Do(register func() bool) bool {
	if s.registered.Load() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered.Load() {
		return true
	}
	if !register() {
		return false
	}
	s.registered.Store(true)
	return true
}

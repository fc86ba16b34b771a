package subsystem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/AStrangerGravity/com.unity.xr.openxr/telemetry"
)

// Lifecycle is the set of callbacks a feature receives as the runtime
// comes up and goes down.
type Lifecycle interface {
	OnSubsystemCreate(ctx context.Context, host *Host) error
	OnSubsystemStart(ctx context.Context, host *Host) error
	OnSubsystemStop(ctx context.Context, host *Host) error
	OnSubsystemDestroy(ctx context.Context, host *Host) error
}

// Feature is a loader feature with a stable ID and version.
type Feature interface {
	Lifecycle
	ID() string
	Version() string
}

// InitializeReporter receives the outcome of Manager.Start.
// *telemetry.Emitter implements it.
type InitializeReporter interface {
	SendInitializeEventContext(ctx context.Context, success bool)
}

type featureEntry struct {
	feature Feature
	enabled bool
	failed  bool
	created bool
	started bool
}

// Manager registers features and drives their lifecycle against a Host.
// After startup it reports the overall outcome to its InitializeReporter.
type Manager struct {
	host     *Host
	logger   core.Logger
	reporter InitializeReporter

	mu      sync.RWMutex
	entries []*featureEntry
	running bool
}

// NewManager creates a manager driving features against host.
func NewManager(host *Host, logger core.Logger) *Manager {
	if host == nil {
		host = NewHost(logger)
	}
	return &Manager{
		host:   host,
		logger: core.LoggerOrNoop(logger),
	}
}

// SetReporter sets the receiver of initialization outcomes. The emitter
// usually needs the manager's RuntimeInfo first, so it is attached after
// construction.
func (m *Manager) SetReporter(r InitializeReporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reporter = r
}

// Register adds a feature. Features start in registration order and stop
// in reverse order.
func (m *Manager) Register(f Feature, enabled bool) error {
	if f == nil {
		return &core.FrameworkError{Op: "subsystem.Register", Kind: "subsystem", Message: "subsystem.Register: nil feature", Err: core.ErrInvalidConfiguration}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return &core.FrameworkError{Op: "subsystem.Register", Kind: "subsystem", ID: f.ID(), Err: core.ErrAlreadyStarted}
	}
	for _, e := range m.entries {
		if e.feature.ID() == f.ID() {
			return &core.FrameworkError{Op: "subsystem.Register", Kind: "subsystem", ID: f.ID(), Err: core.ErrAlreadyRegistered}
		}
	}
	m.entries = append(m.entries, &featureEntry{feature: f, enabled: enabled})
	return nil
}

// SetEnabled toggles a registered feature before Start.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return &core.FrameworkError{Op: "subsystem.SetEnabled", Kind: "subsystem", ID: id, Err: core.ErrAlreadyStarted}
	}
	for _, e := range m.entries {
		if e.feature.ID() == id {
			e.enabled = enabled
			return nil
		}
	}
	return &core.FrameworkError{Op: "subsystem.SetEnabled", Kind: "subsystem", ID: id, Err: core.ErrFeatureNotFound}
}

// Start creates then starts every enabled feature's subsystems. A feature
// whose callback fails is marked failed and disabled; the others carry on.
// The outcome is reported once, and the returned error joins every
// callback failure.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return core.NewFrameworkError("subsystem.Start", "subsystem", core.ErrAlreadyStarted)
	}
	m.running = true
	entries := append([]*featureEntry(nil), m.entries...)
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if !m.isEnabled(e) {
			continue
		}
		if err := e.feature.OnSubsystemCreate(ctx, m.host); err != nil {
			errs = append(errs, m.fail(e, "create", err))
			continue
		}
		m.mark(func() { e.created = true })
	}

	for _, e := range entries {
		if !m.isEnabled(e) || !m.isCreated(e) {
			continue
		}
		if err := e.feature.OnSubsystemStart(ctx, m.host); err != nil {
			errs = append(errs, m.fail(e, "start", err))
			continue
		}
		m.mark(func() { e.started = true })
	}

	success := len(errs) == 0
	m.logger.Info("Subsystems started", map[string]interface{}{
		"features": len(entries),
		"failed":   len(errs),
		"success":  success,
	})

	m.mu.RLock()
	reporter := m.reporter
	m.mu.RUnlock()
	if reporter != nil {
		reporter.SendInitializeEventContext(ctx, success)
	}

	return errors.Join(errs...)
}

// Stop stops then destroys every created feature's subsystems in reverse
// registration order.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return core.NewFrameworkError("subsystem.Stop", "subsystem", core.ErrNotStarted)
	}
	entries := append([]*featureEntry(nil), m.entries...)
	m.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !m.isStarted(e) {
			continue
		}
		if err := e.feature.OnSubsystemStop(ctx, m.host); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", e.feature.ID(), err))
		}
		m.mark(func() { e.started = false })
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !m.isCreated(e) {
			continue
		}
		if err := e.feature.OnSubsystemDestroy(ctx, m.host); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", e.feature.ID(), err))
		}
		m.mark(func() { e.created = false })
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	return errors.Join(errs...)
}

// Features returns the analytics view of every registered feature.
func (m *Manager) Features() []telemetry.Feature {
	m.mu.RLock()
	defer m.mu.RUnlock()

	features := make([]telemetry.Feature, 0, len(m.entries))
	for _, e := range m.entries {
		features = append(features, featureView{
			typeName: telemetry.QualifiedTypeName(e.feature),
			version:  e.feature.Version(),
			enabled:  e.enabled,
			failed:   e.failed,
		})
	}
	return features
}

func (m *Manager) fail(e *featureEntry, stage string, err error) error {
	m.mark(func() {
		e.failed = true
		e.enabled = false
	})
	m.logger.Warn("Feature failed to initialize", map[string]interface{}{
		"feature": e.feature.ID(),
		"stage":   stage,
		"reason":  failureReason(err),
		"error":   err.Error(),
	})
	return fmt.Errorf("%s %s: %w", stage, e.feature.ID(), err)
}

// failureReason buckets a callback error for the failure log.
func failureReason(err error) string {
	switch {
	case core.IsNotFound(err):
		return "missing_subsystem"
	case core.IsStateError(err):
		return "invalid_state"
	case core.IsConfigurationError(err):
		return "invalid_configuration"
	default:
		return "callback_error"
	}
}

func (m *Manager) mark(update func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update()
}

func (m *Manager) isEnabled(e *featureEntry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.enabled
}

func (m *Manager) isCreated(e *featureEntry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.created
}

func (m *Manager) isStarted(e *featureEntry) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.started
}

// featureView is a copy of a feature's state at the time Features ran.
type featureView struct {
	typeName string
	version  string
	enabled  bool
	failed   bool
}

func (f featureView) TypeName() string           { return f.typeName }
func (f featureView) Version() string            { return f.version }
func (f featureView) Enabled() bool              { return f.enabled }
func (f featureView) FailedInitialization() bool { return f.failed }

// RuntimeInfo is a telemetry.Runtime whose feature list comes from a
// Manager and whose runtime identity comes from a base Runtime.
type RuntimeInfo struct {
	telemetry.Runtime
	manager *Manager
}

var _ telemetry.Runtime = (*RuntimeInfo)(nil)

// NewRuntimeInfo combines base and m. A nil base reports an empty runtime.
func NewRuntimeInfo(base telemetry.Runtime, m *Manager) *RuntimeInfo {
	if base == nil {
		base = &telemetry.RuntimeSnapshot{}
	}
	return &RuntimeInfo{Runtime: base, manager: m}
}

func (r *RuntimeInfo) Features() []telemetry.Feature {
	return r.manager.Features()
}

// Package subsystem hosts loader features and the runtime subsystems they
// drive through four lifecycle callbacks: create, start, stop and destroy.
package subsystem

import (
	"context"
	"fmt"
	"sync"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
)

// Kind groups subsystems of the same type. A host holds at most one live
// instance per kind.
type Kind string

const (
	KindMesh Kind = "mesh"
)

// Subsystem is a live runtime subsystem instance.
type Subsystem interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
	Running() bool
}

// Descriptor describes a subsystem that can be created on demand.
type Descriptor struct {
	ID     string
	Kind   Kind
	Create func() Subsystem
}

// Host owns subsystem descriptors and instances.
type Host struct {
	mu          sync.Mutex
	descriptors map[Kind][]Descriptor
	instances   map[Kind]Subsystem
	logger      core.Logger
}

// NewHost creates an empty host.
func NewHost(logger core.Logger) *Host {
	return &Host{
		descriptors: make(map[Kind][]Descriptor),
		instances:   make(map[Kind]Subsystem),
		logger:      core.LoggerOrNoop(logger),
	}
}

// RegisterDescriptor makes a subsystem available to CreateSubsystem.
func (h *Host) RegisterDescriptor(d Descriptor) error {
	if d.ID == "" || d.Kind == "" || d.Create == nil {
		return core.NewFrameworkError("subsystem.RegisterDescriptor", "subsystem", core.ErrInvalidConfiguration)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, existing := range h.descriptors[d.Kind] {
		if existing.ID == d.ID {
			return &core.FrameworkError{
				Op:   "subsystem.RegisterDescriptor",
				Kind: "subsystem",
				ID:   d.ID,
				Err:  core.ErrAlreadyRegistered,
			}
		}
	}
	h.descriptors[d.Kind] = append(h.descriptors[d.Kind], d)
	return nil
}

// Descriptors lists the registered descriptors of kind.
func (h *Host) Descriptors(kind Kind) []Descriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Descriptor(nil), h.descriptors[kind]...)
}

// CreateSubsystem instantiates the descriptor of kind named id.
func (h *Host) CreateSubsystem(kind Kind, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.instances[kind]; exists {
		return &core.FrameworkError{Op: "subsystem.Create", Kind: "subsystem", ID: id, Err: core.ErrAlreadyRegistered}
	}

	for _, d := range h.descriptors[kind] {
		if d.ID != id {
			continue
		}
		instance := d.Create()
		if instance == nil {
			return &core.FrameworkError{
				Op:      "subsystem.Create",
				Kind:    "subsystem",
				ID:      id,
				Message: fmt.Sprintf("descriptor %s produced no subsystem", id),
			}
		}
		h.instances[kind] = instance
		h.logger.Debug("Subsystem created", map[string]interface{}{
			"kind": string(kind),
			"id":   id,
		})
		return nil
	}

	return &core.FrameworkError{Op: "subsystem.Create", Kind: "subsystem", ID: id, Err: core.ErrSubsystemNotFound}
}

// StartSubsystem starts the live instance of kind.
func (h *Host) StartSubsystem(ctx context.Context, kind Kind) error {
	instance, err := h.instance("subsystem.Start", kind)
	if err != nil {
		return err
	}
	if instance.Running() {
		return &core.FrameworkError{Op: "subsystem.Start", Kind: "subsystem", ID: instance.ID(), Err: core.ErrAlreadyStarted}
	}
	return instance.Start(ctx)
}

// StopSubsystem stops the live instance of kind.
func (h *Host) StopSubsystem(ctx context.Context, kind Kind) error {
	instance, err := h.instance("subsystem.Stop", kind)
	if err != nil {
		return err
	}
	if !instance.Running() {
		return &core.FrameworkError{Op: "subsystem.Stop", Kind: "subsystem", ID: instance.ID(), Err: core.ErrNotStarted}
	}
	return instance.Stop(ctx)
}

// DestroySubsystem stops the instance of kind if needed, destroys it and
// forgets it.
func (h *Host) DestroySubsystem(ctx context.Context, kind Kind) error {
	instance, err := h.instance("subsystem.Destroy", kind)
	if err != nil {
		return err
	}
	if instance.Running() {
		if err := instance.Stop(ctx); err != nil {
			return err
		}
	}
	if err := instance.Destroy(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.instances, kind)
	h.mu.Unlock()

	h.logger.Debug("Subsystem destroyed", map[string]interface{}{
		"kind": string(kind),
		"id":   instance.ID(),
	})
	return nil
}

// Subsystem returns the live instance of kind.
func (h *Host) Subsystem(kind Kind) (Subsystem, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.instances[kind]
	return s, ok
}

func (h *Host) instance(op string, kind Kind) (Subsystem, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.instances[kind]
	if !ok {
		return nil, &core.FrameworkError{Op: op, Kind: "subsystem", ID: string(kind), Err: core.ErrSubsystemNotFound}
	}
	return s, nil
}

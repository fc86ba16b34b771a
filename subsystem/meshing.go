package subsystem

import (
	"context"
	"sync"
)

// Meshing sample identifiers.
const (
	MeshingFeatureID      = "com.unity.openxr.feature.example.meshing"
	MeshingFeatureVersion = "0.0.1"
	MeshingFeatureName    = "Sample: Meshing Teapot"
	MeshingSubsystemID    = "Sample Meshing"
)

// MeshingTeapotFeature is a sample feature that supplies a mesh from a
// native mesh subsystem. Its callbacks only drive the "Sample Meshing"
// subsystem through the host.
type MeshingTeapotFeature struct{}

var _ Feature = MeshingTeapotFeature{}

func (MeshingTeapotFeature) ID() string      { return MeshingFeatureID }
func (MeshingTeapotFeature) Version() string { return MeshingFeatureVersion }
func (MeshingTeapotFeature) Name() string    { return MeshingFeatureName }

func (MeshingTeapotFeature) OnSubsystemCreate(_ context.Context, host *Host) error {
	return host.CreateSubsystem(KindMesh, MeshingSubsystemID)
}

func (MeshingTeapotFeature) OnSubsystemStart(ctx context.Context, host *Host) error {
	return host.StartSubsystem(ctx, KindMesh)
}

func (MeshingTeapotFeature) OnSubsystemStop(ctx context.Context, host *Host) error {
	return host.StopSubsystem(ctx, KindMesh)
}

func (MeshingTeapotFeature) OnSubsystemDestroy(ctx context.Context, host *Host) error {
	return host.DestroySubsystem(ctx, KindMesh)
}

// MeshInfo identifies one mesh produced by a mesh subsystem.
type MeshInfo struct {
	ID string
}

// MeshSubsystem serves a single static teapot mesh while running.
type MeshSubsystem struct {
	id string

	mu        sync.Mutex
	running   bool
	destroyed bool
}

// TeapotMeshDescriptor returns the descriptor the meshing sample creates.
func TeapotMeshDescriptor() Descriptor {
	return Descriptor{
		ID:   MeshingSubsystemID,
		Kind: KindMesh,
		Create: func() Subsystem {
			return &MeshSubsystem{id: MeshingSubsystemID}
		},
	}
}

func (m *MeshSubsystem) ID() string { return m.id }

func (m *MeshSubsystem) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

func (m *MeshSubsystem) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

func (m *MeshSubsystem) Destroy(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.destroyed = true
	return nil
}

func (m *MeshSubsystem) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Meshes lists the meshes available while the subsystem runs.
func (m *MeshSubsystem) Meshes() []MeshInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.destroyed {
		return nil
	}
	return []MeshInfo{{ID: "teapot"}}
}

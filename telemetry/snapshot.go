package telemetry

import (
	"fmt"
	"os"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"gopkg.in/yaml.v3"
)

// RuntimeSnapshot is a static Runtime, typically loaded from a YAML file
// describing a runtime captured elsewhere. It is used by the CLI and by
// tests.
//
//	runtime: Oculus
//	runtime_version: 1.2.3
//	plugin_version: 1.8.0
//	api_version: 1.0.0
//	available_extensions:
//	  - name: XR_KHR_foo
//	    version: 2
//	enabled_extensions: [XR_KHR_foo]
//	features:
//	  - type: FooFeature
//	    version: "1.0"
//	    enabled: true
type RuntimeSnapshot struct {
	RuntimeName    string          `yaml:"runtime" json:"runtime"`
	RuntimeVersion string          `yaml:"runtime_version" json:"runtime_version"`
	Plugin         string          `yaml:"plugin_version" json:"plugin_version"`
	API            string          `yaml:"api_version" json:"api_version"`
	Available      []ExtensionInfo `yaml:"available_extensions" json:"available_extensions"`
	Enabled        []string        `yaml:"enabled_extensions" json:"enabled_extensions"`
	FeatureList    []FeatureInfo   `yaml:"features" json:"features"`
}

// ExtensionInfo names an extension the runtime offers and its spec version.
type ExtensionInfo struct {
	Name    string `yaml:"name" json:"name"`
	Version uint32 `yaml:"version" json:"version"`
}

// FeatureInfo is a static Feature.
type FeatureInfo struct {
	Type           string `yaml:"type" json:"type"`
	FeatureVersion string `yaml:"version" json:"version"`
	IsEnabled      bool   `yaml:"enabled" json:"enabled"`
	Failed         bool   `yaml:"failed_initialization" json:"failed_initialization"`
}

var (
	_ Runtime = (*RuntimeSnapshot)(nil)
	_ Feature = (*FeatureInfo)(nil)
)

func (f *FeatureInfo) TypeName() string           { return f.Type }
func (f *FeatureInfo) Version() string            { return f.FeatureVersion }
func (f *FeatureInfo) Enabled() bool              { return f.IsEnabled }
func (f *FeatureInfo) FailedInitialization() bool { return f.Failed }

func (s *RuntimeSnapshot) Name() string          { return s.RuntimeName }
func (s *RuntimeSnapshot) Version() string       { return s.RuntimeVersion }
func (s *RuntimeSnapshot) PluginVersion() string { return s.Plugin }
func (s *RuntimeSnapshot) APIVersion() string    { return s.API }

func (s *RuntimeSnapshot) EnabledExtensions() []string {
	return s.Enabled
}

func (s *RuntimeSnapshot) AvailableExtensions() []string {
	names := make([]string, 0, len(s.Available))
	for _, ext := range s.Available {
		names = append(names, ext.Name)
	}
	return names
}

// ExtensionVersion returns 0 for extensions the runtime does not offer.
func (s *RuntimeSnapshot) ExtensionVersion(name string) uint32 {
	for _, ext := range s.Available {
		if ext.Name == name {
			return ext.Version
		}
	}
	return 0
}

func (s *RuntimeSnapshot) Features() []Feature {
	features := make([]Feature, 0, len(s.FeatureList))
	for i := range s.FeatureList {
		features = append(features, &s.FeatureList[i])
	}
	return features
}

// ParseRuntimeSnapshot decodes a YAML (or JSON, which is valid YAML)
// snapshot.
func ParseRuntimeSnapshot(data []byte) (*RuntimeSnapshot, error) {
	var snapshot RuntimeSnapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, &core.FrameworkError{
			Op:      "telemetry.ParseRuntimeSnapshot",
			Kind:    "configuration",
			Message: fmt.Sprintf("failed to parse runtime snapshot: %v", err),
			Err:     core.ErrInvalidConfiguration,
		}
	}
	return &snapshot, nil
}

// LoadRuntimeSnapshot reads and decodes a snapshot file.
func LoadRuntimeSnapshot(path string) (*RuntimeSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.FrameworkError{
			Op:      "telemetry.LoadRuntimeSnapshot",
			Kind:    "configuration",
			ID:      path,
			Message: fmt.Sprintf("failed to read runtime snapshot %s: %v", path, err),
			Err:     core.ErrMissingConfiguration,
		}
	}
	return ParseRuntimeSnapshot(data)
}

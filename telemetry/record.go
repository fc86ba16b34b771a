package telemetry

import (
	"reflect"
	"strconv"
)

// Wire constants for the initialization event. Collectors key on these
// values, so they must not change.
const (
	EventInitialize     = "openxr_initialize"
	VendorKey           = "unity.openxr"
	MaxEventsPerHour    = 1000
	MaxElementsPerEvent = 1000
)

// InitializeCategory is the category registered before the first
// initialization event is sent.
var InitializeCategory = EventCategory{
	Name:                EventInitialize,
	MaxEventsPerHour:    MaxEventsPerHour,
	MaxElementsPerEvent: MaxElementsPerEvent,
	VendorKey:           VendorKey,
}

// InitializationRecord is the payload of one openxr_initialize event.
// The slices are never nil so they serialize as empty arrays.
type InitializationRecord struct {
	Success             bool     `json:"success" yaml:"success"`
	Runtime             string   `json:"runtime" yaml:"runtime"`
	RuntimeVersion      string   `json:"runtime_version" yaml:"runtime_version"`
	PluginVersion       string   `json:"plugin_version" yaml:"plugin_version"`
	APIVersion          string   `json:"api_version" yaml:"api_version"`
	EnabledExtensions   []string `json:"enabled_extensions" yaml:"enabled_extensions"`
	AvailableExtensions []string `json:"available_extensions" yaml:"available_extensions"`
	EnabledFeatures     []string `json:"enabled_features" yaml:"enabled_features"`
	FailedFeatures      []string `json:"failed_features" yaml:"failed_features"`
}

// recordScalarFields counts success, runtime, runtime_version,
// plugin_version and api_version.
const recordScalarFields = 5

// ElementCount counts each scalar field once and each array entry once.
func (r InitializationRecord) ElementCount() int {
	return recordScalarFields +
		len(r.EnabledExtensions) +
		len(r.AvailableExtensions) +
		len(r.EnabledFeatures) +
		len(r.FailedFeatures)
}

// FormatExtension renders an extension as "<name>_<version>".
func FormatExtension(name string, version uint32) string {
	return name + "_" + strconv.FormatUint(uint64(version), 10)
}

// FormatFeature renders a feature as "<qualifiedTypeName>_<version>".
func FormatFeature(typeName, version string) string {
	return typeName + "_" + version
}

// BuildInitializationRecord snapshots rt at call time. A nil runtime
// yields a record with empty strings and empty lists.
func BuildInitializationRecord(rt Runtime, success bool) InitializationRecord {
	record := InitializationRecord{
		Success:             success,
		EnabledExtensions:   []string{},
		AvailableExtensions: []string{},
		EnabledFeatures:     []string{},
		FailedFeatures:      []string{},
	}
	if rt == nil {
		return record
	}

	record.Runtime = rt.Name()
	record.RuntimeVersion = rt.Version()
	record.PluginVersion = rt.PluginVersion()
	record.APIVersion = rt.APIVersion()

	for _, ext := range rt.EnabledExtensions() {
		record.EnabledExtensions = append(record.EnabledExtensions, FormatExtension(ext, rt.ExtensionVersion(ext)))
	}
	for _, ext := range rt.AvailableExtensions() {
		record.AvailableExtensions = append(record.AvailableExtensions, FormatExtension(ext, rt.ExtensionVersion(ext)))
	}

	for _, feature := range rt.Features() {
		if isNilFeature(feature) {
			continue
		}
		label := FormatFeature(feature.TypeName(), feature.Version())
		if feature.Enabled() {
			record.EnabledFeatures = append(record.EnabledFeatures, label)
		}
		if feature.FailedInitialization() {
			record.FailedFeatures = append(record.FailedFeatures, label)
		}
	}

	return record
}

// isNilFeature treats a typed nil pointer held in the interface the same
// as an empty slot.
func isNilFeature(f Feature) bool {
	if f == nil {
		return true
	}
	v := reflect.ValueOf(f)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	}
	return false
}

// QualifiedTypeName returns the package-qualified name of v's type, with
// any pointer indirection removed, for example
// "github.com/acme/xr/features.HandTracking".
func QualifiedTypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

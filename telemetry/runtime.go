package telemetry

// Runtime is the read-only view of the active XR runtime and loader. Every
// accessor is read live when a record is built.
type Runtime interface {
	Name() string
	Version() string
	PluginVersion() string
	APIVersion() string
	// EnabledExtensions and AvailableExtensions keep the host's order.
	EnabledExtensions() []string
	AvailableExtensions() []string
	ExtensionVersion(name string) uint32
	// Features may contain nil slots; they are skipped.
	Features() []Feature
}

// Feature is a loader feature as seen by analytics. TypeName should be the
// package-qualified type name; QualifiedTypeName produces one.
type Feature interface {
	TypeName() string
	Version() string
	Enabled() bool
	FailedInitialization() bool
}

// Package openxr carries build information for the OpenXR analytics module.
package openxr

// Version information, overridden at link time with -ldflags "-X".
var (
	// Version is the module version reported as plugin version and service version
	Version = "development"

	// BuildDate is set during build time
	BuildDate = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"
)

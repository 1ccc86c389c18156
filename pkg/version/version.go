// Package version carries build-time version information for the
// dispatcher binary. Values are overridden at link time via -ldflags.
package version

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the VCS commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

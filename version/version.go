// Package version holds build-time version information. The variables
// are overridden at link time via -ldflags -X.
package version

var (
	// Version of the converged binary.
	Version = "0.1.0-dev"
	// GitCommit the binary was built from.
	GitCommit = "unknown"
	// BuildTime is when the binary was built, in RFC3339.
	BuildTime = "unknown"
)

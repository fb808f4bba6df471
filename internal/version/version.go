// Package version carries build metadata injected via -ldflags.
package version

var (
	// Version is the engravelink release, "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Package version holds build metadata, overridden at link time with
// -ldflags "-X github.com/banshee-data/lightcurve.report/internal/version.Version=...".
package version

var (
	// Version is the release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

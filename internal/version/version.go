// Package version holds build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the release of the awimager binary
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and FITS ORIGIN
// cards.
func String() string {
	return fmt.Sprintf("awimager %s (git %s, built %s)", Version, GitSHA, BuildTime)
}

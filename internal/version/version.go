// Package version holds build information set with -ldflags, e.g.
//
//	go build -ldflags "-X splinekt/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the semantic version
	Version = "dev"

	// BuildTime is the UTC time when the binary was built
	BuildTime = "unknown"

	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

// String formats the build information for --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

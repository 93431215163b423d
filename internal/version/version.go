// Package version holds build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X magellan/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String formats the build information for -version output and window titles.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitCommit, BuildTime)
}

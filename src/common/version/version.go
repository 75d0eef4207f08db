// Package version holds build metadata for opikb.
package version

import (
	"fmt"
	"runtime"
)

// Info holds version information set at build time via ldflags.
type Info struct {
	// Version is the semantic version of the tool (e.g., "1.2.0")
	Version string

	// BuildDate is the ISO 8601 build timestamp
	BuildDate string

	// GitCommit is the short git commit hash
	GitCommit string
}

// Default values for unset version info
var (
	DefaultVersion   = "0.0.0-dev"
	DefaultBuildDate = "unknown"
	DefaultGitCommit = "unknown"
)

// New creates a new Info with default values
func New() *Info {
	return &Info{
		Version:   DefaultVersion,
		BuildDate: DefaultBuildDate,
		GitCommit: DefaultGitCommit,
	}
}

// GoVersion returns the Go runtime version
func GoVersion() string {
	return runtime.Version()
}

// String returns the version string
func (i *Info) String() string {
	return i.Version
}

// Short returns a short version string (version + commit)
func (i *Info) Short() string {
	return fmt.Sprintf("v%s-%s", i.Version, i.GitCommit)
}

// Full returns a detailed multi-line version string
func (i *Info) Full() string {
	return fmt.Sprintf(`opikb %s
  Build Date: %s
  Git Commit: %s
  Go Version: %s
  Platform:   %s/%s`,
		i.Short(),
		i.BuildDate,
		i.GitCommit,
		GoVersion(),
		runtime.GOOS, runtime.GOARCH,
	)
}

// Map returns version info as a map (used for json/yaml output)
func (i *Info) Map() map[string]string {
	return map[string]string{
		"version":    i.Version,
		"build_date": i.BuildDate,
		"git_commit": i.GitCommit,
		"go_version": GoVersion(),
		"platform":   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

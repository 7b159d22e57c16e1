package version

import (
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	// Version is the rover release version (from git tags).
	Version = "dev"
	// BuildTime is the time when the binary was built.
	BuildTime = "unknown"
	// CommitID is the git commit hash.
	CommitID = "unknown"
)

func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Info returns structured version information for the version command and
// the status endpoint.
func Info() map[string]string {
	return map[string]string{
		"Version":       Version,
		"GoVersion":     runtime.Version(),
		"GitCommit":     CommitID,
		"BuildTime":     BuildTime,
		"FormattedTime": formatBuildTime(),
		"OS":            runtime.GOOS,
		"Arch":          runtime.GOARCH,
	}
}

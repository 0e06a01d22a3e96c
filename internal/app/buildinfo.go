package app

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// version and buildDate are set via ldflags in release builds, e.g.
// -X rttgcs/internal/app.version=0.3.0. Development builds fall back to the
// module version recorded by the Go toolchain.
var (
	version   = ""
	buildDate = ""
)

// ReleaseVersion resolves the running binary's version: the ldflags value if
// set, else the module build info, else "dev".
func ReleaseVersion() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}

// ReleaseDate returns the build date as YYYY-MM-DD, or "" when no parseable
// date was stamped in.
func ReleaseDate() string {
	raw := strings.TrimSpace(buildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}

	return ""
}

// VersionString is the user-facing version line: "0.3.0 (2026-08-01)", or
// just the version when no build date is known.
func VersionString() string {
	v := ReleaseVersion()
	if date := ReleaseDate(); date != "" {
		return fmt.Sprintf("%s (%s)", v, date)
	}

	return v
}

// Package version reports build metadata for the wsession binaries.
//
// Set at link time:
//
//	go build -ldflags "-X github.com/rickgao/wsession/internal/version.Version=0.3.0 \
//	                   -X github.com/rickgao/wsession/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/...
package version

import "runtime/debug"

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"

	// Commit is the short git hash.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String returns a one-line version string.
func String() string {
	return Version + " (" + commit() + ") built " + BuildTime
}

// UserAgent is sent in the handshake header of dialed sessions.
func UserAgent() string {
	return "wsession/" + Version
}

// commit falls back to the VCS revision embedded by the toolchain.
func commit() string {
	if Commit != "unknown" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return Commit
}

// Package buildinfo exposes the build identity of the running binary.
//
// Version and BuildTimestamp are injected at link time:
//
//	go build -ldflags "-X github.com/dmitrijs2005/readkeeper/internal/buildinfo.Version=1.4.0 \
//	  -X github.com/dmitrijs2005/readkeeper/internal/buildinfo.BuildTimestamp=2026-10-01T12:00:00Z"
//
// The shell and the cache worker compare BuildTimestamp to detect version skew.
package buildinfo

import (
	"fmt"
	"io"
	"strconv"
	"time"
)

var (
	Version        = "dev"
	BuildTimestamp = ""
)

// VersionInfo identifies one build. It is never persisted.
type VersionInfo struct {
	Version        string
	BuildTimestamp time.Time
}

func (v VersionInfo) String() string {
	if v.BuildTimestamp.IsZero() {
		return fmt.Sprintf("%s (build time unknown)", v.Version)
	}
	return fmt.Sprintf("%s (built %s)", v.Version, v.BuildTimestamp.UTC().Format(time.RFC3339))
}

// SameBuild reports whether both builds carry the same timestamp.
func (v VersionInfo) SameBuild(other VersionInfo) bool {
	return v.BuildTimestamp.Equal(other.BuildTimestamp)
}

// Current returns the identity of this binary.
func Current() VersionInfo {
	return VersionInfo{Version: Version, BuildTimestamp: ParseTimestamp(BuildTimestamp)}
}

// ParseTimestamp accepts RFC 3339 or unix seconds. Anything else yields the
// zero time.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	return time.Time{}
}

// PrintBuildData writes the build identity in the usual two-line form.
func PrintBuildData(w io.Writer) {
	ts := BuildTimestamp
	if ts == "" {
		ts = "N/A"
	}
	fmt.Fprintf(w, "Build version: %s\nBuild date: %s\n", Version, ts)
}

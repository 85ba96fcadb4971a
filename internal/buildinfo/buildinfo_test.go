package buildinfo

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, ParseTimestamp("2026-10-01T12:00:00Z").Equal(want))
	assert.True(t, ParseTimestamp("1790856000").Equal(time.Unix(1790856000, 0)))
	assert.True(t, ParseTimestamp("").IsZero())
	assert.True(t, ParseTimestamp("yesterday").IsZero())
}

func TestCurrent_UsesLinkerValues(t *testing.T) {
	oldV, oldT := Version, BuildTimestamp
	t.Cleanup(func() { Version, BuildTimestamp = oldV, oldT })

	Version = "1.2.3"
	BuildTimestamp = "2026-10-01T12:00:00Z"

	info := Current()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "1.2.3 (built 2026-10-01T12:00:00Z)", info.String())
	assert.True(t, info.SameBuild(VersionInfo{BuildTimestamp: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}))
}

func TestPrintBuildData(t *testing.T) {
	oldV, oldT := Version, BuildTimestamp
	t.Cleanup(func() { Version, BuildTimestamp = oldV, oldT })

	Version, BuildTimestamp = "1.0.0", ""
	var buf bytes.Buffer
	PrintBuildData(&buf)
	assert.Equal(t, "Build version: 1.0.0\nBuild date: N/A\n", buf.String())
}

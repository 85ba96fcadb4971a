package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cfg := &Config{}
	cfg.LoadDefaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	require.NoError(t, fs.Parse(args))
	return cfg, Load(fs, cfg)
}

func TestFlags_WithoutFileKeepDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Empty(t, cmp.Diff(want, *cfg))
}

func TestFlags_OverrideFile(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server_url":            "https://file.example",
		"online_check_interval": "10s",
		"worker_addr":           "127.0.0.1:1",
		"events_origins":        []string{"file.example"},
	})

	cfg, err := parse(t, "-c", path, "-a", "https://flag.example", "-i", "1s", "--events-origin", "a.example,b.example")
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example", cfg.ServerURL)
	assert.Equal(t, time.Second, cfg.OnlineCheckInterval)
	assert.Equal(t, "127.0.0.1:1", cfg.WorkerAddr, "file value without a flag")
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.EventsOrigins)
}

func TestFlags_VersionCheckInterval(t *testing.T) {
	cfg, err := parse(t, "--version-check-interval", "15s")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.VersionCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval, "sync schedule is independent")
}

func TestFlags_InvalidValue(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	require.Error(t, fs.Parse([]string{"-i", "abc"}))
}

func TestFlags_ValidationFails(t *testing.T) {
	_, err := parse(t, "--cache-backend", "s3")
	require.Error(t, err)
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestLoadJSON_OverlaysOnlyPresentFields(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"server_url":             "https://bm.example",
		"cache_backend":          "s3",
		"s3":                     map[string]any{"bucket": "articles", "use_path_style": true},
		"online_check_interval":  "10s",
		"sync_interval":          int64(90 * time.Second),
		"max_retries":            0,
		"version_check_interval": "30s",
		"events_origins":         []string{"localhost:*"},
	})

	var c Config
	c.LoadDefaults()
	require.NoError(t, loadJSON(&c, path))

	assert.Equal(t, "https://bm.example", c.ServerURL)
	assert.Equal(t, BackendS3, c.CacheBackend)
	assert.Equal(t, cache.S3Config{Bucket: "articles", Region: "us-east-1", UsePathStyle: true}, c.S3)
	assert.Equal(t, 10*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 90*time.Second, c.SyncInterval)
	assert.Zero(t, c.MaxRetries, "explicit zero is honored")
	assert.Equal(t, []string{"localhost:*"}, c.EventsOrigins)
	assert.Equal(t, 30*time.Second, c.VersionCheckInterval)
	assert.Equal(t, 2*time.Second, c.VersionCheckTimeout, "absent fields keep defaults")
}

func TestLoadJSON_Errors(t *testing.T) {
	var c Config
	require.Error(t, loadJSON(&c, filepath.Join(t.TempDir(), "missing.json")))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"sync_interval": "soon"}`), 0o600))
	require.Error(t, loadJSON(&c, bad))
}

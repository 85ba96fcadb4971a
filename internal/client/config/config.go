package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
)

// Cache backends.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config holds runtime settings shared by the shell and the cache worker.
//
// Units: all intervals and timeouts are time.Duration.
type Config struct {
	ServerURL string
	DataDir   string

	CacheBackend   string
	S3             cache.S3Config
	StaleRetention int

	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration

	HTTPTimeout      time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	MaxRetryAfter    time.Duration
	FetchConcurrency int

	WorkerAddr          string
	VersionCheckTimeout time.Duration
	// VersionCheckInterval is how often the shell asks the worker for its build.
	VersionCheckInterval time.Duration
	// VersionCheckWindow of zero signals a mismatch once per worker build.
	VersionCheckWindow time.Duration

	EventsAddr    string
	EventsOrigins []string

	LogFile  string
	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DataDir = defaultDataDir()
	c.CacheBackend = BackendFS
	c.S3 = cache.S3Config{Region: "us-east-1"}
	c.StaleRetention = 1
	c.SyncInterval = 5 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
	c.HTTPTimeout = 15 * time.Second
	c.MaxRetries = 3
	c.RetryBaseDelay = 200 * time.Millisecond
	c.RetryMaxDelay = 5 * time.Second
	c.MaxRetryAfter = 30 * time.Second
	c.FetchConcurrency = 4
	c.WorkerAddr = "127.0.0.1:50061"
	c.VersionCheckTimeout = 2 * time.Second
	c.VersionCheckInterval = time.Minute
	c.VersionCheckWindow = 0
	c.EventsAddr = "127.0.0.1:8089"
	c.EventsOrigins = nil
	c.LogFile = ""
	c.LogLevel = "info"
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "readkeeper.db")
}

// BlobDir is the root of the filesystem cache backend.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// Validate rejects settings the components cannot start with.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendFS:
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("cache backend s3: bucket is required")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.StaleRetention < 0 {
		return fmt.Errorf("stale retention must not be negative")
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "readkeeper")
	}
	return ".readkeeper"
}

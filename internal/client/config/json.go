package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/dmitrijs2005/readkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations use
// timex.Duration so they can be written as "3s" or integer nanoseconds.
// Absent or zero fields leave the current value alone.
type JsonConfig struct {
	ServerURL            string          `json:"server_url"`
	DataDir              string          `json:"data_dir"`
	CacheBackend         string          `json:"cache_backend"`
	S3                   *cache.S3Config `json:"s3"`
	StaleRetention       *int            `json:"stale_retention"`
	SyncInterval         timex.Duration  `json:"sync_interval"`
	OnlineCheckInterval  timex.Duration  `json:"online_check_interval"`
	HTTPTimeout          timex.Duration  `json:"http_timeout"`
	MaxRetries           *int            `json:"max_retries"`
	RetryBaseDelay       timex.Duration  `json:"retry_base_delay"`
	RetryMaxDelay        timex.Duration  `json:"retry_max_delay"`
	MaxRetryAfter        timex.Duration  `json:"max_retry_after"`
	FetchConcurrency     int             `json:"fetch_concurrency"`
	WorkerAddr           string          `json:"worker_addr"`
	VersionCheckTimeout  timex.Duration  `json:"version_check_timeout"`
	VersionCheckInterval timex.Duration  `json:"version_check_interval"`
	VersionCheckWindow   timex.Duration  `json:"version_check_window"`
	EventsAddr           string          `json:"events_addr"`
	EventsOrigins        []string        `json:"events_origins"`
	LogFile              string          `json:"log_file"`
	LogLevel             string          `json:"log_level"`
}

// loadJSON overlays cfg with the file at path.
func loadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.CacheBackend, jc.CacheBackend)
	if jc.S3 != nil {
		s3 := *jc.S3
		if s3.Region == "" {
			s3.Region = cfg.S3.Region
		}
		cfg.S3 = s3
	}
	if jc.StaleRetention != nil {
		cfg.StaleRetention = *jc.StaleRetention
	}
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.HTTPTimeout, jc.HTTPTimeout)
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}
	setDuration(&cfg.RetryBaseDelay, jc.RetryBaseDelay)
	setDuration(&cfg.RetryMaxDelay, jc.RetryMaxDelay)
	setDuration(&cfg.MaxRetryAfter, jc.MaxRetryAfter)
	if jc.FetchConcurrency > 0 {
		cfg.FetchConcurrency = jc.FetchConcurrency
	}
	setString(&cfg.WorkerAddr, jc.WorkerAddr)
	setDuration(&cfg.VersionCheckTimeout, jc.VersionCheckTimeout)
	setDuration(&cfg.VersionCheckInterval, jc.VersionCheckInterval)
	setDuration(&cfg.VersionCheckWindow, jc.VersionCheckWindow)
	setString(&cfg.EventsAddr, jc.EventsAddr)
	if len(jc.EventsOrigins) > 0 {
		cfg.EventsOrigins = jc.EventsOrigins
	}
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

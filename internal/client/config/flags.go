package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// FlagConfig names the flag selecting the JSON config file.
const FlagConfig = "config"

// BindFlags registers flags that write straight into cfg. Call LoadDefaults
// first so that help output shows the defaults.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringP(FlagConfig, "c", "", "path to a JSON config file")

	fs.StringVarP(&cfg.ServerURL, "server", "a", cfg.ServerURL, "base URL of the bookmark service")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the local database and cached content")

	fs.StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "content cache backend: fs or s3")
	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3 endpoint override")
	fs.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "S3 region")
	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3.Prefix, "s3-prefix", cfg.S3.Prefix, "S3 key prefix")
	fs.StringVar(&cfg.S3.AccessKey, "s3-access-key", cfg.S3.AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3.SecretKey, "s3-secret-key", cfg.S3.SecretKey, "S3 secret key")
	fs.BoolVar(&cfg.S3.UsePathStyle, "s3-path-style", cfg.S3.UsePathStyle, "use path-style S3 addressing")
	fs.IntVar(&cfg.StaleRetention, "stale-retention", cfg.StaleRetention, "stale content versions kept per bookmark")

	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "background sync interval")
	fs.DurationVarP(&cfg.OnlineCheckInterval, "online-check-interval", "i", cfg.OnlineCheckInterval, "online status check interval")

	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "timeout of one HTTP attempt")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retries of a transient request failure")
	fs.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", cfg.RetryBaseDelay, "first retry delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "longest retry delay")
	fs.DurationVar(&cfg.MaxRetryAfter, "max-retry-after", cfg.MaxRetryAfter, "longest Retry-After delay the client waits for")
	fs.IntVar(&cfg.FetchConcurrency, "fetch-concurrency", cfg.FetchConcurrency, "parallel content downloads per sync")

	fs.StringVar(&cfg.WorkerAddr, "worker-addr", cfg.WorkerAddr, "address of the cache worker gRPC endpoint")
	fs.DurationVar(&cfg.VersionCheckTimeout, "version-check-timeout", cfg.VersionCheckTimeout, "timeout of a worker version request")
	fs.DurationVar(&cfg.VersionCheckInterval, "version-check-interval", cfg.VersionCheckInterval, "how often the shell compares its build with the worker")
	fs.DurationVar(&cfg.VersionCheckWindow, "version-check-window", cfg.VersionCheckWindow, "repeat interval of a version mismatch signal, 0 for once per build")

	fs.StringVar(&cfg.EventsAddr, "events-addr", cfg.EventsAddr, "address of the worker WebSocket event bridge, empty to disable")
	fs.StringSliceVar(&cfg.EventsOrigins, "events-origin", cfg.EventsOrigins, "allowed WebSocket origin patterns")

	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotating log file, stderr when empty")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
}

// Load overlays the JSON file named by --config and then re-applies every
// flag set on the command line, so flags win over the file. fs must be
// parsed already.
func Load(fs *pflag.FlagSet, cfg *Config) error {
	path, err := fs.GetString(FlagConfig)
	if err != nil {
		return err
	}
	if path != "" {
		type setFlag struct {
			flag  *pflag.Flag
			value string
			slice []string
		}
		var changed []setFlag
		fs.Visit(func(f *pflag.Flag) {
			s := setFlag{flag: f, value: f.Value.String()}
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				s.slice = sv.GetSlice()
			}
			changed = append(changed, s)
		})

		if err := loadJSON(cfg, path); err != nil {
			return err
		}

		for _, s := range changed {
			if sv, ok := s.flag.Value.(pflag.SliceValue); ok {
				if err := sv.Replace(s.slice); err != nil {
					return fmt.Errorf("flag --%s: %w", s.flag.Name, err)
				}
				continue
			}
			if err := s.flag.Value.Set(s.value); err != nil {
				return fmt.Errorf("flag --%s: %w", s.flag.Name, err)
			}
		}
	}
	return cfg.Validate()
}

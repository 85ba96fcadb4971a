// Package config loads runtime configuration for the readkeeper shell and
// cache worker.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config.
//  3. Command-line flags (see BindFlags), which override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_url": "https://bookmarks.example.com",
//	  "data_dir": "/home/me/.config/readkeeper",
//	  "cache_backend": "s3",
//	  "s3": {"endpoint": "http://127.0.0.1:9000", "bucket": "articles", "use_path_style": true},
//	  "sync_interval": "5m",
//	  "online_check_interval": "3s",
//	  "version_check_timeout": "2s",
//	  "version_check_interval": "1m",
//	  "log_level": "debug"
//	}
//
// The package does not read environment variables; the AWS SDK still picks
// up its own variables when no S3 keys are configured.
package config

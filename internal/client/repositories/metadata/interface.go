// Package metadata stores small key/value records of the local client: the
// sync cursor, the last successful sync time and the API token.
package metadata

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeySyncCursor   = "sync.cursor"
	KeyLastSyncedAt = "sync.last_synced_at"
	KeyAuthToken    = "auth.token"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)

	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

package models

import "time"

// CacheState is the lifecycle position of a cache entry.
type CacheState string

const (
	// CacheStaged rows are written but not yet verified and promoted.
	CacheStaged CacheState = "staged"
	// CacheCurrent is the single readable version for a bookmark.
	CacheCurrent CacheState = "current"
	// CacheStale rows are superseded and kept as fallback until evicted.
	CacheStale CacheState = "stale"
)

// CacheEntry is a locally stored article body at one content version.
// Body is only populated by reads.
type CacheEntry struct {
	BookmarkID     string
	ContentVersion int64
	BlobKey        string
	Digest         string
	Size           int64
	ContentType    string
	CachedAt       time.Time
	State          CacheState
	Body           []byte
}

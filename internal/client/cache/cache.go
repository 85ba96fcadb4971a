// Package cache is the ContentCache: versioned article bodies kept for
// offline reading. The index lives in SQLite, bytes live in a BlobStore.
//
// A write stages an index row, stores the blob, reads it back to verify the
// digest and only then promotes the row to current in one transaction. The
// previously current version becomes stale and stays readable as a fallback
// until eviction.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/cacheentries"
	"github.com/dmitrijs2005/readkeeper/internal/cryptox"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
	"github.com/dmitrijs2005/readkeeper/internal/lockx"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"go.uber.org/multierr"
)

var (
	// ErrCacheWriteIncomplete means a blob could not be stored or did not
	// verify. The current entry is untouched.
	ErrCacheWriteIncomplete = errors.New("cache write incomplete")
	ErrOlderVersion         = errors.New("version older than cached")
)

type Options struct {
	// StaleRetention is how many stale versions per bookmark survive
	// eviction.
	StaleRetention int
}

type Cache struct {
	db      *sql.DB
	entries cacheentries.Repository
	blobs   BlobStore
	opts    Options
	locks   *lockx.KeyedMutex
	logger  logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	readers map[string]int
}

func New(db *sql.DB, blobs BlobStore, opts Options, l logging.Logger) *Cache {
	if opts.StaleRetention < 0 {
		opts.StaleRetention = 0
	}
	return &Cache{
		db:      db,
		entries: cacheentries.NewSQLiteRepository(db),
		blobs:   blobs,
		opts:    opts,
		locks:   lockx.NewKeyedMutex(),
		logger:  l.With("module", "content_cache"),
		now:     time.Now,
		readers: make(map[string]int),
	}
}

// Put stores blob as the current content of bookmarkID at version. Writing
// the version that is already current is a no-op.
func (c *Cache) Put(ctx context.Context, bookmarkID string, version int64, blob *models.ContentBlob) (*models.CacheEntry, error) {
	unlock := c.locks.Lock(bookmarkID)
	defer unlock()

	cur, err := c.entries.Current(ctx, bookmarkID)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		switch {
		case cur.ContentVersion == version:
			return cur, nil
		case cur.ContentVersion > version:
			return nil, fmt.Errorf("%s@%d, current %d: %w", bookmarkID, version, cur.ContentVersion, ErrOlderVersion)
		}
	}

	e, err := c.stage(ctx, bookmarkID, version, blob)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return cacheentries.NewSQLiteRepository(tx).Promote(ctx, bookmarkID, version)
	})
	if err != nil {
		return nil, fmt.Errorf("promote %s@%d: %w", bookmarkID, version, err)
	}
	e.State = models.CacheCurrent

	c.logger.Debug(ctx, "content cached", "bookmark_id", bookmarkID, "version", version, "size", e.Size)
	return e, nil
}

// stage writes and verifies a blob under a staged index row. The row is left
// staged; a crash before promotion is cleaned up by Recover.
func (c *Cache) stage(ctx context.Context, bookmarkID string, version int64, blob *models.ContentBlob) (*models.CacheEntry, error) {
	e := models.CacheEntry{
		BookmarkID:     bookmarkID,
		ContentVersion: version,
		BlobKey:        BlobKey(bookmarkID, version),
		Digest:         cryptox.Digest(blob.Body),
		Size:           int64(len(blob.Body)),
		ContentType:    blob.ContentType,
		CachedAt:       c.now().UTC(),
		State:          models.CacheStaged,
	}
	if err := c.entries.Stage(ctx, e); err != nil {
		return nil, err
	}

	if err := c.blobs.Put(ctx, e.BlobKey, blob.Body); err != nil {
		c.discard(ctx, e)
		return nil, fmt.Errorf("%w: %s@%d: %w", ErrCacheWriteIncomplete, bookmarkID, version, err)
	}

	got, err := c.blobs.Get(ctx, e.BlobKey)
	if err == nil {
		err = cryptox.Verify(got, e.Digest)
	}
	if err != nil {
		c.logger.Warn(ctx, "cached blob failed verification", "bookmark_id", bookmarkID, "version", version, "error", err)
		c.discard(ctx, e)
		return nil, fmt.Errorf("%w: %s@%d: %w", ErrCacheWriteIncomplete, bookmarkID, version, err)
	}

	e.Body = blob.Body
	return &e, nil
}

func (c *Cache) discard(ctx context.Context, e models.CacheEntry) {
	if err := c.blobs.Delete(ctx, e.BlobKey); err != nil {
		c.logger.Warn(ctx, "failed to delete blob", "key", e.BlobKey, "error", err)
	}
	if err := c.entries.Delete(ctx, e.BookmarkID, e.ContentVersion); err != nil {
		c.logger.Warn(ctx, "failed to delete cache entry", "bookmark_id", e.BookmarkID, "version", e.ContentVersion, "error", err)
	}
}

// load reads and verifies the blob of e.
func (c *Cache) load(ctx context.Context, e models.CacheEntry) (*models.CacheEntry, error) {
	body, err := c.blobs.Get(ctx, e.BlobKey)
	if err != nil {
		return nil, err
	}
	if err := cryptox.Verify(body, e.Digest); err != nil {
		return nil, err
	}
	e.Body = body
	return &e, nil
}

// GetCurrent returns the readable content of a bookmark with its body, or
// (nil, nil) when nothing is cached. An unreadable current entry falls back
// to the newest readable stale one.
func (c *Cache) GetCurrent(ctx context.Context, bookmarkID string) (*models.CacheEntry, error) {
	cur, err := c.entries.Current(ctx, bookmarkID)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		e, err := c.load(ctx, *cur)
		if err == nil {
			return e, nil
		}
		c.logger.Warn(ctx, "current entry unreadable", "bookmark_id", bookmarkID, "version", cur.ContentVersion, "error", err)
	}

	stale, err := c.entries.Stale(ctx, bookmarkID)
	if err != nil {
		return nil, err
	}
	for _, s := range stale {
		e, err := c.load(ctx, s)
		if err != nil {
			c.logger.Debug(ctx, "stale entry unreadable", "bookmark_id", bookmarkID, "version", s.ContentVersion, "error", err)
			continue
		}
		return e, nil
	}
	return nil, nil
}

// BeginRead marks bookmarkID as being read so eviction leaves it alone. The
// returned release function is idempotent.
func (c *Cache) BeginRead(bookmarkID string) func() {
	c.mu.Lock()
	c.readers[bookmarkID]++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.readers[bookmarkID]--
			if c.readers[bookmarkID] <= 0 {
				delete(c.readers, bookmarkID)
			}
		})
	}
}

func (c *Cache) reading(bookmarkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readers[bookmarkID] > 0
}

// EvictStale drops stale versions of a bookmark beyond the retention count
// and returns how many were removed. Bookmarks with an active read are
// skipped.
func (c *Cache) EvictStale(ctx context.Context, bookmarkID string) (int, error) {
	unlock := c.locks.Lock(bookmarkID)
	defer unlock()

	if c.reading(bookmarkID) {
		c.logger.Debug(ctx, "eviction skipped, bookmark is being read", "bookmark_id", bookmarkID)
		return 0, nil
	}

	stale, err := c.entries.Stale(ctx, bookmarkID)
	if err != nil {
		return 0, err
	}
	if len(stale) <= c.opts.StaleRetention {
		return 0, nil
	}

	var (
		n    int
		errs error
	)
	for _, e := range stale[c.opts.StaleRetention:] {
		if err := c.remove(ctx, e); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

// EvictAllStale runs EvictStale over every bookmark holding stale entries.
func (c *Cache) EvictAllStale(ctx context.Context) (int, error) {
	ids, err := c.entries.BookmarksWithStale(ctx)
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, multierr.Append(errs, err)
		}
		n, err := c.EvictStale(ctx, id)
		total += n
		errs = multierr.Append(errs, err)
	}
	if total > 0 {
		c.logger.Info(ctx, "stale content evicted", "entries", total)
	}
	return total, errs
}

// remove deletes the blob before the row. A row whose blob is gone fails
// verification on read and is skipped.
func (c *Cache) remove(ctx context.Context, e models.CacheEntry) error {
	if err := c.blobs.Delete(ctx, e.BlobKey); err != nil {
		return err
	}
	return c.entries.Delete(ctx, e.BookmarkID, e.ContentVersion)
}

// Remove drops every cached version of a bookmark.
func (c *Cache) Remove(ctx context.Context, bookmarkID string) error {
	unlock := c.locks.Lock(bookmarkID)
	defer unlock()

	all, err := c.entries.ListByBookmark(ctx, bookmarkID)
	if err != nil {
		return err
	}
	var errs error
	for _, e := range all {
		errs = multierr.Append(errs, c.remove(ctx, e))
	}
	return errs
}

// CurrentVersions maps bookmark id to its current cached content version.
func (c *Cache) CurrentVersions(ctx context.Context) (map[string]int64, error) {
	return c.entries.CurrentVersions(ctx)
}

// Recover drops staged entries left behind by an interrupted write and
// returns how many were removed.
func (c *Cache) Recover(ctx context.Context) (int, error) {
	staged, err := c.entries.ListStaged(ctx)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs error
	)
	for _, e := range staged {
		unlock := c.locks.Lock(e.BookmarkID)
		err := c.remove(ctx, e)
		unlock()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		c.logger.Info(ctx, "dropped interrupted cache writes", "entries", n)
	}
	return n, errs
}

func (c *Cache) Stats(ctx context.Context) (map[models.CacheState]int, error) {
	return c.entries.Stats(ctx)
}

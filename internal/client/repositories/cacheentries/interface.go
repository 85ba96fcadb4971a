// Package cacheentries stores the index of cached article bodies. Blob bytes
// live in a separate blob store; rows here only describe them.
package cacheentries

import (
	"context"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
)

type Repository interface {
	// Stage inserts a staged row, replacing a leftover staged row of the same
	// version.
	Stage(ctx context.Context, e models.CacheEntry) error

	// Get returns (nil, nil) when the row is absent.
	Get(ctx context.Context, bookmarkID string, version int64) (*models.CacheEntry, error)

	// Current returns the current row of a bookmark or (nil, nil).
	Current(ctx context.Context, bookmarkID string) (*models.CacheEntry, error)

	// Stale returns stale rows of a bookmark, highest version first.
	Stale(ctx context.Context, bookmarkID string) ([]models.CacheEntry, error)

	// Promote marks the staged row current and the previous current stale.
	// Must run inside a transaction.
	Promote(ctx context.Context, bookmarkID string, version int64) error

	Delete(ctx context.Context, bookmarkID string, version int64) error

	// ListByBookmark returns every row of a bookmark, highest version first.
	ListByBookmark(ctx context.Context, bookmarkID string) ([]models.CacheEntry, error)

	// ListStaged returns every staged row.
	ListStaged(ctx context.Context) ([]models.CacheEntry, error)

	// BookmarksWithStale lists bookmark ids that have at least one stale row.
	BookmarksWithStale(ctx context.Context) ([]string, error)

	// CurrentVersions maps bookmark id to its current content version.
	CurrentVersions(ctx context.Context) (map[string]int64, error)

	// Stats counts rows per state.
	Stats(ctx context.Context) (map[models.CacheState]int, error)
}

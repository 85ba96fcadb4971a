// Package progress persists per-bookmark read progress.
package progress

import (
	"context"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
)

type Repository interface {
	// Get returns (nil, nil) when no progress is recorded.
	Get(ctx context.Context, bookmarkID string) (*models.ReadProgress, error)

	// Set inserts or replaces the progress of p.BookmarkID.
	Set(ctx context.Context, p models.ReadProgress) error

	// CompareAndSet replaces the record only if its LastReadAt still equals
	// expected. It reports whether a row was written.
	CompareAndSet(ctx context.Context, expected time.Time, p models.ReadProgress) (bool, error)

	Delete(ctx context.Context, bookmarkID string) error

	// ListPending returns records awaiting a push, oldest first.
	ListPending(ctx context.Context) ([]models.ReadProgress, error)

	// CountPending returns the number of records awaiting a push.
	CountPending(ctx context.Context) (int, error)
}

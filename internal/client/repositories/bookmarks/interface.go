// Package bookmarks persists the local mirror of remote bookmarks.
package bookmarks

import (
	"context"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
)

// Repository describes storage of Bookmark records.
type Repository interface {
	// Get returns (nil, nil) when id is unknown.
	Get(ctx context.Context, id string) (*models.Bookmark, error)

	// List returns bookmarks matching f, newest remote update first.
	List(ctx context.Context, f models.Filter) ([]models.Bookmark, error)

	// Upsert inserts or fully replaces the record with b.ID.
	Upsert(ctx context.Context, b models.Bookmark) error

	// Delete removes the record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// IDs returns every known bookmark id.
	IDs(ctx context.Context) ([]string, error)
}

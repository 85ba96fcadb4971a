package client

import (
	"context"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
)

// Client is the contract of the remote bookmark service.
type Client interface {
	// ListChangedSince returns one page of changes after cursor. An empty
	// cursor lists the whole collection.
	ListChangedSince(ctx context.Context, cursor string) (*models.ChangeSet, error)

	// FetchContent downloads the cacheable article body of a bookmark.
	FetchContent(ctx context.Context, bookmarkID string) (*models.ContentBlob, error)

	// PushProgress sends local read progress. A conflict is not an error:
	// it is reported in the result together with the server value.
	PushProgress(ctx context.Context, bookmarkID string, p models.ReadProgress) (*models.PushResult, error)

	// Ping checks reachability and credentials.
	Ping(ctx context.Context) error

	// SetToken replaces the API token used for subsequent calls.
	SetToken(token string)
}

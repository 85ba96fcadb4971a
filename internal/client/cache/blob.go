package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore keeps article bodies by key. Put must not expose a partially
// written object to a later Get.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
}

// BlobKey is the storage key of one content version of a bookmark.
func BlobKey(bookmarkID string, version int64) string {
	return fmt.Sprintf("%s/%d", url.PathEscape(bookmarkID), version)
}

// Package models defines the records the client keeps locally and the shapes
// exchanged with the remote bookmark service.
package models

import (
	"slices"
	"time"
)

// Bookmark mirrors a remote bookmark. Metadata is never authored locally.
type Bookmark struct {
	ID              string
	Title           string
	URL             string
	Tags            []string
	Archived        bool
	RemoteUpdatedAt time.Time
	// ContentVersion is bumped by the server whenever the cacheable article
	// body changes. Zero means the bookmark has no content to cache.
	ContentVersion int64
}

// SameAs reports whether b and o carry identical data.
func (b Bookmark) SameAs(o Bookmark) bool {
	return b.ID == o.ID &&
		b.Title == o.Title &&
		b.URL == o.URL &&
		slices.Equal(b.Tags, o.Tags) &&
		b.Archived == o.Archived &&
		b.RemoteUpdatedAt.Equal(o.RemoteUpdatedAt) &&
		b.ContentVersion == o.ContentVersion
}

// HasTag reports whether the bookmark carries tag.
func (b Bookmark) HasTag(tag string) bool {
	return slices.Contains(b.Tags, tag)
}

// ReadProgress is the scroll-derived completion of a bookmark.
// ScrollPercent is always within [0, 100].
type ReadProgress struct {
	BookmarkID    string
	ScrollPercent float64
	LastReadAt    time.Time
	PendingPush   bool
}

// ArchiveFilter selects bookmarks by archived flag.
type ArchiveFilter int

const (
	Unarchived ArchiveFilter = iota
	Archived
	AnyArchive
)

// Filter narrows ListAll results. The zero value lists unarchived bookmarks.
type Filter struct {
	Archive ArchiveFilter
	Tag     string
	Limit   int
	Offset  int
}

// SyncCursor is the persisted sync position plus the in-process flight flag.
type SyncCursor struct {
	LastSyncedAt time.Time
	Token        string
	InFlight     bool
}

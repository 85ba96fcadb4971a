package models

import "time"

// RemoteBookmark is one entry of a change listing.
type RemoteBookmark struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	URL            string          `json:"url"`
	Tags           []string        `json:"tags"`
	Archived       bool            `json:"archived"`
	Deleted        bool            `json:"deleted"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ContentVersion int64           `json:"content_version"`
	Progress       *RemoteProgress `json:"progress,omitempty"`
}

// Bookmark converts the listing entry into the local record shape.
func (r RemoteBookmark) Bookmark() Bookmark {
	return Bookmark{
		ID:              r.ID,
		Title:           r.Title,
		URL:             r.URL,
		Tags:            r.Tags,
		Archived:        r.Archived,
		RemoteUpdatedAt: r.UpdatedAt,
		ContentVersion:  r.ContentVersion,
	}
}

// RemoteProgress is the read state the server holds for a bookmark.
type RemoteProgress struct {
	ScrollPercent float64   `json:"scroll_percent"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChangeSet is one page returned by the change listing endpoint.
type ChangeSet struct {
	Bookmarks []RemoteBookmark `json:"bookmarks"`
	Cursor    string           `json:"cursor"`
	HasMore   bool             `json:"has_more"`
}

// ContentBlob is an article body as served by the remote service.
type ContentBlob struct {
	BookmarkID     string `json:"bookmark_id"`
	ContentVersion int64  `json:"content_version"`
	ContentType    string `json:"content_type"`
	Body           []byte `json:"-"`
}

// PushStatus is the outcome of a progress push.
type PushStatus string

const (
	PushAck      PushStatus = "ack"
	PushConflict PushStatus = "conflict"
)

// PushResult carries the server value when Status is PushConflict.
type PushResult struct {
	Status PushStatus
	Remote *RemoteProgress
}

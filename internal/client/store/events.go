package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// EventType names a committed change.
type EventType string

const (
	EventBookmarkUpserted EventType = "bookmark_upserted"
	EventBookmarkDeleted  EventType = "bookmark_deleted"
	EventProgressUpdated  EventType = "progress_updated"
)

// Event describes one committed write. Bookmark is set for upserts,
// Progress for progress updates.
type Event struct {
	Type       EventType
	BookmarkID string
	Bookmark   *models.Bookmark
	Progress   *models.ReadProgress
	At         time.Time
}

// Observer receives events synchronously on the writer's goroutine, after
// the write has committed. It must not block for long.
type Observer func(Event)

type observers struct {
	mu     sync.RWMutex
	nextID uint64
	byID   map[uint64]Observer
	logger logging.Logger
}

func newObservers(l logging.Logger) *observers {
	return &observers{byID: make(map[uint64]Observer), logger: l}
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.byID[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.byID, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) publish(ev Event) {
	o.mu.RLock()
	snapshot := make([]Observer, 0, len(o.byID))
	for _, fn := range o.byID {
		snapshot = append(snapshot, fn)
	}
	o.mu.RUnlock()

	for _, fn := range snapshot {
		o.deliver(fn, ev)
	}
}

func (o *observers) deliver(fn Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(context.Background(), "observer panicked",
				"event", ev.Type, "bookmark_id", ev.BookmarkID, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}

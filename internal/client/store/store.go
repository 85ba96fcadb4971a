// Package store is the LocalStore: the durable local record of bookmarks and
// read progress, with per-record write serialization and a change observer
// registry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/bookmarks"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/progress"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
	"github.com/dmitrijs2005/readkeeper/internal/lockx"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// ErrNotFound is returned by MustGet and by writes that require an existing
// bookmark.
var ErrNotFound = common.ErrNotFound

type Store struct {
	db        *sql.DB
	locks     *lockx.KeyedMutex
	observers *observers
	logger    logging.Logger
	now       func() time.Time
}

func New(db *sql.DB, l logging.Logger) *Store {
	l = l.With("module", "local_store")
	return &Store{
		db:        db,
		locks:     lockx.NewKeyedMutex(),
		observers: newObservers(l),
		logger:    l,
		now:       time.Now,
	}
}

// Subscribe registers fn for change events and returns its unsubscribe
// function. Delivery is best effort.
func (s *Store) Subscribe(fn Observer) func() {
	return s.observers.add(fn)
}

// Get returns (nil, nil) for an unknown id.
func (s *Store) Get(ctx context.Context, id string) (*models.Bookmark, error) {
	return bookmarks.NewSQLiteRepository(s.db).Get(ctx, id)
}

// MustGet is Get for callers that require the bookmark to exist.
func (s *Store) MustGet(ctx context.Context, id string) (*models.Bookmark, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("bookmark %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListAll(ctx context.Context, f models.Filter) ([]models.Bookmark, error) {
	return bookmarks.NewSQLiteRepository(s.db).List(ctx, f)
}

// IDs returns every stored bookmark id.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	return bookmarks.NewSQLiteRepository(s.db).IDs(ctx)
}

// Upsert writes b atomically and returns the committed record.
func (s *Store) Upsert(ctx context.Context, b models.Bookmark) (models.Bookmark, error) {
	if b.ID == "" {
		return models.Bookmark{}, fmt.Errorf("upsert bookmark: empty id")
	}
	b.Tags = common.NormalizeTags(b.Tags)

	unlock := s.locks.Lock(b.ID)
	defer unlock()

	var committed models.Bookmark
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := bookmarks.NewSQLiteRepository(tx)
		if err := repo.Upsert(ctx, b); err != nil {
			return err
		}
		got, err := repo.Get(ctx, b.ID)
		if err != nil {
			return err
		}
		committed = *got
		return nil
	})
	if err != nil {
		return models.Bookmark{}, err
	}

	out := committed
	s.observers.publish(Event{Type: EventBookmarkUpserted, BookmarkID: b.ID, Bookmark: &out, At: s.now()})
	return committed, nil
}

// Delete removes a bookmark together with its read progress. It reports
// whether the bookmark existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var existed bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		existed, err = bookmarks.NewSQLiteRepository(tx).Delete(ctx, id)
		if err != nil {
			return err
		}
		return progress.NewSQLiteRepository(tx).Delete(ctx, id)
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.observers.publish(Event{Type: EventBookmarkDeleted, BookmarkID: id, At: s.now()})
	}
	return existed, nil
}

// GetProgress returns (nil, nil) when nothing was recorded.
func (s *Store) GetProgress(ctx context.Context, id string) (*models.ReadProgress, error) {
	return progress.NewSQLiteRepository(s.db).Get(ctx, id)
}

// SetProgress stores p for an existing bookmark. ScrollPercent must be a
// number within [0, 100].
func (s *Store) SetProgress(ctx context.Context, id string, p models.ReadProgress) error {
	if err := validateProgress(p); err != nil {
		return err
	}
	p.BookmarkID = id

	unlock := s.locks.Lock(id)
	defer unlock()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		b, err := bookmarks.NewSQLiteRepository(tx).Get(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("set progress of %s: %w", id, ErrNotFound)
		}
		return progress.NewSQLiteRepository(tx).Set(ctx, p)
	})
	if err != nil {
		return err
	}

	s.publishProgress(p)
	return nil
}

// CompareAndSetProgress replaces the progress of id only if its LastReadAt
// still equals expected, so a concurrent local edit is never overwritten.
// It reports whether the write happened.
func (s *Store) CompareAndSetProgress(ctx context.Context, id string, expected time.Time, p models.ReadProgress) (bool, error) {
	if err := validateProgress(p); err != nil {
		return false, err
	}
	p.BookmarkID = id

	unlock := s.locks.Lock(id)
	defer unlock()

	var written bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		written, err = progress.NewSQLiteRepository(tx).CompareAndSet(ctx, expected, p)
		return err
	})
	if err != nil {
		return false, err
	}
	if written {
		s.publishProgress(p)
	}
	return written, nil
}

// ClearPending clears the pending flag of id if the record was not rewritten
// since lastReadAt.
func (s *Store) ClearPending(ctx context.Context, id string, p models.ReadProgress) (bool, error) {
	expected := p.LastReadAt
	p.PendingPush = false
	return s.CompareAndSetProgress(ctx, id, expected, p)
}

// ListPendingProgress returns progress records awaiting a push.
func (s *Store) ListPendingProgress(ctx context.Context) ([]models.ReadProgress, error) {
	return progress.NewSQLiteRepository(s.db).ListPending(ctx)
}

// CountPendingProgress returns the size of the push queue.
func (s *Store) CountPendingProgress(ctx context.Context) (int, error) {
	return progress.NewSQLiteRepository(s.db).CountPending(ctx)
}

func (s *Store) publishProgress(p models.ReadProgress) {
	out := p
	s.observers.publish(Event{Type: EventProgressUpdated, BookmarkID: p.BookmarkID, Progress: &out, At: s.now()})
}

func validateProgress(p models.ReadProgress) error {
	if math.IsNaN(p.ScrollPercent) || p.ScrollPercent < 0 || p.ScrollPercent > 100 {
		return fmt.Errorf("%w: scroll percent %v", common.ErrInvalidProgress, p.ScrollPercent)
	}
	return nil
}

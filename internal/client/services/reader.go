package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/dmitrijs2005/readkeeper/internal/client/content"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/progress"
	"github.com/dmitrijs2005/readkeeper/internal/client/store"
	syncengine "github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/client/versionguard"
	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
)

// ListItem is a bookmark row with its offline availability.
type ListItem struct {
	Bookmark      models.Bookmark
	Progress      *models.ReadProgress
	CachedVersion int64
}

// Offline reports whether the current content version can be read without
// network access.
func (i ListItem) Offline() bool {
	return i.CachedVersion > 0
}

// Article is an opened bookmark. Release must be called when the reader is
// done with it so that stale content can be evicted again.
type Article struct {
	Bookmark models.Bookmark
	Progress *models.ReadProgress
	Entry    *models.CacheEntry
	// Markdown is empty when nothing is cached.
	Markdown string
	// Stale is set when the served entry is older than the bookmark's
	// content version.
	Stale   bool
	Version versionguard.Result
	Release func()
}

// SyncOutcome summarizes a sync run triggered from the shell.
type SyncOutcome struct {
	ViaWorker bool
	Result    workerrpc.SyncResult
}

// Status is a snapshot of local sync and cache state.
type Status struct {
	Cursor         models.SyncCursor
	State          syncengine.State
	SessionInvalid bool
	Pending        int
	Cache          map[models.CacheState]int
	LastReport     *syncengine.Report
}

// WorkerClient delegates sync runs to the background worker.
type WorkerClient interface {
	RequestSync(ctx context.Context, full bool) (workerrpc.SyncResult, error)
}

// VersionChecker compares shell and worker builds before cached reads.
type VersionChecker interface {
	Check(ctx context.Context) versionguard.Result
}

// ReaderService is what the shell uses to browse, read and sync bookmarks.
type ReaderService interface {
	List(ctx context.Context, f models.Filter) ([]ListItem, error)
	Open(ctx context.Context, bookmarkID string) (*Article, error)
	RecordScroll(ctx context.Context, bookmarkID string, scrollTop, scrollHeight, clientHeight float64) (models.ReadProgress, error)
	SetProgress(ctx context.Context, bookmarkID string, percent float64) (models.ReadProgress, error)
	MarkRead(ctx context.Context, bookmarkID string) (models.ReadProgress, error)
	Sync(ctx context.Context, full bool) (SyncOutcome, error)
	Status(ctx context.Context) (Status, error)
}

type readerService struct {
	store   *store.Store
	cache   *cache.Cache
	engine  *syncengine.Engine
	tracker *progress.Tracker
	worker  WorkerClient
	guard   VersionChecker
}

// NewReaderService wires the reader. worker and guard may be nil; without a
// worker every sync runs in-process.
func NewReaderService(s *store.Store, c *cache.Cache, e *syncengine.Engine, worker WorkerClient, guard VersionChecker) ReaderService {
	return &readerService{
		store:   s,
		cache:   c,
		engine:  e,
		tracker: progress.NewTracker(e),
		worker:  worker,
		guard:   guard,
	}
}

func (r *readerService) List(ctx context.Context, f models.Filter) ([]ListItem, error) {
	bookmarks, err := r.store.ListAll(ctx, f)
	if err != nil {
		return nil, err
	}
	versions, err := r.cache.CurrentVersions(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]ListItem, 0, len(bookmarks))
	for _, b := range bookmarks {
		p, err := r.store.GetProgress(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, ListItem{Bookmark: b, Progress: p, CachedVersion: versions[b.ID]})
	}
	return items, nil
}

func (r *readerService) Open(ctx context.Context, bookmarkID string) (*Article, error) {
	b, err := r.store.MustGet(ctx, bookmarkID)
	if err != nil {
		return nil, err
	}

	a := &Article{Bookmark: *b, Release: func() {}}
	if r.guard != nil {
		a.Version = r.guard.Check(ctx)
	}

	release := r.cache.BeginRead(bookmarkID)
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	if a.Progress, err = r.store.GetProgress(ctx, bookmarkID); err != nil {
		return nil, err
	}

	entry, err := r.cache.GetCurrent(ctx, bookmarkID)
	if err != nil {
		return nil, fmt.Errorf("read cached content: %w", err)
	}
	if entry != nil {
		a.Entry = entry
		a.Markdown = content.Markdown(entry.ContentType, string(entry.Body))
		a.Stale = entry.ContentVersion < b.ContentVersion
	}

	ok = true
	a.Release = release
	return a, nil
}

func (r *readerService) RecordScroll(ctx context.Context, bookmarkID string, scrollTop, scrollHeight, clientHeight float64) (models.ReadProgress, error) {
	return r.tracker.Record(ctx, bookmarkID, scrollTop, scrollHeight, clientHeight)
}

func (r *readerService) SetProgress(ctx context.Context, bookmarkID string, percent float64) (models.ReadProgress, error) {
	return r.tracker.SetPercent(ctx, bookmarkID, percent)
}

func (r *readerService) MarkRead(ctx context.Context, bookmarkID string) (models.ReadProgress, error) {
	return r.tracker.MarkRead(ctx, bookmarkID)
}

// Sync prefers the worker so that the shell and the worker never run two
// cycles against the same database. It falls back to an in-process cycle
// when no worker is listening.
func (r *readerService) Sync(ctx context.Context, full bool) (SyncOutcome, error) {
	if r.worker != nil {
		res, err := r.worker.RequestSync(ctx, full)
		if err == nil {
			return SyncOutcome{ViaWorker: true, Result: res}, nil
		}
		if !errors.Is(err, workerrpc.ErrNoWorker) {
			return SyncOutcome{}, err
		}
	}

	var (
		rep *syncengine.Report
		err error
	)
	if full {
		rep, err = r.engine.RunFullSync(ctx)
	} else {
		rep, err = r.engine.RunIncrementalSync(ctx)
	}
	if err != nil {
		return SyncOutcome{}, err
	}
	return SyncOutcome{Result: workerrpc.SyncResult{
		CycleID: rep.CycleID,
		Full:    rep.Full,
		Pulled:  rep.Pulled,
		Updated: rep.Updated,
		Deleted: rep.Deleted,
		Cached:  rep.Cached,
		Pushed:  rep.Pushed,
	}}, nil
}

func (r *readerService) Status(ctx context.Context) (Status, error) {
	cur, err := r.engine.Cursor(ctx)
	if err != nil {
		return Status{}, err
	}
	pending, err := r.store.CountPendingProgress(ctx)
	if err != nil {
		return Status{}, err
	}
	stats, err := r.cache.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Cursor:         cur,
		State:          r.engine.State(),
		SessionInvalid: r.engine.SessionInvalid(),
		Pending:        pending,
		Cache:          stats,
		LastReport:     r.engine.LastReport(),
	}, nil
}

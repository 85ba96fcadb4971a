// Package sync is the SyncEngine: it reconciles the local store with the
// remote bookmark service and keeps the content cache populated.
//
// A cycle pulls changes, diffs them into the local store, fetches content
// for bookmarks whose cached version is behind, pushes pending read
// progress and finally commits the cursor. Only one cycle runs at a time;
// concurrent requests share its result.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/progress"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// LocalStore is the part of the store the engine writes through.
type LocalStore interface {
	Get(ctx context.Context, id string) (*models.Bookmark, error)
	ListAll(ctx context.Context, f models.Filter) ([]models.Bookmark, error)
	IDs(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, b models.Bookmark) (models.Bookmark, error)
	Delete(ctx context.Context, id string) (bool, error)
	GetProgress(ctx context.Context, id string) (*models.ReadProgress, error)
	SetProgress(ctx context.Context, id string, p models.ReadProgress) error
	CompareAndSetProgress(ctx context.Context, id string, expected time.Time, p models.ReadProgress) (bool, error)
	ClearPending(ctx context.Context, id string, p models.ReadProgress) (bool, error)
	ListPendingProgress(ctx context.Context) ([]models.ReadProgress, error)
}

// ContentCache is the part of the cache the engine fills.
type ContentCache interface {
	Put(ctx context.Context, bookmarkID string, version int64, blob *models.ContentBlob) (*models.CacheEntry, error)
	Remove(ctx context.Context, bookmarkID string) error
	CurrentVersions(ctx context.Context) (map[string]int64, error)
}

type Options struct {
	// FetchConcurrency bounds parallel content downloads.
	FetchConcurrency int
	// OnSessionInvalid is called once when the server rejects credentials.
	OnSessionInvalid func()
	// OnStateChange observes every state transition.
	OnStateChange func(State, Reason)
	// LagRetry is how long a listed content version that the server does
	// not serve yet is left alone before it is fetched again.
	LagRetry time.Duration
}

// lagMark records a listed version the content endpoint did not deliver.
type lagMark struct {
	version int64
	at      time.Time
}

type Engine struct {
	remote client.Client
	store  LocalStore
	cache  ContentCache
	db     *sql.DB
	meta   metadata.Repository
	opts   Options
	logger logging.Logger
	now    func() time.Time

	group    singleflight.Group
	state    atomic.Value
	inFlight atomic.Bool
	invalid  atomic.Bool
	triggers chan struct{}

	mu   gosync.Mutex
	last *Report

	lagMu   gosync.Mutex
	lagging map[string]lagMark
}

func New(remote client.Client, store LocalStore, cc ContentCache, db *sql.DB, opts Options, l logging.Logger) *Engine {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.LagRetry <= 0 {
		opts.LagRetry = 30 * time.Minute
	}
	e := &Engine{
		remote:   remote,
		store:    store,
		cache:    cc,
		db:       db,
		meta:     metadata.NewSQLiteRepository(db),
		opts:     opts,
		logger:   l.With("module", "sync_engine"),
		now:      time.Now,
		triggers: make(chan struct{}, 1),
		lagging:  make(map[string]lagMark),
	}
	e.state.Store(StateIdle)
	return e
}

func (e *Engine) State() State {
	return e.state.Load().(State)
}

func (e *Engine) setState(s State, r Reason) {
	e.state.Store(s)
	if e.opts.OnStateChange != nil {
		e.opts.OnStateChange(s, r)
	}
}

// LastReport returns the report of the most recent finished cycle or nil.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

// Cursor returns the persisted sync position.
func (e *Engine) Cursor(ctx context.Context) (models.SyncCursor, error) {
	token, err := e.meta.GetString(ctx, metadata.KeySyncCursor)
	if err != nil {
		return models.SyncCursor{}, err
	}
	last, err := e.meta.GetTime(ctx, metadata.KeyLastSyncedAt)
	if err != nil {
		return models.SyncCursor{}, err
	}
	return models.SyncCursor{LastSyncedAt: last, Token: token, InFlight: e.inFlight.Load()}, nil
}

func (e *Engine) SessionInvalid() bool {
	return e.invalid.Load()
}

// ResetSession re-enables syncing after a successful login.
func (e *Engine) ResetSession() {
	e.invalid.Store(false)
}

// Triggers is signalled whenever local changes are queued.
func (e *Engine) Triggers() <-chan struct{} {
	return e.triggers
}

// EnqueueLocalChange stores progress as pending and signals Triggers. The
// store write is not interrupted by ctx cancellation.
func (e *Engine) EnqueueLocalChange(ctx context.Context, bookmarkID string, p models.ReadProgress) error {
	p.BookmarkID = bookmarkID
	p.ScrollPercent = progress.Clamp(p.ScrollPercent)
	p.PendingPush = true
	if p.LastReadAt.IsZero() {
		p.LastReadAt = e.now().UTC()
	}
	if err := e.store.SetProgress(context.WithoutCancel(ctx), bookmarkID, p); err != nil {
		return fmt.Errorf("enqueue progress of %s: %w", bookmarkID, err)
	}

	select {
	case e.triggers <- struct{}{}:
	default:
	}
	return nil
}

// RunIncrementalSync pulls changes since the stored cursor.
func (e *Engine) RunIncrementalSync(ctx context.Context) (*Report, error) {
	return e.run(ctx, false)
}

// RunFullSync lists the whole collection and prunes local bookmarks the
// server no longer has.
func (e *Engine) RunFullSync(ctx context.Context) (*Report, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, full bool) (*Report, error) {
	if e.invalid.Load() {
		return nil, ErrSessionInvalid
	}
	v, err, shared := e.group.Do("sync", func() (any, error) {
		return e.cycle(ctx, full)
	})
	if shared {
		e.logger.Debug(ctx, "sync request coalesced")
	}
	r, _ := v.(*Report)
	if r != nil {
		cp := *r
		r = &cp
	}
	return r, err
}

func (e *Engine) cycle(ctx context.Context, full bool) (*Report, error) {
	e.inFlight.Store(true)
	defer e.inFlight.Store(false)

	r := &Report{CycleID: uuid.NewString(), Full: full, StartedAt: e.now().UTC()}
	log := e.logger.With("cycle", r.CycleID)

	err := e.execute(ctx, r, log)
	r.FinishedAt = e.now().UTC()

	if err != nil {
		r.Reason = classify(err)
		e.setState(StateFailed, r.Reason)
		if r.Reason == ReasonAuth {
			e.invalidate(ctx, log)
		}
		log.Warn(ctx, "sync failed", "reason", r.Reason, "full", full, "error", err)
		e.setState(StateIdle, ReasonNone)
		e.finish(r)
		return r, &CycleError{Reason: r.Reason, Err: err}
	}

	e.setState(StateIdle, ReasonNone)
	e.finish(r)
	log.Info(ctx, "sync finished",
		"full", full, "pulled", r.Pulled, "updated", r.Updated, "deleted", r.Deleted,
		"cached", r.Cached, "cache_failures", r.CacheFailures, "pushed", r.Pushed, "push_failures", r.PushFailures,
		"conflicts", r.Conflicts, "cursor_advanced", r.CursorAdvanced)
	return r, nil
}

func (e *Engine) finish(r *Report) {
	e.mu.Lock()
	e.last = r
	e.mu.Unlock()
}

func (e *Engine) invalidate(ctx context.Context, log logging.Logger) {
	if !e.invalid.CompareAndSwap(false, true) {
		return
	}
	log.Warn(ctx, "session invalidated, login required")
	if e.opts.OnSessionInvalid != nil {
		e.opts.OnSessionInvalid()
	}
}

func (e *Engine) execute(ctx context.Context, r *Report, log logging.Logger) error {
	// Local writes must not be cut in half by cancellation.
	wctx := context.WithoutCancel(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := e.meta.GetString(wctx, metadata.KeySyncCursor)
	if err != nil {
		return err
	}
	start := stored
	if r.Full {
		start = ""
	}

	e.setState(StatePulling, ReasonNone)
	changes, cursor, err := e.pull(ctx, start, log)
	if err != nil {
		return err
	}
	r.Pulled = len(changes)

	if err := ctx.Err(); err != nil {
		return err
	}
	e.setState(StateDiffing, ReasonNone)
	if err := e.diff(wctx, changes, r); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	e.setState(StateCaching, ReasonNone)
	if err := e.fillCache(ctx, r, log); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	e.setState(StatePushing, ReasonNone)
	if err := e.push(ctx, r, log); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	e.setState(StateCommitting, ReasonNone)
	return e.commit(wctx, stored, cursor, r)
}

// pull reads change pages until the server reports no more.
func (e *Engine) pull(ctx context.Context, cursor string, log logging.Logger) ([]models.RemoteBookmark, string, error) {
	var changes []models.RemoteBookmark
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		page, err := e.remote.ListChangedSince(ctx, cursor)
		if err != nil {
			return nil, "", err
		}
		changes = append(changes, page.Bookmarks...)

		next := page.Cursor
		if next == "" {
			next = cursor
		}
		if !page.HasMore {
			return changes, next, nil
		}
		if next == cursor {
			log.Warn(ctx, "server reported more changes without advancing the cursor", "cursor", cursor)
			return changes, next, nil
		}
		cursor = next
	}
}

func (e *Engine) diff(ctx context.Context, changes []models.RemoteBookmark, r *Report) error {
	seen := make(map[string]struct{}, len(changes))
	for _, rb := range changes {
		if rb.ID == "" {
			continue
		}
		if rb.Deleted {
			if err := e.removeLocal(ctx, rb.ID, r); err != nil {
				return err
			}
			continue
		}
		seen[rb.ID] = struct{}{}

		if err := e.applyBookmark(ctx, rb, r); err != nil {
			return err
		}
		if rb.Progress != nil {
			if err := e.reconcileProgress(ctx, rb.ID, *rb.Progress); err != nil {
				return err
			}
		}
	}

	if !r.Full {
		return nil
	}
	ids, err := e.store.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := e.removeLocal(ctx, id, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) removeLocal(ctx context.Context, id string, r *Report) error {
	existed, err := e.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := e.cache.Remove(ctx, id); err != nil {
		return err
	}
	e.clearLagging(id)
	if existed {
		r.Deleted++
	}
	return nil
}

func (e *Engine) applyBookmark(ctx context.Context, rb models.RemoteBookmark, r *Report) error {
	remote := rb.Bookmark()
	remote.Tags = common.NormalizeTags(remote.Tags)
	remote.RemoteUpdatedAt = remote.RemoteUpdatedAt.UTC()

	local, err := e.store.Get(ctx, rb.ID)
	if err != nil {
		return err
	}
	if local != nil {
		if local.SameAs(remote) {
			return nil
		}
		newer := remote.RemoteUpdatedAt.After(local.RemoteUpdatedAt) || remote.ContentVersion > local.ContentVersion
		if !newer {
			return nil
		}
	}

	if _, err := e.store.Upsert(ctx, remote); err != nil {
		return err
	}
	r.Updated++
	return nil
}

func (e *Engine) reconcileProgress(ctx context.Context, id string, rp models.RemoteProgress) error {
	remote := remoteProgress(id, rp)

	local, err := e.store.GetProgress(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case local == nil:
		return e.store.SetProgress(ctx, id, remote)
	case sameProgress(*local, remote):
		return nil
	case local.PendingPush && Resolve(*local, remote) == Local:
		return nil
	}

	// Remote wins. A local edit racing with this write is kept.
	_, err = e.store.CompareAndSetProgress(ctx, id, local.LastReadAt, remote)
	return err
}

// fillCache fetches content for every bookmark whose cached version is
// behind. Failures other than authentication are retried next cycle.
func (e *Engine) fillCache(ctx context.Context, r *Report, log logging.Logger) error {
	wctx := context.WithoutCancel(ctx)

	versions, err := e.cache.CurrentVersions(wctx)
	if err != nil {
		return err
	}
	all, err := e.store.ListAll(wctx, models.Filter{Archive: models.AnyArchive})
	if err != nil {
		return err
	}

	now := e.now()
	var backlog []models.Bookmark
	for _, b := range all {
		if b.ContentVersion > 0 && b.ContentVersion > versions[b.ID] && !e.lagged(b, now) {
			backlog = append(backlog, b)
		}
	}
	if len(backlog) == 0 {
		return nil
	}

	var (
		mu     gosync.Mutex
		failed error
		cached int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FetchConcurrency)
	for _, b := range backlog {
		g.Go(func() error {
			stored, err := e.cacheOne(gctx, wctx, b, versions[b.ID], log)
			switch {
			case err == nil:
				if stored {
					mu.Lock()
					cached++
					mu.Unlock()
				}
				return nil
			case errors.Is(err, client.ErrUnauthorized):
				return err
			default:
				mu.Lock()
				failed = multierr.Append(failed, err)
				mu.Unlock()
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.Cached = cached
	if failed != nil {
		errs := multierr.Errors(failed)
		r.CacheFailures = len(errs)
		log.Warn(ctx, "content caching incomplete, will retry next cycle", "failures", len(errs), "error", failed)
	}
	return nil
}

// cacheOne fetches and stores the content of b. It reports whether a
// version newer than current was written.
func (e *Engine) cacheOne(ctx, wctx context.Context, b models.Bookmark, current int64, log logging.Logger) (bool, error) {
	blob, err := e.remote.FetchContent(ctx, b.ID)
	if err != nil {
		return false, err
	}
	version := blob.ContentVersion
	if version <= 0 {
		version = b.ContentVersion
	}
	if version < b.ContentVersion {
		log.Info(ctx, "server content behind listed version",
			"bookmark_id", b.ID, "listed", b.ContentVersion, "served", version)
		e.markLagging(b, e.now())
	} else {
		e.clearLagging(b.ID)
	}

	if version <= current {
		return false, nil
	}
	if _, err := e.cache.Put(wctx, b.ID, version, blob); err != nil {
		if errors.Is(err, cache.ErrOlderVersion) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *Engine) lagged(b models.Bookmark, now time.Time) bool {
	e.lagMu.Lock()
	defer e.lagMu.Unlock()
	m, ok := e.lagging[b.ID]
	return ok && m.version == b.ContentVersion && now.Before(m.at.Add(e.opts.LagRetry))
}

func (e *Engine) markLagging(b models.Bookmark, now time.Time) {
	e.lagMu.Lock()
	e.lagging[b.ID] = lagMark{version: b.ContentVersion, at: now}
	e.lagMu.Unlock()
}

func (e *Engine) clearLagging(id string) {
	e.lagMu.Lock()
	delete(e.lagging, id)
	e.lagMu.Unlock()
}

// push sends pending progress oldest first. Transient failures stop the
// cycle and leave the remaining records pending. A record the server
// refuses does not hold back the others.
func (e *Engine) push(ctx context.Context, r *Report, log logging.Logger) error {
	wctx := context.WithoutCancel(ctx)

	pending, err := e.store.ListPendingProgress(wctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.pushOne(ctx, wctx, p, r, log); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pushOne(ctx, wctx context.Context, p models.ReadProgress, r *Report, log logging.Logger) error {
	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.remote.PushProgress(ctx, p.BookmarkID, p)
		if errors.Is(err, common.ErrNotFound) {
			log.Debug(ctx, "progress target gone remotely", "bookmark_id", p.BookmarkID)
			_, err = e.store.ClearPending(wctx, p.BookmarkID, p)
			return err
		}
		switch {
		case rejected(err):
			log.Warn(ctx, "progress rejected by server, dropped from the queue", "bookmark_id", p.BookmarkID, "error", err)
			r.PushFailures++
			_, err = e.store.ClearPending(wctx, p.BookmarkID, p)
			return err
		case errors.Is(err, client.ErrBadResponse):
			log.Warn(ctx, "unreadable push response, left pending", "bookmark_id", p.BookmarkID, "error", err)
			r.PushFailures++
			return nil
		case err != nil:
			return err
		}

		if res.Status == models.PushAck {
			if _, err := e.store.ClearPending(wctx, p.BookmarkID, p); err != nil {
				return err
			}
			r.Pushed++
			return nil
		}

		r.Conflicts++
		if res.Remote == nil {
			return nil
		}
		remote := remoteProgress(p.BookmarkID, *res.Remote)
		if Resolve(p, remote) == Remote {
			_, err := e.store.CompareAndSetProgress(wctx, p.BookmarkID, p.LastReadAt, remote)
			return err
		}
		log.Debug(ctx, "progress conflict resolved locally, pushing again", "bookmark_id", p.BookmarkID)
	}
	log.Info(ctx, "progress still conflicting, left pending", "bookmark_id", p.BookmarkID)
	return nil
}

// commit stores the new cursor and sync time in one transaction. Nothing is
// written when the cycle changed nothing.
func (e *Engine) commit(ctx context.Context, stored, cursor string, r *Report) error {
	r.CursorAdvanced = cursor != stored
	if !r.Changed() {
		return nil
	}
	return dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		m := metadata.NewSQLiteRepository(tx)
		if r.CursorAdvanced {
			if err := m.SetString(ctx, metadata.KeySyncCursor, cursor); err != nil {
				return err
			}
		}
		return m.SetTime(ctx, metadata.KeyLastSyncedAt, e.now().UTC())
	})
}

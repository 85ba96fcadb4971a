package services

import (
	"context"
	"database/sql"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/dmitrijs2005/readkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/store"
	syncengine "github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubRemote struct {
	mu       gosync.Mutex
	token    string
	pingErr  error
	page     *models.ChangeSet
	contents map[string]*models.ContentBlob
	pushed   []models.ReadProgress
}

func (s *stubRemote) ListChangedSince(context.Context, string) (*models.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return &models.ChangeSet{}, nil
	}
	return s.page, nil
}

func (s *stubRemote) FetchContent(_ context.Context, id string) (*models.ContentBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.contents[id]; ok {
		return b, nil
	}
	return nil, common.ErrNotFound
}

func (s *stubRemote) PushProgress(_ context.Context, _ string, p models.ReadProgress) (*models.PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, p)
	return &models.PushResult{Status: models.PushAck}, nil
}

func (s *stubRemote) Ping(context.Context) error { return s.pingErr }

func (s *stubRemote) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *stubRemote) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

type fixture struct {
	db     *sql.DB
	remote *stubRemote
	store  *store.Store
	cache  *cache.Cache
	engine *syncengine.Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, db))

	blobs, err := cache.NewFSStore(t.TempDir())
	require.NoError(t, err)

	remote := &stubRemote{contents: make(map[string]*models.ContentBlob)}
	st := store.New(db, logging.Discard())
	c := cache.New(db, blobs, cache.Options{}, logging.Discard())
	return &fixture{
		db:     db,
		remote: remote,
		store:  st,
		cache:  c,
		engine: syncengine.New(remote, st, c, db, syncengine.Options{FetchConcurrency: 1}, logging.Discard()),
	}
}

func remoteBookmark(id string, version int64) models.RemoteBookmark {
	return models.RemoteBookmark{
		ID:             id,
		Title:          "Title " + id,
		URL:            "https://example.com/" + id,
		UpdatedAt:      t0,
		ContentVersion: version,
	}
}

var errBoom = errors.New("boom")

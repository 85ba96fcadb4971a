package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/cacheentries"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// memStore is an in-memory BlobStore. corrupt flips the first byte on Get.
type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	corrupt bool
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	out := append([]byte(nil), d...)
	if m.corrupt && len(out) > 0 {
		out[0] ^= 0xff
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func setupCache(t *testing.T, retention int) (*Cache, *memStore, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(ctx, db))

	blobs := newMemStore()
	return New(db, blobs, Options{StaleRetention: retention}, logging.Discard()), blobs, db
}

func blob(body string) *models.ContentBlob {
	return &models.ContentBlob{ContentType: "text/html", Body: []byte(body)}
}

func TestPut_PromotesAndDemotes(t *testing.T) {
	c, _, _ := setupCache(t, 1)
	ctx := context.Background()

	e, err := c.Put(ctx, "b1", 1, blob("v1"))
	require.NoError(t, err)
	assert.Equal(t, models.CacheCurrent, e.State)
	assert.Equal(t, int64(2), e.Size)

	_, err = c.Put(ctx, "b1", 2, blob("v2"))
	require.NoError(t, err)

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ContentVersion)
	assert.Equal(t, "v2", string(got.Body))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.CacheCurrent])
	assert.Equal(t, 1, stats[models.CacheStale])
}

func TestPut_SameVersionIsNoop(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	_, err := c.Put(ctx, "b1", 3, blob("first"))
	require.NoError(t, err)
	_, err = c.Put(ctx, "b1", 3, blob("second"))
	require.NoError(t, err)

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got.Body))
	assert.Len(t, blobs.data, 1)
}

func TestPut_OlderVersionRejected(t *testing.T) {
	c, _, _ := setupCache(t, 1)
	ctx := context.Background()

	_, err := c.Put(ctx, "b1", 5, blob("v5"))
	require.NoError(t, err)
	_, err = c.Put(ctx, "b1", 4, blob("v4"))
	require.ErrorIs(t, err, ErrOlderVersion)
}

func TestPut_VerificationFailureKeepsCurrent(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	_, err := c.Put(ctx, "b1", 1, blob("good"))
	require.NoError(t, err)

	blobs.corrupt = true
	_, err = c.Put(ctx, "b1", 2, blob("bad"))
	require.ErrorIs(t, err, ErrCacheWriteIncomplete)
	blobs.corrupt = false

	assert.False(t, blobs.has(BlobKey("b1", 2)), "failed blob must be discarded")
	row, err := cacheentries.NewSQLiteRepository(c.db).Get(ctx, "b1", 2)
	require.NoError(t, err)
	assert.Nil(t, row, "staged row must be discarded")

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ContentVersion)
	assert.Equal(t, "good", string(got.Body))
}

func TestPut_BlobWriteFailure(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	blobs.putErr = errors.New("disk full")
	_, err := c.Put(ctx, "b1", 1, blob("x"))
	require.ErrorIs(t, err, ErrCacheWriteIncomplete)

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCrashBetweenWriteAndPromote(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	_, err := c.Put(ctx, "b1", 1, blob("old"))
	require.NoError(t, err)

	// Written and verified, never promoted.
	_, err = c.stage(ctx, "b1", 2, blob("new"))
	require.NoError(t, err)

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ContentVersion)
	assert.Equal(t, "old", string(got.Body))

	versions, err := c.CurrentVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"b1": 1}, versions)

	n, err := c.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, blobs.has(BlobKey("b1", 2)))

	// The interrupted version can be written again.
	_, err = c.Put(ctx, "b1", 2, blob("new"))
	require.NoError(t, err)
}

func TestGetCurrent_FallsBackToStale(t *testing.T) {
	c, blobs, _ := setupCache(t, 2)
	ctx := context.Background()

	for v, body := range []string{"v0", "v1", "v2"} {
		_, err := c.Put(ctx, "b1", int64(v), blob(body))
		require.NoError(t, err)
	}
	require.NoError(t, blobs.Delete(ctx, BlobKey("b1", 2)))

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ContentVersion)
	assert.Equal(t, models.CacheStale, got.State)
}

func TestGetCurrent_Missing(t *testing.T) {
	c, _, _ := setupCache(t, 1)
	got, err := c.GetCurrent(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEvictStale_KeepsRetention(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	for v := int64(1); v <= 4; v++ {
		_, err := c.Put(ctx, "b1", v, blob("body"))
		require.NoError(t, err)
	}

	n, err := c.EvictStale(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, blobs.has(BlobKey("b1", 4)))
	assert.True(t, blobs.has(BlobKey("b1", 3)))
	assert.False(t, blobs.has(BlobKey("b1", 2)))
	assert.False(t, blobs.has(BlobKey("b1", 1)))
}

func TestEvictStale_SkipsActiveReader(t *testing.T) {
	c, _, _ := setupCache(t, 0)
	ctx := context.Background()

	for v := int64(1); v <= 2; v++ {
		_, err := c.Put(ctx, "b1", v, blob("body"))
		require.NoError(t, err)
	}

	release := c.BeginRead("b1")
	n, err := c.EvictAllStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	release()
	release()
	n, err = c.EvictAllStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemove_DropsAllVersions(t *testing.T) {
	c, blobs, _ := setupCache(t, 1)
	ctx := context.Background()

	for v := int64(1); v <= 2; v++ {
		_, err := c.Put(ctx, "b1", v, blob("body"))
		require.NoError(t, err)
	}
	_, err := c.Put(ctx, "b2", 1, blob("other"))
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, "b1"))
	assert.False(t, blobs.has(BlobKey("b1", 1)))
	assert.False(t, blobs.has(BlobKey("b1", 2)))

	got, err := c.GetCurrent(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)

	versions, err := c.CurrentVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"b2": 1}, versions)
}

func TestConcurrentPutsSameBookmark(t *testing.T) {
	c, _, _ := setupCache(t, 5)
	ctx := context.Background()
	c.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	var wg sync.WaitGroup
	for v := int64(1); v <= 5; v++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			_, err := c.Put(ctx, "b1", v, blob("body"))
			if err != nil {
				assert.ErrorIs(t, err, ErrOlderVersion)
			}
		}(v)
	}
	wg.Wait()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[models.CacheCurrent])
	assert.Zero(t, stats[models.CacheStaged])
}

package client

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, repos *Repositories, name string) bool {
	t.Helper()
	var n int
	err := repos.DB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestInitDatabase_CreatesSchema(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "readkeeper.db")

	repos, err := InitDatabase(ctx, dsn)
	require.NoError(t, err)
	defer repos.Close()

	require.NoError(t, repos.DB.PingContext(ctx))
	for _, name := range []string{"goose_db_version", "bookmarks", "read_progress", "metadata", "cache_entries"} {
		require.True(t, tableExists(t, repos, name), "expected table %s", name)
	}
}

func TestInitDatabase_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "readkeeper.db")

	repos, err := InitDatabase(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, repos.Metadata.Set(ctx, "k", []byte("v")))
	require.NoError(t, repos.Close())

	repos, err = InitDatabase(ctx, dsn)
	require.NoError(t, err)
	defer repos.Close()

	v, err := repos.Metadata.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestInitDatabase_BadPath(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "missing", "dir", "readkeeper.db")
	_, err := InitDatabase(context.Background(), dsn)
	require.Error(t, err)
}

package cacheentries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `bookmark_id, content_version, blob_key, digest, size, content_type, cached_at, state`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (models.CacheEntry, error) {
	var (
		e        models.CacheEntry
		cachedAt int64
		state    string
	)
	err := s.Scan(&e.BookmarkID, &e.ContentVersion, &e.BlobKey, &e.Digest, &e.Size, &e.ContentType, &cachedAt, &state)
	if err != nil {
		return e, err
	}
	e.CachedAt = time.Unix(0, cachedAt).UTC()
	e.State = models.CacheState(state)
	return e, nil
}

func (r *SQLiteRepository) Stage(ctx context.Context, e models.CacheEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'staged')
		ON CONFLICT(bookmark_id, content_version) DO UPDATE SET
			blob_key = excluded.blob_key,
			digest = excluded.digest,
			size = excluded.size,
			content_type = excluded.content_type,
			cached_at = excluded.cached_at
		WHERE cache_entries.state = 'staged'
	`, e.BookmarkID, e.ContentVersion, e.BlobKey, e.Digest, e.Size, e.ContentType, e.CachedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to stage cache entry %s@%d: %w", e.BookmarkID, e.ContentVersion, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cache entry %s@%d already promoted", e.BookmarkID, e.ContentVersion)
	}
	return nil
}

func (r *SQLiteRepository) queryOne(ctx context.Context, query string, args ...any) (*models.CacheEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *SQLiteRepository) queryMany(ctx context.Context, query string, args ...any) ([]models.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Get(ctx context.Context, bookmarkID string, version int64) (*models.CacheEntry, error) {
	e, err := r.queryOne(ctx, `SELECT `+columns+` FROM cache_entries WHERE bookmark_id = ? AND content_version = ?`, bookmarkID, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry %s@%d: %w", bookmarkID, version, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Current(ctx context.Context, bookmarkID string) (*models.CacheEntry, error) {
	e, err := r.queryOne(ctx, `SELECT `+columns+` FROM cache_entries WHERE bookmark_id = ? AND state = 'current'`, bookmarkID)
	if err != nil {
		return nil, fmt.Errorf("failed to get current cache entry of %s: %w", bookmarkID, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Stale(ctx context.Context, bookmarkID string) ([]models.CacheEntry, error) {
	out, err := r.queryMany(ctx, `SELECT `+columns+` FROM cache_entries
		WHERE bookmark_id = ? AND state = 'stale' ORDER BY content_version DESC`, bookmarkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale cache entries of %s: %w", bookmarkID, err)
	}
	return out, nil
}

func (r *SQLiteRepository) Promote(ctx context.Context, bookmarkID string, version int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE cache_entries SET state = 'stale' WHERE bookmark_id = ? AND state = 'current'`, bookmarkID); err != nil {
		return fmt.Errorf("failed to demote current cache entry of %s: %w", bookmarkID, err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE cache_entries SET state = 'current' WHERE bookmark_id = ? AND content_version = ? AND state = 'staged'`,
		bookmarkID, version)
	if err != nil {
		return fmt.Errorf("failed to promote cache entry %s@%d: %w", bookmarkID, version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("promote cache entry %s@%d: %w", bookmarkID, version, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, bookmarkID string, version int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE bookmark_id = ? AND content_version = ?`, bookmarkID, version); err != nil {
		return fmt.Errorf("failed to delete cache entry %s@%d: %w", bookmarkID, version, err)
	}
	return nil
}

func (r *SQLiteRepository) ListByBookmark(ctx context.Context, bookmarkID string) ([]models.CacheEntry, error) {
	out, err := r.queryMany(ctx, `SELECT `+columns+` FROM cache_entries
		WHERE bookmark_id = ? ORDER BY content_version DESC`, bookmarkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries of %s: %w", bookmarkID, err)
	}
	return out, nil
}

func (r *SQLiteRepository) ListStaged(ctx context.Context) ([]models.CacheEntry, error) {
	out, err := r.queryMany(ctx, `SELECT `+columns+` FROM cache_entries WHERE state = 'staged'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged cache entries: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) BookmarksWithStale(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT bookmark_id FROM cache_entries WHERE state = 'stale' ORDER BY bookmark_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks with stale entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) CurrentVersions(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT bookmark_id, content_version FROM cache_entries WHERE state = 'current'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list current cache versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id string
			v  int64
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Stats(ctx context.Context) (map[models.CacheState]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM cache_entries GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	out := make(map[models.CacheState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[models.CacheState(state)] = n
	}
	return out, rows.Err()
}

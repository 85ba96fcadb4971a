package bookmarks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `id, title, url, tags, archived, remote_updated_at, content_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanBookmark(s scanner) (models.Bookmark, error) {
	var (
		b        models.Bookmark
		tags     string
		archived int
		updated  int64
	)
	if err := s.Scan(&b.ID, &b.Title, &b.URL, &tags, &archived, &updated, &b.ContentVersion); err != nil {
		return b, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
			return b, fmt.Errorf("decode tags of %s: %w", b.ID, err)
		}
	}
	if len(b.Tags) == 0 {
		b.Tags = nil
	}
	b.Archived = archived != 0
	if updated != 0 {
		b.RemoteUpdatedAt = time.Unix(0, updated).UTC()
	}
	return b, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Bookmark, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM bookmarks WHERE id = ?`, id)
	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark %s: %w", id, err)
	}
	return &b, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f models.Filter) ([]models.Bookmark, error) {
	var (
		where []string
		args  []any
	)
	switch f.Archive {
	case models.Unarchived:
		where = append(where, "archived = 0")
	case models.Archived:
		where = append(where, "archived = 1")
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(bookmarks.tags) WHERE json_each.value = ?)")
		args = append(args, f.Tag)
	}

	query := `SELECT ` + selectColumns + ` FROM bookmarks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY remote_updated_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select bookmarks: %w", err)
	}
	defer rows.Close()

	var result []models.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, b models.Bookmark) error {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags of %s: %w", b.ID, err)
	}
	var updated int64
	if !b.RemoteUpdatedAt.IsZero() {
		updated = b.RemoteUpdatedAt.UnixNano()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bookmarks (id, title, url, tags, archived, remote_updated_at, content_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			tags = excluded.tags,
			archived = excluded.archived,
			remote_updated_at = excluded.remote_updated_at,
			content_version = excluded.content_version
	`, b.ID, b.Title, b.URL, string(encoded), boolToInt(b.Archived), updated, b.ContentVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert bookmark %s: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM bookmarks`)
	if err != nil {
		return nil, fmt.Errorf("failed to select bookmark ids: %w", err)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

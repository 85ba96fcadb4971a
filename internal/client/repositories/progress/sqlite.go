package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, bookmarkID string) (*models.ReadProgress, error) {
	var (
		p       models.ReadProgress
		readAt  int64
		pending int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT bookmark_id, scroll_percent, last_read_at, pending_push
		FROM read_progress WHERE bookmark_id = ?`, bookmarkID).
		Scan(&p.BookmarkID, &p.ScrollPercent, &readAt, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress of %s: %w", bookmarkID, err)
	}
	p.LastReadAt = fromNanos(readAt)
	p.PendingPush = pending != 0
	return &p, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, p models.ReadProgress) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO read_progress (bookmark_id, scroll_percent, last_read_at, pending_push)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO UPDATE SET
			scroll_percent = excluded.scroll_percent,
			last_read_at = excluded.last_read_at,
			pending_push = excluded.pending_push
	`, p.BookmarkID, p.ScrollPercent, toNanos(p.LastReadAt), pendingInt(p.PendingPush))
	if err != nil {
		return fmt.Errorf("failed to set progress of %s: %w", p.BookmarkID, err)
	}
	return nil
}

func (r *SQLiteRepository) CompareAndSet(ctx context.Context, expected time.Time, p models.ReadProgress) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE read_progress SET scroll_percent = ?, last_read_at = ?, pending_push = ?
		WHERE bookmark_id = ? AND last_read_at = ?
	`, p.ScrollPercent, toNanos(p.LastReadAt), pendingInt(p.PendingPush), p.BookmarkID, toNanos(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update progress of %s: %w", p.BookmarkID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, bookmarkID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM read_progress WHERE bookmark_id = ?`, bookmarkID); err != nil {
		return fmt.Errorf("failed to delete progress of %s: %w", bookmarkID, err)
	}
	return nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]models.ReadProgress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bookmark_id, scroll_percent, last_read_at
		FROM read_progress WHERE pending_push = 1
		ORDER BY last_read_at, bookmark_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending progress: %w", err)
	}
	defer rows.Close()

	var pending []models.ReadProgress
	for rows.Next() {
		var (
			p      models.ReadProgress
			readAt int64
		)
		if err := rows.Scan(&p.BookmarkID, &p.ScrollPercent, &readAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.LastReadAt = fromNanos(readAt)
		p.PendingPush = true
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_progress WHERE pending_push = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending progress: %w", err)
	}
	return n, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func pendingInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

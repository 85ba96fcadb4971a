// Package progress computes scroll-based read progress and records it for
// synchronization.
package progress

import (
	"context"
	"math"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
)

// Complete is the percentage of a fully read article.
const Complete = 100.0

// ComputeProgress converts a viewport scroll position into a percentage in
// [0, 100]. Content that fits the viewport counts as fully read.
func ComputeProgress(scrollTop, scrollHeight, clientHeight float64) float64 {
	scrollable := scrollHeight - clientHeight
	if math.IsNaN(scrollable) || scrollable <= 0 {
		return Complete
	}
	return Clamp(scrollTop / scrollable * 100)
}

// Clamp bounds p to [0, 100]. NaN becomes 0.
func Clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > Complete:
		return Complete
	default:
		return p
	}
}

// Enqueuer accepts locally recorded progress for the next push.
type Enqueuer interface {
	EnqueueLocalChange(ctx context.Context, bookmarkID string, p models.ReadProgress) error
}

// Tracker records reader activity as pending progress.
type Tracker struct {
	sink Enqueuer
	now  func() time.Time
}

func NewTracker(sink Enqueuer) *Tracker {
	return &Tracker{sink: sink, now: time.Now}
}

// Record computes progress from a scroll position and queues it.
func (t *Tracker) Record(ctx context.Context, bookmarkID string, scrollTop, scrollHeight, clientHeight float64) (models.ReadProgress, error) {
	return t.set(ctx, bookmarkID, ComputeProgress(scrollTop, scrollHeight, clientHeight))
}

// SetPercent queues an explicit percentage, clamped.
func (t *Tracker) SetPercent(ctx context.Context, bookmarkID string, percent float64) (models.ReadProgress, error) {
	return t.set(ctx, bookmarkID, Clamp(percent))
}

// MarkRead queues the bookmark as fully read.
func (t *Tracker) MarkRead(ctx context.Context, bookmarkID string) (models.ReadProgress, error) {
	return t.set(ctx, bookmarkID, Complete)
}

func (t *Tracker) set(ctx context.Context, bookmarkID string, percent float64) (models.ReadProgress, error) {
	p := models.ReadProgress{
		BookmarkID:    bookmarkID,
		ScrollPercent: percent,
		LastReadAt:    t.now().UTC(),
		PendingPush:   true,
	}
	if err := t.sink.EnqueueLocalChange(ctx, bookmarkID, p); err != nil {
		return models.ReadProgress{}, err
	}
	return p, nil
}

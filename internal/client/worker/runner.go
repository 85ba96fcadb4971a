package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// Maintainer is the cache housekeeping the runner performs.
type Maintainer interface {
	Recover(ctx context.Context) (int, error)
	EvictAllStale(ctx context.Context) (int, error)
}

// Runner drives periodic sync cycles. A cycle runs on every tick and
// whenever the engine signals queued local changes.
type Runner struct {
	syncer   Syncer
	cache    Maintainer
	interval time.Duration
	logger   logging.Logger
}

func NewRunner(s Syncer, c Maintainer, interval time.Duration, l logging.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{syncer: s, cache: c, interval: interval, logger: l.With("module", "worker_runner")}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if n, err := r.cache.Recover(ctx); err != nil {
		r.logger.Warn(ctx, "cache recovery incomplete", "recovered", n, "error", err)
	}

	r.cycle(ctx)

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.cycle(ctx)
		case <-r.syncer.Triggers():
			r.cycle(ctx)
		}
	}
}

// cycle runs one incremental sync and, when it succeeds, evicts stale
// content while the pipeline is idle.
func (r *Runner) cycle(ctx context.Context) {
	_, err := r.syncer.RunIncrementalSync(ctx)
	switch {
	case errors.Is(err, sync.ErrSessionInvalid):
		r.logger.Debug(ctx, "sync skipped, login required")
		return
	case err != nil:
		// The engine logs the failure with its reason.
		return
	}

	if _, err := r.cache.EvictAllStale(ctx); err != nil {
		r.logger.Warn(ctx, "stale eviction incomplete", "error", err)
	}
}

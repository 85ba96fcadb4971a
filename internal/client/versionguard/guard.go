// Package versionguard detects version skew between the shell and the
// background cache worker. It only signals a mismatch; acting on it is up
// to the caller.
package versionguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

type Status string

const (
	// StatusUnknown covers timeouts and builds without a timestamp. It is
	// never treated as a mismatch.
	StatusUnknown  Status = "unknown"
	StatusMatch    Status = "match"
	StatusMismatch Status = "mismatch"
	StatusNoWorker Status = "no_worker"
)

type Result struct {
	Status Status
	Shell  buildinfo.VersionInfo
	Worker buildinfo.VersionInfo
}

// Prober asks the worker for its version.
type Prober interface {
	RequestVersion(ctx context.Context) (buildinfo.VersionInfo, error)
}

type Options struct {
	// Timeout bounds one version request.
	Timeout time.Duration
	// Window is the detection window: a mismatch with the same worker build
	// is signalled at most once per window. Zero means once per build.
	Window time.Duration
	// OnMismatch receives mismatch signals.
	OnMismatch func(Result)
}

type Guard struct {
	prober Prober
	shell  buildinfo.VersionInfo
	opts   Options
	logger logging.Logger
	now    func() time.Time

	mu           sync.Mutex
	signaled     bool
	signaledFor  time.Time
	lastSignalAt time.Time
}

func New(p Prober, shell buildinfo.VersionInfo, opts Options, l logging.Logger) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &Guard{
		prober: p,
		shell:  shell,
		opts:   opts,
		logger: l.With("module", "version_guard"),
		now:    time.Now,
	}
}

// Check asks the worker for its version once and compares build timestamps.
func (g *Guard) Check(ctx context.Context) Result {
	res := Result{Status: StatusUnknown, Shell: g.shell}

	cctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	worker, err := g.prober.RequestVersion(cctx)
	switch {
	case errors.Is(err, workerrpc.ErrNoWorker):
		res.Status = StatusNoWorker
		return res
	case err != nil:
		g.logger.Debug(ctx, "worker version unknown", "error", err)
		return res
	}
	res.Worker = worker

	switch {
	case g.shell.SameBuild(worker):
		res.Status = StatusMatch
		g.reset()
	case g.shell.BuildTimestamp.IsZero(), worker.BuildTimestamp.IsZero():
		res.Status = StatusUnknown
	default:
		res.Status = StatusMismatch
		g.signal(ctx, res)
	}
	return res
}

func (g *Guard) reset() {
	g.mu.Lock()
	g.signaled = false
	g.mu.Unlock()
}

func (g *Guard) signal(ctx context.Context, res Result) {
	now := g.now()

	g.mu.Lock()
	same := g.signaled && g.signaledFor.Equal(res.Worker.BuildTimestamp)
	if same && (g.opts.Window <= 0 || now.Sub(g.lastSignalAt) < g.opts.Window) {
		g.mu.Unlock()
		return
	}
	g.signaled = true
	g.signaledFor = res.Worker.BuildTimestamp
	g.lastSignalAt = now
	g.mu.Unlock()

	g.logger.Warn(ctx, "worker build differs from shell build",
		"shell", res.Shell.String(), "worker", res.Worker.String())
	if g.opts.OnMismatch != nil {
		g.opts.OnMismatch(res)
	}
}

// Watch checks immediately and then every interval until ctx is done.
func (g *Guard) Watch(ctx context.Context, interval time.Duration) {
	g.Check(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Check(ctx)
		}
	}
}

package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/bootstrap"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	"github.com/dmitrijs2005/readkeeper/internal/client/events"
	syncengine "github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/client/worker"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"go.uber.org/multierr"
)

// Worker runs sync cycles in the background, serves the shell over gRPC and
// fans store changes out to WebSocket observers.
type Worker struct {
	config *config.Config
	logger logging.Logger
	comps  *bootstrap.Components
	hub    *events.Hub
	server *worker.Server
	runner *worker.Runner
}

func NewWorker(ctx context.Context, cfg *config.Config, l logging.Logger) (*Worker, error) {
	w := &Worker{config: cfg, logger: l.With("module", "worker_app")}

	var eopts syncengine.Options
	if cfg.EventsAddr != "" {
		w.hub = events.NewHub(l, cfg.EventsOrigins)
		eopts.OnStateChange = func(s syncengine.State, r syncengine.Reason) {
			w.hub.SyncState(string(s), string(r))
		}
	}

	comps, err := bootstrap.Open(ctx, cfg, l, bootstrap.Options{Engine: eopts})
	if err != nil {
		return nil, err
	}
	w.comps = comps

	if w.hub != nil {
		comps.Store.Subscribe(w.hub.Observe)
	}

	syncer := worker.WithSession(comps.Engine, comps.Auth, l)
	svc := worker.NewService(syncer, buildinfo.Current(), l)
	w.server = worker.NewServer(cfg.WorkerAddr, svc, l)
	w.runner = worker.NewRunner(syncer, comps.Cache, cfg.SyncInterval, l)
	return w, nil
}

func (w *Worker) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until ctx is done, a signal arrives or one of the parts fails.
// A failing part stops the others.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	w.logger.Info(ctx, "starting cache worker", "build", buildinfo.Current().String())
	w.initSignalHandler(cancelFunc)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				w.logger.Error(ctx, "worker part failed", "part", name, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				cancelFunc()
			}
		}()
	}

	start("grpc", w.server.Run)
	start("runner", w.runner.Run)
	if w.hub != nil {
		start("events", func(ctx context.Context) error {
			return w.hub.ListenAndServe(ctx, w.config.EventsAddr)
		})
	}

	wg.Wait()
	w.logger.Info(context.WithoutCancel(ctx), "cache worker stopped")
	return errs
}

func (w *Worker) Close() error {
	return w.comps.Close()
}

// Package app assembles the two readkeeper processes: the interactive shell
// and the background cache worker.
package app

import (
	"context"
	"io"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/bootstrap"
	"github.com/dmitrijs2005/readkeeper/internal/client/cli"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	syncengine "github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/client/versionguard"
	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// Shell is the interactive client. Syncs are delegated to the worker when
// one is running.
type Shell struct {
	App *cli.App

	cfg    *config.Config
	comps  *bootstrap.Components
	worker *workerrpc.Client
	guard  *versionguard.Guard
}

func OpenShell(ctx context.Context, cfg *config.Config, l logging.Logger, in io.Reader, out io.Writer) (*Shell, error) {
	wc, err := workerrpc.Dial(cfg.WorkerAddr)
	if err != nil {
		return nil, err
	}

	s := &Shell{cfg: cfg, worker: wc}

	s.guard = versionguard.New(wc, buildinfo.Current(), versionguard.Options{
		Timeout:    cfg.VersionCheckTimeout,
		Window:     cfg.VersionCheckWindow,
		OnMismatch: s.promptReload,
	}, l)

	comps, err := bootstrap.Open(ctx, cfg, l, bootstrap.Options{
		Engine: syncengine.Options{OnSessionInvalid: s.sessionExpired},
		Worker: wc,
		Guard:  s.guard,
	})
	if err != nil {
		_ = wc.Close()
		return nil, err
	}
	s.comps = comps
	s.App = cli.NewApp(comps.Reader, comps.Auth, cfg.OnlineCheckInterval, in, out)
	return s, nil
}

func (s *Shell) promptReload(res versionguard.Result) {
	if s.App != nil {
		s.App.PromptReload(res)
	}
}

func (s *Shell) sessionExpired() {
	if s.App != nil {
		s.App.SessionExpired()
	}
}

// Run starts the version watcher and the REPL. It returns when the user
// leaves the shell.
func (s *Shell) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval := s.cfg.VersionCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go s.guard.Watch(ctx, interval)

	s.App.Run(ctx)
}

func (s *Shell) Close() error {
	err := s.comps.Close()
	if cerr := s.worker.Close(); err == nil {
		err = cerr
	}
	return err
}

package worker

import (
	"context"

	"github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// SessionSource reloads credentials another process may have changed.
type SessionSource interface {
	Refresh(ctx context.Context) (changed bool, err error)
}

type sessionSyncer struct {
	Syncer
	session SessionSource
	logger  logging.Logger
}

// WithSession wraps s so that every cycle first picks up a login or logout
// made in the shell.
func WithSession(s Syncer, src SessionSource, l logging.Logger) Syncer {
	return &sessionSyncer{Syncer: s, session: src, logger: l.With("module", "worker_session")}
}

func (s *sessionSyncer) refresh(ctx context.Context) {
	changed, err := s.session.Refresh(ctx)
	switch {
	case err != nil:
		s.logger.Warn(ctx, "credentials not reloaded", "error", err)
	case changed:
		s.logger.Info(ctx, "credentials changed, session reloaded")
	}
}

func (s *sessionSyncer) RunIncrementalSync(ctx context.Context) (*sync.Report, error) {
	s.refresh(ctx)
	return s.Syncer.RunIncrementalSync(ctx)
}

func (s *sessionSyncer) RunFullSync(ctx context.Context) (*sync.Report, error) {
	s.refresh(ctx)
	return s.Syncer.RunFullSync(ctx)
}

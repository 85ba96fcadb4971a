// Package worker is the background cache worker: it runs sync cycles on a
// schedule, evicts stale content when idle and answers the shell over gRPC.
package worker

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Syncer runs sync cycles.
type Syncer interface {
	RunIncrementalSync(ctx context.Context) (*sync.Report, error)
	RunFullSync(ctx context.Context) (*sync.Report, error)
	Triggers() <-chan struct{}
}

// Service answers shell requests.
type Service struct {
	syncer  Syncer
	version buildinfo.VersionInfo
	logger  logging.Logger
}

var _ workerrpc.Handler = (*Service)(nil)

func NewService(s Syncer, version buildinfo.VersionInfo, l logging.Logger) *Service {
	return &Service{syncer: s, version: version, logger: l.With("module", "worker_service")}
}

func (s *Service) Version(context.Context) buildinfo.VersionInfo {
	return s.version
}

func (s *Service) Sync(ctx context.Context, full bool) (workerrpc.SyncResult, error) {
	run := s.syncer.RunIncrementalSync
	if full {
		run = s.syncer.RunFullSync
	}
	r, err := run(ctx)
	if err != nil {
		return workerrpc.SyncResult{}, syncStatus(err)
	}
	return workerrpc.SyncResult{
		CycleID: r.CycleID,
		Full:    r.Full,
		Pulled:  r.Pulled,
		Updated: r.Updated,
		Deleted: r.Deleted,
		Cached:  r.Cached,
		Pushed:  r.Pushed,
	}, nil
}

// syncStatus maps cycle failures to status codes. Unavailable is reserved
// for an absent worker, so network failures surface as Aborted.
func syncStatus(err error) error {
	if errors.Is(err, sync.ErrSessionInvalid) {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	var ce *sync.CycleError
	if !errors.As(err, &ce) {
		return status.Error(codes.Internal, err.Error())
	}
	switch ce.Reason {
	case sync.ReasonAuth:
		return status.Error(codes.Unauthenticated, err.Error())
	case sync.ReasonCanceled:
		return status.Error(codes.Canceled, err.Error())
	case sync.ReasonRateLimited:
		return status.Error(codes.ResourceExhausted, err.Error())
	case sync.ReasonNetwork:
		return status.Error(codes.Aborted, err.Error())
	case sync.ReasonRemote:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

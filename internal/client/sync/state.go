package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/netx"
)

// State is the position of the engine in a sync cycle.
type State string

const (
	StateIdle       State = "idle"
	StatePulling    State = "pulling"
	StateDiffing    State = "diffing"
	StateCaching    State = "caching"
	StatePushing    State = "pushing"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// Reason classifies a failed cycle.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNetwork     Reason = "network"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuth        Reason = "auth"
	ReasonRemote      Reason = "remote"
	ReasonStore       Reason = "store"
	ReasonCanceled    Reason = "canceled"
)

// ErrSessionInvalid is returned without contacting the server after an
// authentication failure, until ResetSession is called.
var ErrSessionInvalid = errors.New("session invalid, login required")

// CycleError is returned by a failed sync cycle.
type CycleError struct {
	Reason Reason
	Err    error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("sync failed (%s): %v", e.Reason, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return ReasonAuth
	case errors.Is(err, client.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, client.ErrUnavailable):
		return ReasonNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, client.ErrBadResponse), errors.As(err, new(*netx.StatusError)):
		return ReasonRemote
	default:
		return ReasonStore
	}
}

// rejected reports whether the server refused one record for good.
func rejected(err error) bool {
	var se *netx.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusRequestTimeout
}

// Report summarizes one sync cycle.
type Report struct {
	CycleID        string
	Full           bool
	Pulled         int
	Updated        int
	Deleted        int
	Cached         int
	CacheFailures  int
	Pushed         int
	PushFailures   int
	Conflicts      int
	CursorAdvanced bool
	Reason         Reason
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Changed reports whether the cycle wrote anything locally or remotely.
func (r *Report) Changed() bool {
	return r.Updated+r.Deleted+r.Cached+r.Pushed > 0 || r.CursorAdvanced
}

package workerrpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrNoWorker means nothing answers at the worker address.
	ErrNoWorker = errors.New("cache worker not running")
	// ErrNoReply means the worker did not answer in time.
	ErrNoReply = errors.New("cache worker did not reply")
)

// Client talks to a cache worker.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial prepares a client for addr. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(buildHeaderInterceptor),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("worker client: %w", err)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// buildHeaderInterceptor tells the worker which shell build is calling.
func buildHeaderInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if ts := buildinfo.Current().BuildTimestamp; !ts.IsZero() {
		ctx = metadata.AppendToOutgoingContext(ctx, ShellVersionHeader, ts.Format(time.RFC3339))
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func mapError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrNoReply, context.DeadlineExceeded)
	}
	switch status.Code(err) {
	case codes.Unavailable:
		return fmt.Errorf("%s: %w: %v", op, ErrNoWorker, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %w", op, ErrNoReply, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", op, context.Canceled)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Ping checks the standard health service of the worker.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return mapError(ctx, "health check", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check: %w: status %s", ErrNoWorker, resp.GetStatus())
	}
	return nil
}

// RequestVersion asks the worker for its build identity.
func (c *Client) RequestVersion(ctx context.Context) (buildinfo.VersionInfo, error) {
	in, err := structpb.NewStruct(map[string]any{"type": MsgRequestVersion})
	if err != nil {
		return buildinfo.VersionInfo{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodRequestVersion, in, out); err != nil {
		return buildinfo.VersionInfo{}, mapError(ctx, "request version", err)
	}
	return decodeVersion(out)
}

// RequestSync asks the worker to run a sync cycle and waits for its result.
func (c *Client) RequestSync(ctx context.Context, full bool) (SyncResult, error) {
	in, err := structpb.NewStruct(map[string]any{"type": MsgRequestSync, "full": full})
	if err != nil {
		return SyncResult{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodRequestSync, in, out); err != nil {
		return SyncResult{}, mapError(ctx, "request sync", err)
	}
	return decodeSyncResult(out)
}

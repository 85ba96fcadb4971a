// Package workerrpc is the message channel between the shell and the cache
// worker. Messages are protobuf Structs carrying a "type" field, served by
// the gRPC service readkeeper.worker.v1.CacheWorker.
package workerrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "readkeeper.worker.v1.CacheWorker"

// Message types.
const (
	MsgRequestVersion = "REQUEST_VERSION"
	MsgVersionInfo    = "VERSION_INFO"
	MsgRequestSync    = "REQUEST_SYNC"
	MsgSyncResult     = "SYNC_RESULT"
)

const (
	methodRequestVersion = "/" + ServiceName + "/RequestVersion"
	methodRequestSync    = "/" + ServiceName + "/RequestSync"
)

// ShellVersionHeader carries the caller's build timestamp in request metadata.
const ShellVersionHeader = "x-readkeeper-build"

// SyncResult summarizes a sync cycle run by the worker on request.
type SyncResult struct {
	CycleID string
	Full    bool
	Pulled  int
	Updated int
	Deleted int
	Cached  int
	Pushed  int
}

// Handler is implemented by the worker.
type Handler interface {
	Version(ctx context.Context) buildinfo.VersionInfo
	// Sync runs one cycle. Returned errors should be gRPC status errors.
	Sync(ctx context.Context, full bool) (SyncResult, error)
}

func RegisterCacheWorkerServer(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVersion", Handler: requestVersionHandler},
		{MethodName: "RequestSync", Handler: requestSyncHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "readkeeper/worker/v1/worker.proto",
}

func unary(method string, fn func(context.Context, Handler, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return fn(ctx, srv.(Handler), req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, call)
	}
}

var (
	requestVersionHandler = unary(methodRequestVersion, handleRequestVersion)
	requestSyncHandler    = unary(methodRequestSync, handleRequestSync)
)

func messageType(m *structpb.Struct) string {
	return m.GetFields()["type"].GetStringValue()
}

func expectType(m *structpb.Struct, want string) error {
	if got := messageType(m); got != want {
		return status.Errorf(codes.InvalidArgument, "unexpected message type %q, want %q", got, want)
	}
	return nil
}

func handleRequestVersion(ctx context.Context, h Handler, in *structpb.Struct) (*structpb.Struct, error) {
	if err := expectType(in, MsgRequestVersion); err != nil {
		return nil, err
	}
	v := h.Version(ctx)
	return encodeVersion(v)
}

func encodeVersion(v buildinfo.VersionInfo) (*structpb.Struct, error) {
	ts := ""
	if !v.BuildTimestamp.IsZero() {
		ts = v.BuildTimestamp.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(map[string]any{
		"type":            MsgVersionInfo,
		"version":         v.Version,
		"build_timestamp": ts,
	})
}

func decodeVersion(m *structpb.Struct) (buildinfo.VersionInfo, error) {
	if messageType(m) != MsgVersionInfo {
		return buildinfo.VersionInfo{}, fmt.Errorf("unexpected reply type %q", messageType(m))
	}
	f := m.GetFields()
	return buildinfo.VersionInfo{
		Version:        f["version"].GetStringValue(),
		BuildTimestamp: buildinfo.ParseTimestamp(f["build_timestamp"].GetStringValue()),
	}, nil
}

func handleRequestSync(ctx context.Context, h Handler, in *structpb.Struct) (*structpb.Struct, error) {
	if err := expectType(in, MsgRequestSync); err != nil {
		return nil, err
	}
	full := in.GetFields()["full"].GetBoolValue()
	res, err := h.Sync(ctx, full)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"type":     MsgSyncResult,
		"cycle_id": res.CycleID,
		"full":     res.Full,
		"pulled":   res.Pulled,
		"updated":  res.Updated,
		"deleted":  res.Deleted,
		"cached":   res.Cached,
		"pushed":   res.Pushed,
	})
}

func decodeSyncResult(m *structpb.Struct) (SyncResult, error) {
	if messageType(m) != MsgSyncResult {
		return SyncResult{}, fmt.Errorf("unexpected reply type %q", messageType(m))
	}
	f := m.GetFields()
	n := func(k string) int { return int(f[k].GetNumberValue()) }
	return SyncResult{
		CycleID: f["cycle_id"].GetStringValue(),
		Full:    f["full"].GetBoolValue(),
		Pulled:  n("pulled"),
		Updated: n("updated"),
		Deleted: n("deleted"),
		Cached:  n("cached"),
		Pushed:  n("pushed"),
	}, nil
}

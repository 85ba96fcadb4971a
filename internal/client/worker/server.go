package worker

import (
	"context"
	"net"

	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// Server exposes a workerrpc.Handler and the gRPC health service.
type Server struct {
	address string
	handler workerrpc.Handler
	logger  logging.Logger
}

func NewServer(address string, h workerrpc.Handler, l logging.Logger) *Server {
	return &Server{
		address: address,
		handler: h,
		logger:  l.With("module", "worker_server"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.logInterceptor))

	workerrpc.RegisterCacheWorkerServer(srv, s.handler)

	hs := health.NewServer()
	hs.SetServingStatus(workerrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping worker gRPC server")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "starting worker gRPC server", "address", lis.Addr().String())
	return srv.Serve(lis)
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var shell string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(workerrpc.ShellVersionHeader); len(v) > 0 {
			shell = v[0]
		}
	}

	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "rpc failed", "method", info.FullMethod, "shell_build", shell, "error", err)
		return nil, err
	}
	s.logger.Debug(ctx, "rpc served", "method", info.FullMethod, "shell_build", shell)
	return resp, nil
}

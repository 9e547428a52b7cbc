// Package server exposes the extraction pipeline and the extractor store over gRPC.
package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// New builds a gRPC server with the extraction service, the health service
// (reported SERVING) and reflection registered.
func New(svc ExtractionService, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(requestLogger(logger))}, opts...)
	s := grpc.NewServer(opts...)
	RegisterExtractionService(s, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(s)
	return s, hs
}

// requestLogger tags each call with a request id (taken from the
// x-request-id header when present) and logs its outcome.
func requestLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 && v[0] != "" {
				ctx = common.WithRequestID(ctx, v[0])
			}
		}
		ctx, rid := common.EnsureRequestID(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if err != nil {
			logger.Warn("grpc.request.failed", "method", info.FullMethod, "request_id", rid, "code", code.String(), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		} else {
			logger.Info("grpc.request", "method", info.FullMethod, "request_id", rid, "duration_ms", time.Since(start).Milliseconds())
		}
		return resp, err
	}
}

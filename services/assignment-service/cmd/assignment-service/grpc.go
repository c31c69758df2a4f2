package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/fieldassign/libs/config"
	"github.com/md-rashed-zaman/fieldassign/libs/grpcx"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv, health := grpcx.NewServer(logger)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		srv.GracefulStop()
	}()

	return nil
}

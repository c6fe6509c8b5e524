package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	configpkg "transcendence/pong/internal/config"
	grpcstream "transcendence/pong/internal/grpc"
	"transcendence/pong/internal/logging"
)

// startSpectatorServer serves the read-only snapshot stream of source on cfg.GRPCAddr. The
// returned stop drains open streams for at most grace before cutting them.
func startSpectatorServer(cfg *configpkg.Config, source grpcstream.SnapshotSource, logger *logging.Logger, grace time.Duration) (func(), error) {
	opts, err := configureGRPCSecurity(cfg, logger)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen spectator grpc: %w", err)
	}
	server := grpc.NewServer(opts...)
	grpcstream.RegisterSpectatorServer(server, grpcstream.NewService(source))

	go func() {
		logger.Info("spectator gRPC listening", logging.String("address", listener.Addr().String()))
		if err := server.Serve(listener); err != nil {
			logger.Error("spectator gRPC stopped", logging.Error(err))
		}
	}()

	return func() {
		//1.- Prefer a graceful drain; streams still open after grace are cut.
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		done := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			server.Stop()
		}
	}, nil
}

package main

import (
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	configpkg "transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
)

const sharedSecretMetadataKey = "x-pong-shared-secret"

// configureGRPCSecurity returns the server options guarding the spectator endpoint.
func configureGRPCSecurity(cfg *configpkg.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}

	switch cfg.GRPCAuthMode {
	case configpkg.GRPCAuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.GRPCServerCertPath, cfg.GRPCServerKeyPath, cfg.GRPCClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("spectator gRPC mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case configpkg.GRPCAuthModeSharedSecret:
		logger.Info("spectator gRPC shared-secret authentication enabled")
		return []grpc.ServerOption{grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(cfg.GRPCSharedSecret, logger))}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.GRPCAuthMode)
	}
}

func newSharedSecretStreamInterceptor(secret string, logger *logging.Logger) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	if logger == nil {
		logger = logging.L()
	}
	deny := func(ss grpc.ServerStream, info *grpc.StreamServerInfo, reason string) error {
		fields := []logging.Field{logging.String("reason", reason)}
		if info != nil {
			fields = append(fields, logging.String("method", info.FullMethod))
		}
		if p, ok := peer.FromContext(ss.Context()); ok && p.Addr != nil {
			fields = append(fields, logging.String("remote_addr", p.Addr.String()))
		}
		logger.Warn("spectator stream denied", fields...)
		return status.Error(codes.Unauthenticated, reason)
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if normalized == "" {
			return deny(ss, info, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return deny(ss, info, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return deny(ss, info, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return deny(ss, info, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(sharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

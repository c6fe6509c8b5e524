package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	configpkg "transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
)

type stubServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *stubServerStream) Context() context.Context {
	return s.ctx
}

func TestSharedSecretInterceptorAcceptsValidSecret(t *testing.T) {
	interceptor := newSharedSecretStreamInterceptor("hunter2", logging.NewTestLogger())
	for _, md := range []metadata.MD{
		metadata.New(map[string]string{sharedSecretMetadataKey: "hunter2"}),
		metadata.New(map[string]string{"authorization": "Bearer hunter2"}),
	} {
		stream := &stubServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}
		called := false
		handler := func(interface{}, grpc.ServerStream) error {
			called = true
			return nil
		}
		if err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/x"}, handler); err != nil {
			t.Fatalf("interceptor returned error: %v", err)
		}
		if !called {
			t.Fatalf("expected handler to be invoked for %v", md)
		}
	}
}

func TestSharedSecretInterceptorRejects(t *testing.T) {
	cases := map[string]struct {
		secret string
		ctx    context.Context
	}{
		"missing metadata": {secret: "hunter2", ctx: context.Background()},
		"wrong secret": {secret: "hunter2", ctx: metadata.NewIncomingContext(context.Background(),
			metadata.New(map[string]string{sharedSecretMetadataKey: "nope"}))},
		"unconfigured": {secret: " ", ctx: metadata.NewIncomingContext(context.Background(),
			metadata.New(map[string]string{sharedSecretMetadataKey: "hunter2"}))},
	}
	for name, tc := range cases {
		interceptor := newSharedSecretStreamInterceptor(tc.secret, logging.NewTestLogger())
		handler := func(interface{}, grpc.ServerStream) error { return nil }
		err := interceptor(nil, &stubServerStream{ctx: tc.ctx}, &grpc.StreamServerInfo{}, handler)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
	}
}

func TestLoadMTLSCredentialsFailsWithBadPaths(t *testing.T) {
	if _, err := loadMTLSCredentials("missing-cert", "missing-key", "missing-ca"); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestConfigureGRPCSecurityMTLS(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t)
	cfg := &configpkg.Config{GRPCAuthMode: configpkg.GRPCAuthModeMTLS, GRPCServerCertPath: certFile, GRPCServerKeyPath: keyFile, GRPCClientCAPath: certFile}
	opts, err := configureGRPCSecurity(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("configureGRPCSecurity: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("expected grpc options for mtls configuration")
	}
}

func TestConfigureGRPCSecuritySharedSecret(t *testing.T) {
	cfg := &configpkg.Config{GRPCAuthMode: configpkg.GRPCAuthModeSharedSecret, GRPCSharedSecret: "hunter2"}
	opts, err := configureGRPCSecurity(cfg, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("configureGRPCSecurity: %v", err)
	}
	if len(opts) == 0 {
		t.Fatal("expected grpc options for shared secret configuration")
	}
	if _, err := configureGRPCSecurity(&configpkg.Config{GRPCAuthMode: "plain"}, nil); err == nil {
		t.Fatal("expected unknown auth mode to fail")
	}
}

func generateSelfSignedCert(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pong-host"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}

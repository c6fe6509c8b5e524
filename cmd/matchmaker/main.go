// Command matchmaker runs the Pong matchmaking service: client sockets, parties, queues and the
// bridge to the simulation host.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"transcendence/pong/internal/auth"
	"transcendence/pong/internal/bridge"
	"transcendence/pong/internal/config"
	httpapi "transcendence/pong/internal/http"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
	"transcendence/pong/internal/networking"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "matchmaker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadMatchmaker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	var authenticator *auth.RequestAuthenticator
	if cfg.TokenSecret != "" {
		if authenticator, err = auth.NewRequestAuthenticator(cfg.TokenSecret, auth.AudienceMatchmaker); err != nil {
			return fmt.Errorf("player auth: %w", err)
		}
	}

	link := bridge.New(cfg.HostURL, cfg.LobbyID, cfg.LobbyPass,
		bridge.WithLogger(logger.With(logging.String("component", "bridge"))),
		bridge.WithReconnectDelay(cfg.ReconnectDelay),
	)
	go link.Run(ctx)
	defer link.Close()

	svc := matchmaking.NewService(*cfg, link, backends.options(authenticator, logger)...)
	go svc.Run(ctx)

	ready := newReadiness(svc)
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           newMatchmakerMux(cfg, svc, link, authenticator, ready, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	httpURL, wsURL := networking.ListenerURLs(cfg.Address, false)
	logger.Info("matchmaker listening",
		logging.String("http", httpURL),
		logging.String("ws", wsURL+"/ws"),
		logging.String("host", cfg.HostURL),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
			ready.fail(runErr)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("matchmaker shutdown incomplete", logging.Error(err))
	}
	return runErr
}

// newMatchmakerMux routes the ops, party and socket endpoints of the matchmaker.
func newMatchmakerMux(cfg *config.MatchmakerConfig, svc *matchmaking.Service, link *bridge.Client, authenticator *auth.RequestAuthenticator, ready httpapi.ReadinessProvider, logger *logging.Logger) http.Handler {
	var linkStats func() bridge.Stats
	if link != nil {
		linkStats = link.Stats
	}
	ops := httpapi.NewHandlerSet(httpapi.Options{
		Logger:     logger,
		Namespace:  "pong_matchmaker",
		Readiness:  ready,
		Metrics:    httpapi.MatchmakerMetrics(svc.Stats, linkStats),
		AdminToken: cfg.AdminToken,
	})
	partyOpts := httpapi.PartyOptions{
		Logger:        logger.With(logging.String("component", "party_api")),
		Service:       svc,
		InviteLimiter: httpapi.NewSlidingWindowLimiter(cfg.InviteRateWindow, cfg.InviteRateBurst, nil),
	}
	if authenticator != nil {
		partyOpts.Authenticator = authenticator
	}

	mux := http.NewServeMux()
	ops.Register(mux)
	httpapi.NewPartyHandlers(partyOpts).Register(mux)
	mux.HandleFunc("/ws", svc.ServeWS)
	return logging.HTTPTraceMiddleware(logger)(mux)
}

// readiness reports the matchmaker socket counts to /readyz and /metrics.
type readiness struct {
	svc     *matchmaking.Service
	started time.Time
	err     atomic.Pointer[error]
}

func newReadiness(svc *matchmaking.Service) *readiness {
	return &readiness{svc: svc, started: time.Now()}
}

func (r *readiness) SnapshotClientCounts() (clients, pending int) {
	return r.svc.Stats().Connected, 0
}

func (r *readiness) StartupError() error {
	if err := r.err.Load(); err != nil {
		return *err
	}
	return nil
}

func (r *readiness) Uptime() time.Duration { return time.Since(r.started) }

func (r *readiness) fail(err error) { r.err.Store(&err) }

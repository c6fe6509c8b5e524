// Command pong-host runs the Pong simulation server: matches, player sockets and the lobby link.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcendence/pong/internal/config"
	"transcendence/pong/internal/gamehost"
	httpapi "transcendence/pong/internal/http"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/networking"
	"transcendence/pong/internal/replay"
)

const (
	shutdownGrace       = 10 * time.Second
	replaySweepInterval = time.Hour
	replayMaxMatches    = 500
	sweepRateWindow     = time.Minute
	sweepRateBurst      = 5
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pong-host: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	stats, err := config.LoadGameStats(cfg.StatsPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, cleaner, err := buildHost(cfg, stats, logger)
	if err != nil {
		return err
	}
	go host.Run(ctx)
	if cleaner != nil {
		go cleaner.Run(ctx, replaySweepInterval)
	}

	//1.- The spectator stream is optional and shares the host snapshot fan-out.
	stopGRPC := func() {}
	if cfg.GRPCAddr != "" {
		stopGRPC, err = startSpectatorServer(cfg, host, logger.With(logging.String("component", "spectator")), shutdownGrace)
		if err != nil {
			host.SetStartupError(err)
			return err
		}
	}

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           newHostMux(cfg, host, cleaner, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsEnabled := cfg.TLSCertPath != ""
	serveErr := make(chan error, 1)
	go func() {
		if tlsEnabled {
			serveErr <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		serveErr <- server.ListenAndServe()
	}()
	httpURL, wsURL := networking.ListenerURLs(cfg.Address, tlsEnabled)
	logger.Info("pong host listening",
		logging.String("http", httpURL),
		logging.String("ws", wsURL),
		logging.Int("simulation_fps", cfg.SimulationFPS),
		logging.Int("network_fps", cfg.NetworkTickFPS),
	)

	//2.- Stop on a signal or when the listener dies, then drain in reverse order.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
			host.SetStartupError(runErr)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	if err := host.Shutdown(shutdownCtx); err != nil {
		logger.Warn("host shutdown incomplete", logging.Error(err))
	}
	stopGRPC()
	return runErr
}

// buildHost assembles the host and, when replays are enabled, the cleaner guarding their disk.
func buildHost(cfg *config.Config, stats config.GameStats, logger *logging.Logger) (*gamehost.Host, *replay.Cleaner, error) {
	opts := []gamehost.Option{gamehost.WithLogger(logger)}

	authenticator, err := newWebsocketAuthenticator(cfg.PlayerTokenSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("player auth: %w", err)
	}
	if authenticator != nil {
		opts = append(opts, gamehost.WithAuthenticator(authenticator))
	}

	var cleaner *replay.Cleaner
	if cfg.ReplayDir != "" {
		recorder, err := replay.NewRecorder(cfg.ReplayDir, time.Now, logger.With(logging.String("component", "replay")))
		if err != nil {
			return nil, nil, fmt.Errorf("replay recorder: %w", err)
		}
		opts = append(opts, gamehost.WithRecorder(recorder))
		cleaner = replay.NewCleaner(cfg.ReplayDir,
			replay.RetentionPolicy{MaxMatches: replayMaxMatches, MaxAge: cfg.ReplayMaxAge},
			logger.With(logging.String("component", "replay_cleaner")),
			replay.WithInUse(recorder.Owns),
		)
	}
	return gamehost.New(*cfg, stats, opts...), cleaner, nil
}

// newHostMux routes ops endpoints and sends every other path to the socket upgrade.
func newHostMux(cfg *config.Config, host *gamehost.Host, cleaner *replay.Cleaner, logger *logging.Logger) http.Handler {
	var sweeper httpapi.Sweeper
	if cleaner != nil {
		sweeper = cleanerSweeper(cleaner)
	}
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Namespace:   "pong_host",
		Readiness:   host,
		Metrics:     httpapi.HostMetrics(host.Stats),
		Sweeper:     sweeper,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(sweepRateWindow, sweepRateBurst, nil),
	})
	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/", host.ServeWS)
	return logging.HTTPTraceMiddleware(logger)(mux)
}

func cleanerSweeper(cleaner *replay.Cleaner) httpapi.Sweeper {
	return httpapi.SweeperFunc(func(ctx context.Context) (replay.StorageStats, error) {
		if err := ctx.Err(); err != nil {
			return replay.StorageStats{}, err
		}
		cleaner.RunOnce()
		return cleaner.Stats(), nil
	})
}

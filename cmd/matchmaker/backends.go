package main

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"transcendence/pong/internal/auth"
	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
	"transcendence/pong/internal/store"
)

// backends holds the optional stores the matchmaker was configured with.
type backends struct {
	postgres *store.Postgres
	redis    *redis.Client
	nats     *nats.Conn
	users    *store.UsersClient
}

// openBackends connects every backend named in cfg. Unset addresses leave the in-memory
// defaults of the service in place.
func openBackends(ctx context.Context, cfg *config.MatchmakerConfig, logger *logging.Logger) (*backends, error) {
	b := &backends{}
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, logger.With(logging.String("component", "postgres")))
		if err != nil {
			return nil, err
		}
		b.postgres = pg
	}
	if cfg.RedisAddr != "" {
		client, err := store.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
	}
	if cfg.NATSURL != "" {
		conn, err := store.ConnectNATS(cfg.NATSURL, logger.With(logging.String("component", "nats")))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.nats = conn
	}
	if cfg.UsersURL != "" {
		b.users = store.NewUsersClient(cfg.UsersURL, nil)
	}
	logger.Info("matchmaker backends ready",
		logging.Bool("postgres", b.postgres != nil),
		logging.Bool("redis", b.redis != nil),
		logging.Bool("nats", b.nats != nil),
		logging.Bool("users", b.users != nil),
	)
	return b, nil
}

// options turns the connected backends into service options.
func (b *backends) options(authenticator *auth.RequestAuthenticator, logger *logging.Logger) []matchmaking.Option {
	opts := []matchmaking.Option{matchmaking.WithLogger(logger.With(logging.String("component", "matchmaking")))}
	if authenticator != nil {
		opts = append(opts, matchmaking.WithAuthenticator(authenticator))
	}

	var sinks store.MultiSink
	var ranks store.FirstRank
	if b.postgres != nil {
		sinks = append(sinks, b.postgres)
		ranks = append(ranks, b.postgres)
	}
	if b.users != nil {
		sinks = append(sinks, b.users)
		ranks = append(ranks, b.users)
	}
	if b.nats != nil {
		sinks = append(sinks, store.NewPublisher(b.nats, ""))
	}
	if len(sinks) > 0 {
		opts = append(opts, matchmaking.WithResultSink(sinks))
	}
	if len(ranks) > 0 {
		opts = append(opts, matchmaking.WithRankSource(ranks))
	}
	if b.redis != nil {
		opts = append(opts, matchmaking.WithInviteStore(store.NewRedisInvites(b.redis)))
	}
	return opts
}

// Close releases every connected backend.
func (b *backends) Close() {
	if b == nil {
		return
	}
	if b.nats != nil {
		if err := b.nats.Drain(); err != nil {
			b.nats.Close()
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	b.postgres.Close()
}

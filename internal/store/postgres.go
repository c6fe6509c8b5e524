package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/matchmaking"
)

// Points moved by one decided match.
const (
	WinPoints  = 25
	LossPoints = -20
)

// Postgres stores match results and serves ranks.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// OpenPostgres migrates the schema at databaseURL and connects a pool to it.
func OpenPostgres(ctx context.Context, databaseURL string, logger *logging.Logger) (*Postgres, error) {
	if logger == nil {
		logger = logging.L()
	}
	if err := Migrate(databaseURL, logger); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, log: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// Ping checks the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Record stores rec and moves the ranks of its players when the match was decided.
func (p *Postgres) Record(ctx context.Context, rec matchmaking.MatchRecord) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO match_results (match_id, lobby_id, game_type, timed_out, started_at, duration, ended_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
			ON CONFLICT (lobby_id, match_id) DO NOTHING`,
			rec.MatchID, rec.LobbyID, string(rec.GameType), rec.TimedOut,
			rec.Result.Time.StartedAt, rec.Result.Time.Duration, rec.EndedAt)
		if err != nil {
			return fmt.Errorf("insert match result: %w", err)
		}
		//1.- A record that is already stored moved its ranks the first time.
		if tag.RowsAffected() == 0 {
			p.log.Debug("match already recorded", logging.String("lobby", rec.LobbyID), logging.Int64("match", rec.MatchID))
			return nil
		}

		slots := make([]int, 0, len(rec.Result.Players))
		for slot := range rec.Result.Players {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		batch := &pgx.Batch{}
		for _, slot := range slots {
			player := rec.Result.Players[slot]
			batch.Queue(`
				INSERT INTO match_players (lobby_id, match_id, slot, user_id, name, score, winner)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				rec.LobbyID, rec.MatchID, slot, player.ID, player.Name, player.Score, player.Winner)
			if rec.TimedOut || rec.Result.Winner() == 0 {
				continue
			}
			delta := LossPoints
			if player.Winner {
				delta = WinPoints
			}
			batch.Queue(`UPDATE player_ranks SET points = points + $2, updated_at = now() WHERE user_id = $1`, player.ID, delta)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("store match players: %w", err)
		}
		return nil
	})
}

// Rank returns the rank points of email.
func (p *Postgres) Rank(ctx context.Context, email string) (int, error) {
	var points int
	err := p.pool.QueryRow(ctx, `SELECT points FROM player_ranks WHERE email = $1`, email).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, matchmaking.ErrRankNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query rank: %w", err)
	}
	return points, nil
}

// SetRank creates or overwrites the rank of a user.
func (p *Postgres) SetRank(ctx context.Context, userID int64, email string, points int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO player_ranks (user_id, email, points) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, points = EXCLUDED.points, updated_at = now()`,
		userID, email, points)
	if err != nil {
		return fmt.Errorf("set rank: %w", err)
	}
	return nil
}

// MatchesOf returns how many stored matches userID played.
func (p *Postgres) MatchesOf(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM match_players WHERE user_id = $1`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}

package store

import (
	"context"
	"errors"

	"transcendence/pong/internal/matchmaking"
)

// MultiSink records into every sink and joins their failures.
type MultiSink []matchmaking.ResultSink

func (m MultiSink) Record(ctx context.Context, rec matchmaking.MatchRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FirstRank asks each source in turn until one knows the user.
type FirstRank []matchmaking.RankSource

func (f FirstRank) Rank(ctx context.Context, email string) (int, error) {
	var errs []error
	for _, source := range f {
		if source == nil {
			continue
		}
		points, err := source.Rank(ctx, email)
		if err == nil {
			return points, nil
		}
		if !errors.Is(err, matchmaking.ErrRankNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, matchmaking.ErrRankNotFound
}

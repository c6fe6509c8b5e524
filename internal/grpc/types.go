package grpc

import (
	"context"
	"errors"
)

// ErrUnknownMatch is returned by a SnapshotSource when no live match has the requested id.
var ErrUnknownMatch = errors.New("unknown match")

// SnapshotEvent transports one encoded match snapshot alongside its broadcast sequence.
type SnapshotEvent struct {
	MatchID  int64
	Sequence uint64
	Payload  []byte
}

// SnapshotSource exposes subscription semantics for per-match snapshot fan-out.
type SnapshotSource interface {
	SubscribeSnapshots(ctx context.Context, matchID int64) (<-chan SnapshotEvent, func(), error)
}

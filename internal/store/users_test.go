package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcendence/pong/internal/matchmaking"
)

func TestUsersClientRank(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("email") {
		case "gold@pong.example":
			_ = json.NewEncoder(w).Encode(map[string]int{"rank_points": 230})
		case "broken@pong.example":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	users := NewUsersClient(server.URL+"/", nil)
	points, err := users.Rank(context.Background(), "gold@pong.example")
	require.NoError(t, err)
	assert.Equal(t, 230, points)

	_, err = users.Rank(context.Background(), "ghost@pong.example")
	assert.ErrorIs(t, err, matchmaking.ErrRankNotFound)

	_, err = users.Rank(context.Background(), "broken@pong.example")
	require.Error(t, err)
	assert.NotErrorIs(t, err, matchmaking.ErrRankNotFound)
}

func TestUsersClientRecordPostsJSON(t *testing.T) {
	var (
		mu   sync.Mutex
		seen matchmaking.MatchRecord
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/matches" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&seen)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	rec := decidedRecord("lobby-9", 4, 10, 11)
	require.NoError(t, NewUsersClient(server.URL, nil).Record(context.Background(), rec))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "lobby-9", seen.LobbyID)
	assert.Equal(t, int64(10), seen.Result.Players[1].ID)
}

type sinkFunc func(context.Context, matchmaking.MatchRecord) error

func (f sinkFunc) Record(ctx context.Context, rec matchmaking.MatchRecord) error { return f(ctx, rec) }

type rankFunc func(context.Context, string) (int, error)

func (f rankFunc) Rank(ctx context.Context, email string) (int, error) { return f(ctx, email) }

func TestMultiSinkRecordsEverywhere(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	ok := sinkFunc(func(context.Context, matchmaking.MatchRecord) error { calls++; return nil })
	bad := sinkFunc(func(context.Context, matchmaking.MatchRecord) error { calls++; return boom })

	err := MultiSink{bad, nil, ok}.Record(context.Background(), matchmaking.MatchRecord{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.NoError(t, MultiSink{ok}.Record(context.Background(), matchmaking.MatchRecord{}))
}

func TestFirstRankFallsThrough(t *testing.T) {
	missing := rankFunc(func(context.Context, string) (int, error) { return 0, matchmaking.ErrRankNotFound })
	known := rankFunc(func(context.Context, string) (int, error) { return 42, nil })
	down := rankFunc(func(context.Context, string) (int, error) { return 0, errors.New("down") })

	points, err := FirstRank{missing, known}.Rank(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 42, points)

	_, err = FirstRank{missing}.Rank(context.Background(), "x")
	assert.ErrorIs(t, err, matchmaking.ErrRankNotFound)

	_, err = FirstRank{missing, down}.Rank(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, matchmaking.ErrRankNotFound)
}

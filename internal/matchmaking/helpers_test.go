package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transcendence/pong/internal/bridge"
	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []map[string]any
	fail   bool
	closed bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("send refused")
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		return err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) all() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.frames...)
}

func (c *fakeConn) types() []string {
	var out []string
	for _, frame := range c.all() {
		out = append(out, frame["type"].(string))
	}
	return out
}

// last returns the newest frame of msgType.
func (c *fakeConn) last(msgType string) (map[string]any, bool) {
	frames := c.all()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i]["type"] == msgType {
			return frames[i], true
		}
	}
	return nil, false
}

func (c *fakeConn) waitFor(t *testing.T, msgType string) map[string]any {
	t.Helper()
	var frame map[string]any
	require.Eventually(t, func() bool {
		var ok bool
		frame, ok = c.last(msgType)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "no %s frame, got %v", msgType, c.types())
	return frame
}

type createdMatch struct {
	id      int64
	players map[int]bridge.Player
	handle  bridge.Handle
}

type fakeCreator struct {
	mu      sync.Mutex
	next    int64
	err     error
	created []createdMatch
}

func (f *fakeCreator) NewMatch(_ context.Context, players map[int]bridge.Player, _ int, _ string, handle bridge.Handle) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	f.created = append(f.created, createdMatch{id: f.next, players: players, handle: handle})
	return f.next, nil
}

func (f *fakeCreator) matches() []createdMatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdMatch(nil), f.created...)
}

type memorySink struct {
	mu      sync.Mutex
	records []MatchRecord
}

func (s *memorySink) Record(_ context.Context, rec MatchRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *memorySink) all() []MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MatchRecord(nil), s.records...)
}

func testConfig() config.MatchmakerConfig {
	return config.MatchmakerConfig{
		ScanInterval:       10 * time.Millisecond,
		RankWindow:         100,
		PartyMaxRanked:     2,
		PartyMaxTournament: 4,
		InviteTTL:          time.Minute,
		PublicHost:         "pong.example",
	}
}

func newTestService(t *testing.T, creator MatchCreator, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	svc := NewService(testConfig(), creator, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func connect(t *testing.T, svc *Service, id int64) (*Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	c, err := svc.Connect(context.Background(), conn, ConnectRequest{ID: id, Name: "p", Email: emailOf(id)})
	require.NoError(t, err)
	return c, conn
}

func emailOf(id int64) string {
	return "user" + strconv.FormatInt(id, 10) + "@pong.example"
}

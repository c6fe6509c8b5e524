package gamehost

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
	code   int
	reason string
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("unavailable")
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	return f.CloseWith(1000, "")
}

func (f *fakeTransport) CloseWith(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.code = code
		f.reason = reason
	}
	return nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeTransport) messages(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

// last returns the newest message of msgType, failing when none was sent.
func (f *fakeTransport) last(t *testing.T, msgType string) map[string]any {
	t.Helper()
	msgs := f.messages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	t.Fatalf("no %s message in %v", msgType, msgs)
	return nil
}

func (f *fakeTransport) closeState() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code, f.reason
}

func testConfig() config.Config {
	return config.Config{
		MaxConnectionsPerIP: 200,
		SimulationFPS:       60,
		NetworkTickFPS:      30,
		DisconnectTimeout:   time.Minute,
		LobbyID:             "lobby",
		LobbyPass:           "secret",
		LobbyRetryInterval:  time.Second,
		LobbyQueueMax:       50,
		MaxPayloadBytes:     64 << 10,
	}
}

func newTestHost(t *testing.T, cfg config.Config, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewTestLogger())}, opts...)
	host := New(cfg, config.DefaultGameStats(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
	})
	return host
}

func newTestSession(host *Host) (*session, *fakeTransport) {
	transport := &fakeTransport{}
	return newSession("127.0.0.1", "", transport, host.log), transport
}

func send(t *testing.T, host *Host, sess *session, body map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	host.handleMessage(sess, raw)
}

func attachLobby(t *testing.T, host *Host) (*session, *fakeTransport) {
	t.Helper()
	sess, transport := newTestSession(host)
	send(t, host, sess, map[string]any{"type": TypeConnectLobby, "id": "lobby", "pass": "secret"})
	transport.last(t, TypeLobbyConnected)
	return sess, transport
}

func createMatch(t *testing.T, host *Host, lobby *session, lobbyOut *fakeTransport, first, second int64) int64 {
	t.Helper()
	send(t, host, lobby, map[string]any{
		"type":       TypeNewMatch,
		"requestId":  "req",
		"maxPlayers": 2,
		"players": map[string]any{
			"1": map[string]any{"id": first, "name": "alice"},
			"2": map[string]any{"id": second, "name": "bob"},
		},
	})
	created := lobbyOut.last(t, TypeMatchCreated)
	return int64(created["matchId"].(float64))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

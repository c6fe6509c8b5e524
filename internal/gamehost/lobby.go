package gamehost

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/networking"
)

// LobbyLink holds the single authenticated matchmaker connection and buffers messages sent
// while it is absent.
type LobbyLink struct {
	mu     sync.Mutex
	id     string
	pass   string
	max    int
	now    func() time.Time
	log    *logging.Logger
	active networking.Transport
	queue  [][]byte
	sent   uint64
	drops  uint64
}

// LobbyStats summarises the link for ops endpoints.
type LobbyStats struct {
	Connected bool
	Queued    int
	Sent      uint64
	Dropped   uint64
}

// NewLobbyLink constructs a link accepting the supplied credentials. Empty credentials reject
// every lobby.
func NewLobbyLink(id, pass string, queueMax int, now func() time.Time, logger *logging.Logger) *LobbyLink {
	if queueMax <= 0 {
		queueMax = 1
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}
	return &LobbyLink{id: id, pass: pass, max: queueMax, now: now, log: logger}
}

// Attach authenticates t as the lobby. A second lobby is refused while one is attached.
func (l *LobbyLink) Attach(t networking.Transport, id, pass string) error {
	if l.id == "" || l.pass == "" {
		return ErrPermissionDenied
	}
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(l.id)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(l.pass)) == 1
	if !idOK || !passOK {
		return ErrPermissionDenied
	}

	l.mu.Lock()
	if l.active != nil && l.active != t {
		l.mu.Unlock()
		return ErrPermissionDenied
	}
	l.active = t
	l.mu.Unlock()

	//1.- Acknowledge first, then replay whatever was buffered while detached.
	if err := t.Send(l.stamp(TypeLobbyConnected, nil)); err != nil {
		return err
	}
	l.log.Info("lobby connected")
	l.Flush()
	return nil
}

// Detach forgets t when it is the active lobby.
func (l *LobbyLink) Detach(t networking.Transport) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil || l.active != t {
		return false
	}
	l.active = nil
	l.log.Warn("lobby disconnected", logging.Int("queued", len(l.queue)))
	return true
}

// IsLobby reports whether t is the active lobby.
func (l *LobbyLink) IsLobby(t networking.Transport) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil && l.active == t
}

// Send delivers a typed message to the lobby with a timestamp, queueing it when the link is down.
func (l *LobbyLink) Send(msgType string, fields map[string]any) {
	payload := l.stamp(msgType, fields)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil && len(l.queue) == 0 {
		if err := l.active.Send(payload); err == nil {
			l.sent++
			return
		}
	}
	l.enqueueLocked(payload)
}

// Flush sends queued messages in order, stopping at the first failure.
func (l *LobbyLink) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return
	}
	for len(l.queue) > 0 {
		if err := l.active.Send(l.queue[0]); err != nil {
			l.log.Debug("lobby flush interrupted", logging.Error(err), logging.Int("queued", len(l.queue)))
			return
		}
		l.queue = l.queue[1:]
		l.sent++
	}
}

// Run retries queued messages every interval until ctx is cancelled.
func (l *LobbyLink) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

// Stats returns a copy of the link counters.
func (l *LobbyLink) Stats() LobbyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LobbyStats{Connected: l.active != nil, Queued: len(l.queue), Sent: l.sent, Dropped: l.drops}
}

func (l *LobbyLink) enqueueLocked(payload []byte) {
	//1.- Oldest messages give way once the queue is at capacity.
	if len(l.queue) >= l.max {
		overflow := len(l.queue) - l.max + 1
		l.queue = l.queue[overflow:]
		l.drops += uint64(overflow)
	}
	l.queue = append(l.queue, payload)
}

func (l *LobbyLink) stamp(msgType string, fields map[string]any) []byte {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["timestamp"] = l.now().UnixMilli()
	return encode(msgType, body)
}

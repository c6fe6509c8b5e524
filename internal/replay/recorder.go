package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
)

// Event types written to the replay log.
const (
	EventMatchStarted = "match_started"
	EventMatchEnded   = "match_ended"
	EventMatchAborted = "match_aborted"
)

// session tracks the open bundle of one live match.
type session struct {
	writer  *Writer
	started time.Time
	players []PlayerRef
	seq     uint64
	frames  int64
}

// Recorder keeps one replay bundle open per live match.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	now      func() time.Time
	log      *logging.Logger
	sessions map[int64]*session
	bundles  int64
	frames   int64
	lastDir  string
	lastDump time.Time
}

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	ActiveMatches  int
	RecordedFrames int64
	Bundles        int64
	LastBundle     string
	LastBundleTime time.Time
}

// NewRecorder constructs a replay recorder that writes bundles into dir.
func NewRecorder(dir string, clock func() time.Time, logger *logging.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, now: clock, log: logger, sessions: make(map[int64]*session)}, nil
}

// Start opens the bundle for matchID. Starting an already recorded match is a no-op.
func (r *Recorder) Start(matchID int64, players []PlayerRef) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[matchID]; ok {
		return nil
	}

	writer, _, err := NewWriter(r.dir, matchID, r.now)
	if err != nil {
		return err
	}
	s := &session{writer: writer, started: r.now(), players: append([]PlayerRef(nil), players...)}
	payload, err := json.Marshal(map[string]any{"players": s.players})
	if err != nil {
		writer.Close()
		return err
	}
	if err := writer.AppendEvent(s.next(), 0, EventMatchStarted, payload); err != nil {
		writer.Close()
		return err
	}
	r.sessions[matchID] = s
	r.log.Debug("replay recording started", logging.Int64("match_id", matchID), logging.String("dir", writer.Directory()))
	return nil
}

// RecordSnapshot appends a msgpack encoded snapshot frame.
func (r *Recorder) RecordSnapshot(snapshot match.Snapshot) error {
	if r == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[snapshot.MatchID]
	if !ok {
		return ErrNoSession
	}
	if err := s.writer.AppendFrame(s.next(), r.elapsedMs(s), payload); err != nil {
		return err
	}
	s.frames++
	r.frames++
	return nil
}

// RecordEvent appends a JSON event to the match log.
func (r *Recorder) RecordEvent(matchID int64, eventType string, payload any) error {
	if r == nil {
		return nil
	}
	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[matchID]
	if !ok {
		return ErrNoSession
	}
	return s.writer.AppendEvent(s.next(), r.elapsedMs(s), eventType, raw)
}

// Finish records the final result, writes the header and closes the bundle.
func (r *Recorder) Finish(result match.Result) (string, error) {
	if r == nil {
		return "", nil
	}
	header := Header{
		StartedAt:  result.Time.StartedAt,
		Duration:   result.Time.Duration,
		WinnerSlot: result.Winner(),
	}
	for slot, player := range result.Players {
		header.Players = append(header.Players, PlayerRef{Slot: slot, ID: player.ID, Name: player.Name})
	}
	sort.Slice(header.Players, func(i, j int) bool { return header.Players[i].Slot < header.Players[j].Slot })
	return r.close(result.MatchID, EventMatchEnded, result, &header)
}

// Abort closes the bundle of a match that ended without a result.
func (r *Recorder) Abort(matchID int64, reason string) (string, error) {
	if r == nil {
		return "", nil
	}
	return r.close(matchID, EventMatchAborted, map[string]string{"reason": reason}, nil)
}

func (r *Recorder) close(matchID int64, eventType string, payload any, header *Header) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[matchID]
	if !ok {
		return "", ErrNoSession
	}
	delete(r.sessions, matchID)

	//1.- Log the terminal event before sealing so the timeline is complete.
	var firstErr error
	if err := s.writer.AppendEvent(s.next(), r.elapsedMs(s), eventType, raw); err != nil {
		firstErr = err
	}
	if header == nil {
		header = &Header{Players: s.players}
	}
	s.writer.SetHeader(*header)
	if err := s.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	//2.- Update counters for monitoring endpoints.
	r.bundles++
	r.lastDir = s.writer.Directory()
	r.lastDump = r.now().UTC()
	r.log.Info("replay bundle sealed",
		logging.Int64("match_id", matchID),
		logging.String("event", eventType),
		logging.Int64("frames", s.frames),
		logging.String("dir", r.lastDir),
	)
	return r.lastDir, firstErr
}

// Recording reports whether a bundle is open for matchID.
func (r *Recorder) Recording(matchID int64) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[matchID]
	return ok
}

// CloseAll aborts every open bundle, used during shutdown.
func (r *Recorder) CloseAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if _, err := r.Abort(id, "shutdown"); err != nil {
			r.log.Warn("replay bundle close failed", logging.Int64("match_id", id), logging.Error(err))
		}
	}
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ActiveMatches:  len(r.sessions),
		RecordedFrames: r.frames,
		Bundles:        r.bundles,
		LastBundle:     r.lastDir,
		LastBundleTime: r.lastDump,
	}
}

func (r *Recorder) elapsedMs(s *session) int64 {
	return r.now().Sub(s.started).Milliseconds()
}

func (s *session) next() uint64 {
	s.seq++
	return s.seq
}

// Owns reports whether path is the bundle of a match still being recorded.
func (r *Recorder) Owns(path string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.writer.Directory() == path {
			return true
		}
	}
	return false
}

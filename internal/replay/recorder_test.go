package replay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
)

func newTestRecorder(t *testing.T, clock func() time.Time) *Recorder {
	t.Helper()
	recorder, err := NewRecorder(t.TempDir(), clock, logging.NewTestLogger())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return recorder
}

func TestRecorderSealsBundleWithResult(t *testing.T) {
	current := time.Date(2024, time.March, 9, 14, 5, 7, 0, time.UTC)
	clock := func() time.Time { return current }
	recorder := newTestRecorder(t, clock)

	players := []PlayerRef{{Slot: 1, ID: 7, Name: "alice"}, {Slot: 2, ID: 9, Name: "bob"}}
	if err := recorder.Start(42, players); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := recorder.Start(42, players); err != nil {
		t.Fatalf("second Start must be a no-op: %v", err)
	}
	if !recorder.Recording(42) {
		t.Fatal("expected match 42 to be recording")
	}

	for i := 0; i < 3; i++ {
		current = current.Add(250 * time.Millisecond)
		snapshot := match.Snapshot{
			Type:      match.TypeSnapshot,
			MatchID:   42,
			Timestamp: current.UnixMilli(),
			Players:   map[int]match.PlayerSnapshot{1: {ID: 7, Score: i}},
		}
		if err := recorder.RecordSnapshot(snapshot); err != nil {
			t.Fatalf("RecordSnapshot: %v", err)
		}
	}
	if err := recorder.RecordEvent(42, "goal", map[string]int{"slot": 1}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	result := match.Result{
		MatchID: 42,
		Players: map[int]match.ResultPlayer{
			1: {ID: 7, Name: "alice", Score: 11, Winner: true},
			2: {ID: 9, Name: "bob", Score: 4},
		},
		Time: match.ResultTime{Duration: "03:10", StartedAt: "09/03/2024 | 14:05:07"},
	}
	dir, err := recorder.Finish(result)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if recorder.Recording(42) {
		t.Fatal("finished match still recording")
	}

	loader, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	header, ok := loader.Header()
	if !ok || header.WinnerSlot != 1 || header.Duration != "03:10" || len(header.Players) != 2 || header.Players[0].Slot != 1 {
		t.Fatalf("unexpected header: %+v", header)
	}

	var kinds []string
	var lastScore int
	err = loader.Replay(func(entry TimelineEntry) error {
		if entry.Kind == KindFrame {
			snapshot, err := entry.Snapshot()
			if err != nil {
				return err
			}
			lastScore = snapshot.Players[1].Score
			kinds = append(kinds, "frame")
			return nil
		}
		kinds = append(kinds, entry.EventType)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []string{EventMatchStarted, "frame", "frame", "frame", "goal", EventMatchEnded}
	if len(kinds) != len(want) {
		t.Fatalf("unexpected timeline %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("unexpected timeline %v", kinds)
		}
	}
	if lastScore != 2 {
		t.Fatalf("expected last frame score 2, got %d", lastScore)
	}

	entries := loader.Entries()
	var ended match.Result
	if err := json.Unmarshal(entries[len(entries)-1].Payload, &ended); err != nil {
		t.Fatalf("decode result event: %v", err)
	}
	if ended.Winner() != 1 {
		t.Fatalf("expected winner slot 1 in result event, got %d", ended.Winner())
	}

	stats := recorder.Snapshot()
	if stats.Bundles != 1 || stats.RecordedFrames != 3 || stats.ActiveMatches != 0 || stats.LastBundle != dir {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecorderRejectsUnknownMatch(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	if err := recorder.RecordSnapshot(match.Snapshot{MatchID: 5}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := recorder.Finish(match.Result{MatchID: 5}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestRecorderAbortKeepsPlayers(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	if err := recorder.Start(8, []PlayerRef{{Slot: 1, ID: 1}, {Slot: 2, ID: 2}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := recorder.Start(9, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	recorder.CloseAll()
	if recorder.Snapshot().ActiveMatches != 0 {
		t.Fatal("CloseAll left sessions open")
	}

	dir := recorder.Snapshot().LastBundle
	loader, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entries := loader.Entries()
	if entries[len(entries)-1].EventType != EventMatchAborted {
		t.Fatalf("expected abort event, got %+v", entries[len(entries)-1])
	}
	if _, ok := loader.Header(); !ok {
		t.Fatal("aborted bundle should still be sealed")
	}
}

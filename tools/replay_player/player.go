package replayplayer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"transcendence/pong/internal/replay"
)

// Event is a logged event rendered for inspection.
type Event struct {
	Sequence  uint64 `json:"seq"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Type      string `json:"type"`
	Payload   string `json:"payload,omitempty"`
}

// Goal marks a frame where a slot's score went up.
type Goal struct {
	ElapsedMs int64       `json:"elapsed_ms"`
	Slot      int         `json:"slot"`
	Score     map[int]int `json:"score"`
}

// Summary is the digest of one replay bundle.
type Summary struct {
	Manifest   replay.Manifest `json:"manifest"`
	Header     *replay.Header  `json:"header,omitempty"`
	Frames     int             `json:"frames"`
	Events     []Event         `json:"events"`
	Goals      []Goal          `json:"goals"`
	FinalScore map[int]int     `json:"final_score"`
}

// ReplayBundle loads the bundle at path and walks its timeline to rebuild the scoring history.
func ReplayBundle(path string) (Summary, error) {
	if path == "" {
		return Summary{}, fmt.Errorf("path is required")
	}

	//1.- Accept the manifest path as well as the bundle directory.
	dir := path
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, err
	}
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	loader, err := replay.Load(dir)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Manifest: loader.Manifest(), FinalScore: map[int]int{}}
	if manifestVersion := summary.Manifest.Version; manifestVersion != 1 {
		return Summary{}, fmt.Errorf("unsupported manifest version %d", manifestVersion)
	}
	if header, ok := loader.Header(); ok {
		summary.Header = &header
	}

	//2.- Diff consecutive snapshots so each score bump becomes a goal.
	err = loader.Replay(func(entry replay.TimelineEntry) error {
		if entry.Kind == replay.KindEvent {
			summary.Events = append(summary.Events, Event{
				Sequence:  entry.Sequence,
				ElapsedMs: entry.ElapsedMs,
				Type:      entry.EventType,
				Payload:   string(entry.Payload),
			})
			return nil
		}
		snapshot, err := entry.Snapshot()
		if err != nil {
			return fmt.Errorf("frame %d: %w", entry.Sequence, err)
		}
		summary.Frames++
		slots := make([]int, 0, len(snapshot.Players))
		for slot := range snapshot.Players {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		for _, slot := range slots {
			score := snapshot.Players[slot].Score
			if score > summary.FinalScore[slot] {
				summary.FinalScore[slot] = score
				summary.Goals = append(summary.Goals, Goal{ElapsedMs: entry.ElapsedMs, Slot: slot, Score: copyScore(summary.FinalScore)})
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func copyScore(score map[int]int) map[int]int {
	out := make(map[int]int, len(score))
	for slot, value := range score {
		out[slot] = value
	}
	return out
}

package replay

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"transcendence/pong/internal/match"
)

// Timeline entry kinds.
const (
	KindEvent = "event"
	KindFrame = "frame"
)

// TimelineEntry is one event or frame of a loaded replay.
type TimelineEntry struct {
	Sequence   uint64
	ElapsedMs  int64
	CapturedAt time.Time
	Kind       string
	EventType  string
	Payload    []byte
}

// Snapshot decodes a frame entry back into the broadcast it recorded.
func (e TimelineEntry) Snapshot() (match.Snapshot, error) {
	var snapshot match.Snapshot
	if e.Kind != KindFrame {
		return snapshot, fmt.Errorf("entry %d is not a frame", e.Sequence)
	}
	err := msgpack.Unmarshal(e.Payload, &snapshot)
	return snapshot, err
}

// Loader exposes a replay bundle as an ordered timeline.
type Loader struct {
	manifest Manifest
	header   *Header
	entries  []TimelineEntry
}

// Load reads the bundle stored in dir.
func Load(dir string) (*Loader, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	loader := &Loader{manifest: manifest}

	//1.- The header only exists for bundles that were sealed cleanly.
	header, err := ReadHeader(filepath.Join(dir, HeaderFile))
	switch {
	case err == nil:
		loader.header = &header
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	events, err := readEvents(filepath.Join(dir, manifest.EventsPath))
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	frames, err := readFrames(filepath.Join(dir, manifest.FramesPath))
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	//2.- Both streams share one sequence counter so it fully orders the timeline.
	loader.entries = append(events, frames...)
	sort.SliceStable(loader.entries, func(i, j int) bool {
		return loader.entries[i].Sequence < loader.entries[j].Sequence
	})
	return loader, nil
}

func readEvents(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []TimelineEntry
	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record eventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, err
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event captured_at: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Sequence:   record.Sequence,
			ElapsedMs:  record.ElapsedMs,
			CapturedAt: captured,
			Kind:       KindEvent,
			EventType:  record.Type,
			Payload:    append([]byte(nil), record.Payload...),
		})
	}
	return entries, scanner.Err()
}

func readFrames(path string) ([]TimelineEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var entries []TimelineEntry
	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(decoder, header); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, err
		}
		size := binary.LittleEndian.Uint32(header[24:28])
		payload := make([]byte, size)
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("truncated frame payload: %w", err)
		}
		entries = append(entries, TimelineEntry{
			Sequence:   binary.LittleEndian.Uint64(header[0:8]),
			ElapsedMs:  int64(binary.LittleEndian.Uint64(header[8:16])),
			CapturedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(header[16:24]))).UTC(),
			Kind:       KindFrame,
			Payload:    payload,
		})
	}
}

// Manifest returns the bundle manifest.
func (l *Loader) Manifest() Manifest {
	if l == nil {
		return Manifest{}
	}
	return l.manifest
}

// Header returns the sealed header and whether one was present.
func (l *Loader) Header() (Header, bool) {
	if l == nil || l.header == nil {
		return Header{}, false
	}
	return *l.header, true
}

// Replay iterates over the loaded entries in deterministic order.
func (l *Loader) Replay(apply func(TimelineEntry) error) error {
	if l == nil {
		return fmt.Errorf("loader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range l.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

// Entries exposes a defensive copy of the timeline for external assertions.
func (l *Loader) Entries() []TimelineEntry {
	if l == nil {
		return nil
	}
	out := make([]TimelineEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

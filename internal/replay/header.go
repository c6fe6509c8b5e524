package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for replay header documents.
const HeaderSchemaVersion = 2

// HeaderFile is the name of the header document inside a replay bundle.
const HeaderFile = "header.json"

// PlayerRef identifies one participant of the recorded match.
type PlayerRef struct {
	Slot int    `json:"slot"`
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Header represents the metadata persisted alongside a replay bundle.
type Header struct {
	SchemaVersion int         `json:"schema_version"`
	MatchID       int64       `json:"match_id"`
	Players       []PlayerRef `json:"players,omitempty"`
	StartedAt     string      `json:"started_at,omitempty"`
	Duration      string      `json:"duration,omitempty"`
	WinnerSlot    int         `json:"winner_slot,omitempty"`
	FilePointer   string      `json:"file_pointer"`
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if h.MatchID <= 0 {
		return fmt.Errorf("match_id must be positive")
	}
	//1.- Ensure catalogue tooling can locate the replay artefact reliably.
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	//1.- Terminate with a newline so POSIX tooling can append easily.
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a replay header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}

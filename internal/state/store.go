// Package state persists the current provider/model record shared between
// the service process and the front-end process. The file on disk is the
// single source of truth; writes are atomic (temp file + rename) so a
// concurrent reader never observes a partial record.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/config"
	. "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/paths"
)

// Version is the record schema version.
const Version = "1"

// Source reports where a loaded record came from.
type Source string

const (
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)

// Record is the persisted provider/model state. Exactly one instance is
// authoritative at any time.
type Record struct {
	Provider    string `json:"provider"`
	ModelID     string `json:"model_id"`
	LastUpdated string `json:"last_updated"` // RFC3339
	Version     string `json:"version"`
}

// defaultRecord returns the record created on first run.
func defaultRecord() *Record {
	return &Record{
		Provider:    "anthropic",
		ModelID:     "claude-opus-4-5",
		LastUpdated: time.Now().Format(time.RFC3339),
		Version:     Version,
	}
}

// Store reads and writes the state record at a fixed path. All writes are
// serialized through the store's mutex; cross-process consistency is
// last-writer-wins via the atomic rename.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// NewDefaultStore creates a store at the well-known per-user location.
func NewDefaultStore() (*Store, error) {
	path, err := paths.StatePath()
	if err != nil {
		return nil, err
	}
	return NewStore(path), nil
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes a new record atomically. Empty provider or model IDs are
// rejected before touching the file.
func (s *Store) Save(provider, modelID string) error {
	provider = strings.TrimSpace(provider)
	modelID = strings.TrimSpace(modelID)
	if provider == "" {
		return fmt.Errorf("provider is required")
	}
	if modelID == "" {
		return fmt.Errorf("model_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		Provider:    provider,
		ModelID:     modelID,
		LastUpdated: time.Now().Format(time.RFC3339),
		Version:     Version,
	}
	if err := config.AtomicWriteJSON(s.path, rec, 0600); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	L_debug("state: saved", "provider", provider, "model", modelID)
	return nil
}

// Load reads the current record. A missing file creates and persists the
// default; a structurally invalid file is renamed aside with a .backup
// suffix and replaced by the default. Load never fails on bad content.
func (s *Store) Load() (*Record, Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		rec, werr := s.writeDefault()
		return rec, SourceDefault, werr
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read state file: %w", err)
	}

	var rec Record
	if jerr := json.Unmarshal(data, &rec); jerr != nil {
		L_warn("state: invalid state file, regenerating", "path", s.path, "error", jerr)
		s.backupCorrupt()
		out, werr := s.writeDefault()
		return out, SourceDefault, werr
	}
	if verr := validateRecord(&rec); verr != nil {
		L_warn("state: malformed state record, regenerating", "path", s.path, "error", verr)
		s.backupCorrupt()
		out, werr := s.writeDefault()
		return out, SourceDefault, werr
	}

	return &rec, SourceFile, nil
}

// Validate reports whether the on-disk record is structurally valid,
// without mutating anything.
func (s *Store) Validate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	return validateRecord(&rec) == nil
}

// writeDefault persists and returns the default record. Caller holds s.mu.
func (s *Store) writeDefault() (*Record, error) {
	rec := defaultRecord()
	if err := config.AtomicWriteJSON(s.path, rec, 0600); err != nil {
		L_error("state: failed to persist default record", "error", err)
		return rec, fmt.Errorf("failed to persist default state: %w", err)
	}
	L_info("state: created default record", "provider", rec.Provider, "model", rec.ModelID)
	return rec, nil
}

// backupCorrupt renames the bad file aside so it can be inspected.
// Caller holds s.mu.
func (s *Store) backupCorrupt() {
	backupPath := s.path + ".backup"
	if err := os.Rename(s.path, backupPath); err != nil {
		L_warn("state: failed to back up corrupt file", "path", s.path, "error", err)
		return
	}
	L_info("state: backed up corrupt file", "backup", backupPath)
}

// validateRecord checks the required fields and their shapes.
func validateRecord(rec *Record) error {
	if strings.TrimSpace(rec.Provider) == "" {
		return fmt.Errorf("missing provider")
	}
	if strings.TrimSpace(rec.ModelID) == "" {
		return fmt.Errorf("missing model_id")
	}
	if rec.Version == "" {
		return fmt.Errorf("missing version")
	}
	if rec.LastUpdated != "" {
		if _, err := time.Parse(time.RFC3339, rec.LastUpdated); err != nil {
			return fmt.Errorf("invalid last_updated: %w", err)
		}
	}
	return nil
}

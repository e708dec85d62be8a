// Package state persists per-item progress records so an interrupted run can
// resume without re-doing completed work.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"memories-downloader/pkg/models"
)

// FileName is the persisted-state file kept at the output root
const FileName = "memories-state.json"

// legacyDir is where older releases kept the state file (inside the raw
// downloads area). It is detected and migrated transparently on first load.
const legacyDir = "downloads"

// Store is the durable per-item progress table. Upsert is safe to call
// concurrently from fetch workers; the table is the only structure mutated
// across goroutines.
type Store struct {
	mu      sync.Mutex
	path    string
	legacy  string
	records map[int]*models.PersistedRecord
	logger  *slog.Logger

	migrated bool
}

type stateFile struct {
	LastRun time.Time                 `json:"last_run"`
	Records []*models.PersistedRecord `json:"records"`
}

// NewStore creates a store rooted at the output directory
func NewStore(outputRoot string) *Store {
	return &Store{
		path:    filepath.Join(outputRoot, FileName),
		legacy:  filepath.Join(outputRoot, legacyDir, FileName),
		records: make(map[int]*models.PersistedRecord),
		logger:  slog.Default(),
	}
}

// Load reads the durable table if present. Load fails soft: a missing or
// corrupt file starts the store empty rather than failing the run.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[int]*models.PersistedRecord)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		// Older layout kept the file inside the downloads area
		if legacyData, legacyErr := os.ReadFile(s.legacy); legacyErr == nil {
			s.logger.Info("Migrating state file from legacy location", "from", s.legacy, "to", s.path)
			data = legacyData
			s.migrated = true
			err = nil
		}
	}
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read state file, starting empty", "path", s.path, "error", err)
		}
		return
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warn("State file is corrupt, starting empty", "path", s.path, "error", err)
		return
	}

	for _, record := range file.Records {
		if record == nil {
			continue
		}
		s.records[record.Index] = record
	}
}

// Get returns a shallow copy of the record for an index, or nil
func (s *Store) Get(index int) *models.PersistedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[index]
	if !ok {
		return nil
	}
	copied := *record
	copied.Errors = append([]string(nil), record.Errors...)
	return &copied
}

// Upsert merges the record's non-empty fields into the existing record for
// that index. Fields absent from the incoming record are never deleted.
func (s *Store) Upsert(record *models.PersistedRecord) {
	if record == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[record.Index]
	if !ok {
		copied := *record
		copied.Errors = append([]string(nil), record.Errors...)
		s.records[record.Index] = &copied
		return
	}

	if record.Status != "" {
		existing.Status = record.Status
	}
	if record.MediaType != "" {
		existing.MediaType = record.MediaType
	}
	if record.DownloadedPath != "" {
		existing.DownloadedPath = record.DownloadedPath
	}
	if record.FinalPath != "" {
		existing.FinalPath = record.FinalPath
	}
	if record.ContentHash != "" {
		existing.ContentHash = record.ContentHash
	}
	if len(record.Errors) > 0 {
		existing.Errors = append([]string(nil), record.Errors...)
	}
	if record.Attempts > existing.Attempts {
		existing.Attempts = record.Attempts
	}
	if record.FailureStage != "" {
		existing.FailureStage = record.FailureStage
	}
}

// Save writes the full table atomically with a last-run timestamp. A
// successful save removes a previously migrated legacy file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := stateFile{LastRun: time.Now().UTC()}
	for _, record := range s.records {
		file.Records = append(file.Records, record)
	}
	sort.Slice(file.Records, func(i, j int) bool {
		return file.Records[i].Index < file.Records[j].Index
	})

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	if s.migrated {
		if err := os.Remove(s.legacy); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove legacy state file", "path", s.legacy, "error", err)
		} else {
			s.migrated = false
		}
	}

	return nil
}

// Clear resets the store to empty
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[int]*models.PersistedRecord)
}

// Len returns the number of persisted records
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

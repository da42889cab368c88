// Package store persists scan snapshots as one JSON file per scan id.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
)

// ScanState is the lifecycle of one scan record.
type ScanState string

const (
	StatePending   ScanState = "pending"
	StateRunning   ScanState = "running"
	StateCompleted ScanState = "completed"
	StateFailed    ScanState = "failed"
)

// terminal reports whether a state admits no further transitions.
func (s ScanState) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ScanRecord is the persisted unit: lifecycle status plus, once
// completed, the topology snapshot.
type ScanRecord struct {
	ScanID     string           `json:"scan_id"`
	State      ScanState        `json:"state"`
	SourceType string           `json:"source_type"`
	SourceID   string           `json:"source_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
	Topology   *models.Topology `json:"topology,omitempty"`
}

// ScanSummary is the listing view of a record, without the snapshot.
type ScanSummary struct {
	ScanID     string    `json:"scan_id"`
	State      ScanState `json:"state"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Projects   int       `json:"projects,omitempty"`
}

// SnapshotStore keeps one JSON file per scan under a directory. Writes
// go through a temp file and rename so a crashed writer never leaves a
// half-written record behind. The latest-completed pointer is held in
// memory and rebuilt from disk on open.
type SnapshotStore struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string

	latestCompleted string
}

// NewSnapshotStore opens (creating if needed) a store rooted at dir.
func NewSnapshotStore(fs afero.Fs, dir string) (*SnapshotStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	s := &SnapshotStore{fs: fs, dir: dir}
	if err := s.rebuildLatest(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) path(scanID string) string {
	return filepath.Join(s.dir, scanID+".json")
}

// Save writes a record, replacing any previous state for the scan id.
// Transitions out of a terminal state are rejected.
func (s *SnapshotStore) Save(record ScanRecord) error {
	if record.ScanID == "" {
		return fmt.Errorf("scan record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.readLocked(record.ScanID); err == nil && existing.State.terminal() && existing.State != record.State {
		return fmt.Errorf("scan %s already %s", record.ScanID, existing.State)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scan record: %w", err)
	}

	tmp := s.path(record.ScanID) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing scan record: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path(record.ScanID)); err != nil {
		return fmt.Errorf("committing scan record: %w", err)
	}

	if record.State == StateCompleted {
		s.latestCompleted = record.ScanID
	}
	return nil
}

// Get returns the record for a scan id, or os.ErrNotExist.
func (s *SnapshotStore) Get(scanID string) (ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(scanID)
}

func (s *SnapshotStore) readLocked(scanID string) (ScanRecord, error) {
	data, err := afero.ReadFile(s.fs, s.path(scanID))
	if err != nil {
		return ScanRecord{}, err
	}
	var record ScanRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return ScanRecord{}, fmt.Errorf("decoding scan record %s: %w", scanID, err)
	}
	return record, nil
}

// GetLatestCompleted returns the most recently completed snapshot, or
// os.ErrNotExist when no scan has ever completed.
func (s *SnapshotStore) GetLatestCompleted() (ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestCompleted == "" {
		return ScanRecord{}, os.ErrNotExist
	}
	return s.readLocked(s.latestCompleted)
}

// ListMetadata returns a summary per stored scan, newest first.
func (s *SnapshotStore) ListMetadata() ([]ScanSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot dir: %w", err)
	}

	var summaries []ScanSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		record, err := s.readLocked(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		summary := ScanSummary{
			ScanID:     record.ScanID,
			State:      record.State,
			SourceType: record.SourceType,
			SourceID:   record.SourceID,
			StartedAt:  record.StartedAt,
			FinishedAt: record.FinishedAt,
		}
		if record.Topology != nil {
			summary.Projects = record.Topology.TotalProjects
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

// Delete removes a scan record. Deleting the latest completed scan
// rewinds the pointer to the next newest completed one.
func (s *SnapshotStore) Delete(scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.path(scanID)); err != nil {
		return err
	}
	if s.latestCompleted == scanID {
		s.latestCompleted = ""
		return s.rebuildLatestLocked()
	}
	return nil
}

func (s *SnapshotStore) rebuildLatest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLatestLocked()
}

func (s *SnapshotStore) rebuildLatestLocked() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("listing snapshot dir: %w", err)
	}
	var best ScanRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		record, err := s.readLocked(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || record.State != StateCompleted {
			continue
		}
		if best.ScanID == "" || record.StartedAt.After(best.StartedAt) {
			best = record
		}
	}
	s.latestCompleted = best.ScanID
	return nil
}

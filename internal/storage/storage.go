package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/grocery-tracker/internal/models"
)

// Snapshot is the file layout: the latest record per product URL and the
// latest diagnostic report. Earlier observations are overwritten.
type Snapshot struct {
	Products    map[string]*Observation  `json:"products"`
	Diagnostics *models.DiagnosticReport `json:"diagnostics,omitempty"`
}

type Observation struct {
	Record    models.ProductRecord `json:"record"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SnapshotStore keeps the latest results in a JSON file.
type SnapshotStore struct {
	mu       sync.RWMutex
	snapshot Snapshot
	filename string
}

func NewSnapshotStore(filename string) (*SnapshotStore, error) {
	s := &SnapshotStore{
		snapshot: Snapshot{Products: make(map[string]*Observation)},
		filename: filename,
	}

	// Load existing data if file exists
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

func (s *SnapshotStore) EmitProduct(_ context.Context, record models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.URL == "" {
		return fmt.Errorf("url is required")
	}

	s.snapshot.Products[record.URL] = &Observation{
		Record:    record,
		UpdatedAt: time.Now(),
	}
	return s.save()
}

func (s *SnapshotStore) EmitDiagnostic(_ context.Context, report *models.DiagnosticReport) error {
	if report == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Diagnostics = report
	return s.save()
}

func (s *SnapshotStore) Close() error {
	return nil
}

func (s *SnapshotStore) Get(url string) (models.ProductRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, exists := s.snapshot.Products[url]
	if !exists {
		return models.ProductRecord{}, false
	}
	return obs.Record, true
}

// Records returns the latest record per URL for vendor, or for every vendor
// when vendor is empty, sorted by URL.
func (s *SnapshotStore) Records(vendor string) []models.ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []models.ProductRecord
	for _, obs := range s.snapshot.Products {
		if vendor == "" || obs.Record.Vendor == vendor {
			records = append(records, obs.Record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].URL < records[j].URL
	})
	return records
}

func (s *SnapshotStore) Diagnostics() *models.DiagnosticReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Diagnostics
}

type Stats struct {
	Total   int            `json:"total"`
	Priced  int            `json:"priced"`
	Vendors map[string]int `json:"vendors"`
}

func (s *SnapshotStore) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Total:   len(s.snapshot.Products),
		Vendors: make(map[string]int),
	}
	for _, obs := range s.snapshot.Products {
		stats.Vendors[obs.Record.Vendor]++
		if obs.Record.HasPrice() {
			stats.Priced++
		}
	}
	return stats
}

func (s *SnapshotStore) save() error {
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := s.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filename)
}

func (s *SnapshotStore) Load() error {
	data, err := os.ReadFile(s.filename)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse snapshot %s: %w", s.filename, err)
	}
	if snapshot.Products == nil {
		snapshot.Products = make(map[string]*Observation)
	}
	s.snapshot = snapshot
	return nil
}

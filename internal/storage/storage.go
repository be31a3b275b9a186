// Package storage provides persistent storage for validation runs.
// It uses BoltDB as the underlying storage engine to keep run records
// and their chronograms, so past sessions can be re-scored and compared
// without replaying the EEG data.
//
// The package provides thread-safe operations for storing and
// retrieving runs with efficient per-run chronogram scans and automatic
// bucket management.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/emihelj/cybathlon/internal/chrono"
)

const (
	runsBucket        = "runs"        // Bucket name for run records
	chronogramsBucket = "chronograms" // Bucket name for per-run chronogram entries

	dbFile = "cybathlon-runs.db"
)

// RunRecord describes one finished validation run.
type RunRecord struct {
	ID        string         `json:"id"`
	Recording string         `json:"recording"`
	Models    []string       `json:"models"`
	StartedAt time.Time      `json:"started_at"`
	Summary   chrono.Summary `json:"summary"`
}

// Store provides persistent storage for runs using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(chronogramsBucket)); err != nil {
			return fmt.Errorf("create chronograms bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
// It should be called when the storage is no longer needed to ensure
// proper cleanup of database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun stores a run record and its chronogram in one transaction.
// Chronogram entries are keyed "runID_timestamp_index" so a cursor scan
// over the run's prefix yields them in event order.
func (s *Store) SaveRun(run RunRecord, entries []chrono.Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		if err := tx.Bucket([]byte(runsBucket)).Put([]byte(run.ID), data); err != nil {
			return fmt.Errorf("store run: %w", err)
		}

		b := tx.Bucket([]byte(chronogramsBucket))
		for i, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal entry %d: %w", i, err)
			}
			if err := b.Put([]byte(entryKey(run.ID, e.Timestamp, i)), data); err != nil {
				return fmt.Errorf("store entry %d: %w", i, err)
			}
		}
		return nil
	})
}

// Chronogram retrieves the stored chronogram of a run in event order.
// Returns an empty slice for an unknown run ID.
func (s *Store) Chronogram(runID string) ([]chrono.Entry, error) {
	var entries []chrono.Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(chronogramsBucket)).Cursor()

		prefix := []byte(runID + "_")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var e chrono.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue // Skip malformed records
			}
			entries = append(entries, e)
		}

		return nil
	})

	return entries, err
}

// Runs retrieves every stored run record, ordered by ID.
func (s *Store) Runs() ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(_, v []byte) error {
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return nil // Skip malformed records
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return runs, nil
}

// entryKey builds a chronogram key that sorts by event time within a
// run. Timestamps are fixed to microseconds and zero-padded so the
// lexicographic bucket order matches numeric order.
func entryKey(runID string, ts float64, i int) []byte {
	return []byte(fmt.Sprintf("%s_%013d_%06d", runID, int64(math.Round(ts*1e6)), i))
}

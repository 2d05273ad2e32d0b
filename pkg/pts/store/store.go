// Package store provides a Badger DB-backed index of runs and their
// per-round measurements, so past runs can be listed and re-reported
// without walking their output directories.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/jamesainslie/nvmepts/pkg/pts/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key prefixes for different data types.
const (
	prefixRun         = "r:" // r:<runID> -> Run
	prefixMeasurement = "m:" // m:<runID>:<round>:<rr>:<bs> -> Measurement
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when a run ID prefix matches several runs.
var ErrAmbiguous = errors.New("run ID prefix is ambiguous")

// Store is the results index backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store at the given directory.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening results store: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(id string) []byte {
	return []byte(prefixRun + id)
}

func measurementPrefix(runID string) []byte {
	return []byte(prefixMeasurement + runID + ":")
}

func measurementKey(m *types.Measurement) []byte {
	return []byte(fmt.Sprintf("%s%s:%04d:%03d:%s", prefixMeasurement, m.RunID, m.Round, m.ReadMix, m.BlockSize))
}

// PutRun creates or replaces a run record.
func (s *Store) PutRun(run *types.Run) error {
	if run.ID == "" {
		return errors.New("run has no ID")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.ID), data)
	})
}

// GetRun returns the run with the given ID.
func (s *Store) GetRun(id string) (*types.Run, error) {
	var run types.Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns runs newest first. A limit of 0 or less returns all.
func (s *Store) ListRuns(limit int) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r types.Run
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				runs = append(runs, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Resolve finds a run by "latest", a full ID or a unique ID prefix.
func (s *Store) Resolve(ref string) (*types.Run, error) {
	runs, err := s.ListRuns(0)
	if err != nil {
		return nil, err
	}
	if ref == "latest" {
		if len(runs) == 0 {
			return nil, fmt.Errorf("%w: no runs recorded", ErrNotFound)
		}
		return runs[0], nil
	}

	var match *types.Run
	for _, r := range runs {
		if r.ID == ref {
			return r, nil
		}
		if strings.HasPrefix(r.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguous, ref)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return match, nil
}

// PutMeasurement stores one measurement of a run.
func (s *Store) PutMeasurement(m *types.Measurement) error {
	if m.RunID == "" {
		return errors.New("measurement has no run ID")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding measurement: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(measurementKey(m), data)
	})
}

// Measurements returns every measurement of a run in execution order:
// by round, then read mix and block size as the test loop runs them.
func (s *Store) Measurements(runID string) ([]types.Measurement, error) {
	var out []types.Measurement
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := measurementPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m types.Measurement
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading measurements of %s: %w", runID, err)
	}

	types.SortMeasurements(out)
	return out, nil
}

// DeleteRun removes a run and all its measurements.
func (s *Store) DeleteRun(id string) error {
	if _, err := s.GetRun(id); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := measurementPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting measurements of %s: %w", id, err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if err := wb.Delete(runKey(id)); err != nil {
		return err
	}
	return wb.Flush()
}

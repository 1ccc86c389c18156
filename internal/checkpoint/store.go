// Package checkpoint persists dispatcher progress so an interrupted run
// can resume without reprocessing already-written rows.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// File permissions for checkpoint files.
const filePerm = 0o600

// Sentinel errors for checkpoint loading and validation.
var (
	// ErrInconsistent indicates the checkpoint disagrees with the input or
	// output file on disk, e.g. a stored offset points past end-of-file.
	ErrInconsistent = errors.New("checkpoint inconsistent")
	// ErrCorrupt indicates the checkpoint file exists but does not parse.
	// Whether that is fatal depends on the output file: the caller must
	// not treat it as a plain fresh start when output data exists.
	ErrCorrupt = errors.New("checkpoint unparseable")
)

// Record is the persistent snapshot of tracker progress.
// LastProcessedWorkID is -1 before any output line has been written.
type Record struct {
	LastProcessedWorkID int64  `json:"last_processed_work_id"`
	InputOffset         uint64 `json:"input_offset"`
	OutputOffset        uint64 `json:"output_offset"`
}

// Store reads and writes checkpoint records at a fixed path.
// Writes are atomic: the record is written to a temporary sibling file,
// fsynced, and renamed over the checkpoint path.
type Store struct {
	path string
}

// NewStore creates a store for the given checkpoint path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Write atomically persists the record. The rename is atomic on POSIX,
// so a crash leaves either the old record or the new one, never a
// partial file.
func (s *Store) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := s.path + ".tmp"

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}

	_, writeErr := file.Write(data)
	if writeErr != nil {
		file.Close()

		return fmt.Errorf("write checkpoint temp file: %w", writeErr)
	}

	syncErr := file.Sync()
	if syncErr != nil {
		file.Close()

		return fmt.Errorf("sync checkpoint temp file: %w", syncErr)
	}

	closeErr := file.Close()
	if closeErr != nil {
		return fmt.Errorf("close checkpoint temp file: %w", closeErr)
	}

	renameErr := os.Rename(tmpPath, s.path)
	if renameErr != nil {
		return fmt.Errorf("rename checkpoint: %w", renameErr)
	}

	return nil
}

// Load returns the stored record, or nil when no usable checkpoint
// exists. Absence and emptiness return a nil record and no error; a
// non-empty file that fails to parse returns a nil record together with
// ErrCorrupt. The caller decides whether progress was lost.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var rec Record

	unmarshalErr := json.Unmarshal(data, &rec)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, unmarshalErr)
	}

	return &rec, nil
}

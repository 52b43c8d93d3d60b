// Package completion decides whether an output folder holds a finished result.
//
// New folders carry a state file that moves from pending to complete only
// after every artifact is written. Folders that predate the state file fall
// back to the marker rule: the folder exists and contains the element table.
package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
)

const (
	// MarkerFile is the primary artifact; its presence marks legacy folders done.
	MarkerFile = "elements_data.csv"
	// StateFile holds the explicit completion state of a folder.
	StateFile = ".pbp-state.json"
)

type State string

const (
	Pending  State = "pending"
	Complete State = "complete"
)

// Record is the persisted content of StateFile.
type Record struct {
	State     State     `json:"state"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Load reads the state record of folder. It returns nil, nil when the folder
// has no state file.
func Load(folder string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Clean(folder), StateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state file in %s: %w", folder, err)
	}
	return &rec, nil
}

// IsDone reports whether folder holds a finished result. An unreadable state
// file counts as not done so the file is processed again.
func IsDone(folder string) bool {
	rec, err := Load(folder)
	if err != nil {
		return false
	}
	if rec != nil {
		return rec.State == Complete
	}
	return hasMarker(folder)
}

// IsDoneFor is IsDone restricted to results produced from source. A complete
// folder written for a different source is not done for this one.
func IsDoneFor(folder, source string) bool {
	rec, err := Load(folder)
	if err != nil {
		return false
	}
	if rec != nil {
		return rec.State == Complete && (rec.Source == "" || rec.Source == source)
	}
	return hasMarker(folder)
}

func hasMarker(folder string) bool {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(folder, MarkerFile))
	return err == nil
}

// MarkPending records that artifacts for source are being written to folder.
func MarkPending(folder, source, runID string) error {
	return write(folder, Record{State: Pending, Source: source, RunID: runID})
}

// MarkComplete records that every artifact for source has been written.
func MarkComplete(folder, source, runID string) error {
	return write(folder, Record{State: Complete, Source: source, RunID: runID})
}

func write(folder string, rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := common.WriteFileAtomic(filepath.Join(folder, StateFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s state for %s: %w", rec.State, folder, err)
	}
	return nil
}

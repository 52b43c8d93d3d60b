// Package ledger keeps the set of input files that exhausted their retries.
//
// The file is a JSON array of path strings, rewritten whole on every persist.
// One process owns a ledger at a time: the dispatcher loads it, records
// terminal failures in memory and persists once per worker-pool generation.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
)

// Ledger is an in-memory view of the ledger file. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]struct{}
}

// Load reads the ledger at path. A missing file yields an empty ledger.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]struct{})}

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read error ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, fmt.Errorf("failed to parse error ledger %s: %w", path, err)
	}
	for _, p := range paths {
		l.entries[p] = struct{}{}
	}
	return l, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string {
	return l.path
}

// Contains reports whether path is excluded from scheduling.
func (l *Ledger) Contains(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[path]
	return ok
}

// Record adds path. It returns false if path was already present.
func (l *Ledger) Record(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[path]; ok {
		return false
	}
	l.entries[path] = struct{}{}
	return true
}

// Remove deletes the given paths and returns how many were present.
func (l *Ledger) Remove(paths ...string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range paths {
		if _, ok := l.entries[p]; ok {
			delete(l.entries, p)
			n++
		}
	}
	return n
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]struct{})
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the paths in sorted order.
func (l *Ledger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

func (l *Ledger) sortedLocked() []string {
	out := make([]string, 0, len(l.entries))
	for p := range l.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Persist overwrites the ledger file with the full set.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	paths := l.sortedLocked()
	l.mu.Unlock()

	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal error ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := common.WriteFileAtomic(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to persist error ledger: %w", err)
	}
	return nil
}

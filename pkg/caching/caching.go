// Package caching stores engine responses on disk keyed by document content.
package caching

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
)

const entrySuffix = ".json"

// Cache is a directory of JSON entries. Entries older than ttl are misses;
// a zero ttl never expires them.
type Cache struct {
	path string
	ttl  time.Duration
}

// NewCache creates the cache directory if needed.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{path: path, ttl: ttl}, nil
}

func (c *Cache) entry(k string) string {
	return filepath.Join(c.path, common.ContentHash([]byte(k))+entrySuffix)
}

func (c *Cache) expired(modTime time.Time) bool {
	return c.ttl > 0 && time.Since(modTime) > c.ttl
}

// Get returns the entry for k. Missing, expired and unreadable entries are
// all misses.
func (c *Cache) Get(k string) ([]byte, bool) {
	path := c.entry(k)
	info, err := os.Stat(path)
	if err != nil || c.expired(info.ModTime()) {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores data under k. Concurrent writers of the same key leave one
// complete entry.
func (c *Cache) Set(k string, data []byte) error {
	if err := common.WriteFileAtomic(c.entry(k), data, 0600); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed. It does
// nothing when the cache never expires.
func (c *Cache) Prune() (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(c.path)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !c.expired(info.ModTime()) {
			continue
		}
		if err := os.Remove(filepath.Join(c.path, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to prune %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Path returns the cache directory.
func (c *Cache) Path() string {
	return c.path
}

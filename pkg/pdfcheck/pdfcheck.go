// Package pdfcheck rejects inputs that cannot be a readable PDF before they
// are sent to the partitioning engine.
package pdfcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalid wraps every preflight rejection.
var ErrInvalid = errors.New("invalid pdf")

// Info is what preflight learned about a document.
type Info struct {
	Pages     int
	SizeBytes int64
}

// Check validates path and counts its pages.
func Check(path string) (info Info, err error) {
	if strings.TrimSpace(path) == "" {
		return Info{}, fmt.Errorf("%w: empty path", ErrInvalid)
	}
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: cannot access %s: %w", ErrInvalid, path, err)
	}
	if st.IsDir() {
		return Info{}, fmt.Errorf("%w: %s is a directory", ErrInvalid, path)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return Info{}, fmt.Errorf("%w: %s has extension %q", ErrInvalid, path, ext)
	}

	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			info = Info{}
			err = fmt.Errorf("%w: %s: reader panic: %v", ErrInvalid, path, r)
		}
	}()

	f, r, err := pdf.Open(filepath.Clean(path))
	if err != nil {
		return Info{}, fmt.Errorf("%w: open %s: %w", ErrInvalid, path, err)
	}
	defer func() { _ = f.Close() }()

	pages := r.NumPage()
	if pages < 1 {
		return Info{}, fmt.Errorf("%w: %s has no pages", ErrInvalid, path)
	}
	return Info{Pages: pages, SizeBytes: st.Size()}, nil
}

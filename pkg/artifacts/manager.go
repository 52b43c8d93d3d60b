// Package artifacts turns engine elements into the files stored per output folder.
package artifacts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
	"github.com/dtnitsch/pdf-batch-parser/models"
)

const (
	ElementsCSV  = "elements_data.csv"
	MetadataJSON = "all_elements_metadata.json"
	MetadataHTML = "all_elements_metadata.html"
)

// ErrCopySource marks a failure to copy the source document.
var ErrCopySource = errors.New("source copy failed")

// Result lists what WriteAll produced.
type Result struct {
	Elements    int
	TableGroups int
	TableCSVs   int
	Files       []string
}

// Manager writes the artifact set for one document into its output folder.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a Manager that logs to logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// EnsureFolder creates the output folder. Safe to call repeatedly.
func (m *Manager) EnsureFolder(folder string) error {
	if err := os.MkdirAll(folder, 0750); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	return nil
}

// WriteAll writes every artifact for source. The element table is written
// last so that a folder holding it has everything else as well.
func (m *Manager) WriteAll(folder, source string, elements []models.Element) (*Result, error) {
	res := &Result{Elements: len(elements)}
	record := func(name string) { res.Files = append(res.Files, name) }

	if err := m.EnsureFolder(folder); err != nil {
		return nil, err
	}

	if err := writeMetadataJSON(filepath.Join(folder, MetadataJSON), elements); err != nil {
		return nil, err
	}
	record(MetadataJSON)

	if err := writePageHTML(filepath.Join(folder, MetadataHTML), elements, m.logger); err != nil {
		return nil, err
	}
	record(MetadataHTML)

	tables, err := writeTableGroups(folder, elements, m.logger)
	if err != nil {
		return nil, err
	}
	res.TableGroups = tables.Groups
	res.TableCSVs = len(tables.CSVFiles)
	res.Files = append(res.Files, tables.HTMLFiles...)
	res.Files = append(res.Files, tables.CSVFiles...)

	copyName := filepath.Base(source)
	if err := common.CopyFile(source, filepath.Join(folder, copyName)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCopySource, err)
	}
	record(copyName)

	if err := writeElementsCSV(filepath.Join(folder, ElementsCSV), elements); err != nil {
		return nil, err
	}
	record(ElementsCSV)

	m.logger.Debug("Artifacts written", "folder", folder, "elements", res.Elements, "table_groups", res.TableGroups, "table_csvs", res.TableCSVs)
	return res, nil
}

var invalidFilenameChar = regexp.MustCompile(`[^a-zA-Z0-9\-_]+`)

// safeName makes an engine-provided id usable inside a filename. An id that
// had to be rewritten gets a short hash of the original so that distinct ids
// never share a name.
func safeName(s string) string {
	if s == "" {
		return "unnamed"
	}
	safe := strings.Trim(invalidFilenameChar.ReplaceAllString(s, "_"), "_")
	if safe == s {
		return safe
	}
	if safe == "" {
		safe = "unnamed"
	}
	return safe + "_" + common.ContentHash([]byte(s))[:8]
}

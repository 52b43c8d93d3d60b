// Package report aggregates per-file outcomes into the end-of-run summary.
package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/pipeline"
	"gopkg.in/yaml.v3"
)

// FailedFilesName is written next to the summary when a run has failures.
const FailedFilesName = "failed-files.yaml"

// FailedFile is one entry of failed-files.yaml.
type FailedFile struct {
	Path         string `yaml:"path"`
	ErrorType    string `yaml:"error_type"`
	ErrorMessage string `yaml:"error_message"`
	Attempts     int    `yaml:"attempts"`
}

// FailedFiles is the document root of failed-files.yaml.
type FailedFiles struct {
	RunID       string       `yaml:"run_id,omitempty"`
	FailedFiles []FailedFile `yaml:"failed_files"`
}

// Report is the reconciled outcome of one run. Successful and Failed never
// share a path.
type Report struct {
	RunID      string
	Successful []string
	Failed     []FailedFile
}

// Build reconciles outcomes into a Report. Outcomes cancelled before any
// attempt are left out, since the file was never processed. A path reported
// twice is an error.
func Build(runID string, outcomes []models.Outcome) (*Report, error) {
	r := &Report{RunID: runID}
	seen := make(map[string]models.Status, len(outcomes))

	for _, o := range outcomes {
		if o.Status == models.StatusFailed && o.ErrorType == models.ErrorTypeCancelled && o.Attempts == 0 {
			continue
		}
		if prev, dup := seen[o.Path]; dup {
			return nil, fmt.Errorf("path %s reported twice (%s, then %s)", o.Path, prev, o.Status)
		}
		seen[o.Path] = o.Status

		switch o.Status {
		case models.StatusSuccess, models.StatusSkipped:
			r.Successful = append(r.Successful, o.Path)
		case models.StatusFailed:
			r.Failed = append(r.Failed, failedFile(o))
		default:
			return nil, fmt.Errorf("path %s has unknown status %q", o.Path, o.Status)
		}
	}

	sort.Strings(r.Successful)
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].Path < r.Failed[j].Path })
	return r, nil
}

func failedFile(o models.Outcome) FailedFile {
	f := FailedFile{
		Path:         o.Path,
		ErrorType:    o.ErrorType,
		ErrorMessage: o.Error,
		Attempts:     o.Attempts,
	}
	if f.ErrorType == "" {
		f.ErrorType = pipeline.ClassifyMessage(o.Error)
		if f.ErrorType == "" {
			f.ErrorType = models.ErrorTypeUnknown
		}
	}
	return f
}

// Total is the number of files that reached a terminal outcome.
func (r *Report) Total() int {
	return len(r.Successful) + len(r.Failed)
}

// FailedPaths lists the failed paths in order.
func (r *Report) FailedPaths() []string {
	paths := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		paths[i] = f.Path
	}
	return paths
}

// ExitCode is 0 when nothing failed, 2 when everything failed and 1 otherwise.
func (r *Report) ExitCode() int {
	switch {
	case len(r.Failed) == 0:
		return 0
	case len(r.Successful) == 0:
		return 2
	default:
		return 1
	}
}

// Text renders the plain-text summary.
func (r *Report) Text() string {
	var b strings.Builder
	b.WriteString("PDF Processing Summary Report\n")
	b.WriteString("============================\n")
	fmt.Fprintf(&b, "Total files processed: %d\n", r.Total())
	fmt.Fprintf(&b, "Successfully processed: %d\n", len(r.Successful))
	fmt.Fprintf(&b, "Failed to process: %d\n", len(r.Failed))
	b.WriteString("\nFailed files:\n")
	b.WriteString(strings.Join(r.FailedPaths(), ", "))
	b.WriteString("\n")
	return b.String()
}

// Write stores the summary at reportPath and the failure details next to it.
// A failure list left by an earlier run is removed when this run has none.
func (r *Report) Write(reportPath string) error {
	if err := os.MkdirAll(filepath.Dir(reportPath), 0750); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := common.WriteFileAtomic(reportPath, []byte(r.Text()), 0644); err != nil {
		return fmt.Errorf("failed to write summary report: %w", err)
	}

	failedPath := filepath.Join(filepath.Dir(reportPath), FailedFilesName)
	if len(r.Failed) == 0 {
		if err := os.Remove(failedPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale failed files list: %w", err)
		}
		return nil
	}

	yamlBytes, err := yaml.Marshal(&FailedFiles{RunID: r.RunID, FailedFiles: r.Failed})
	if err != nil {
		return fmt.Errorf("failed to marshal failed files to YAML: %w", err)
	}
	if err := os.WriteFile(failedPath, yamlBytes, 0600); err != nil {
		return fmt.Errorf("failed to write failed files list: %w", err)
	}
	return nil
}

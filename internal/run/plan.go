package run

import (
	"fmt"
	"log/slog"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/classifier"
	"github.com/dtnitsch/pdf-batch-parser/pkg/completion"
	"github.com/dtnitsch/pdf-batch-parser/pkg/ledger"
)

// Plan splits discovered files into work and the reasons others were left out.
type Plan struct {
	Discovered int
	// Work is dispatched first. No two entries share an output folder.
	Work []string
	// Overwrites claim a folder already claimed by an earlier file. The n-th
	// later claimant of a folder lands in Overwrites[n-1], and each wave runs
	// only after the previous one has finished.
	Overwrites [][]string
	// Duplicates are terminal failures decided without processing.
	Duplicates []models.Outcome

	SkippedDone   []string
	SkippedSource []string
	SkippedLedger []string
}

// Dispatchable is the number of files that will get an outcome this run.
func (p *Plan) Dispatchable() int {
	n := len(p.Work) + len(p.Duplicates)
	for _, wave := range p.Overwrites {
		n += len(wave)
	}
	return n
}

// Generations returns the work lists to run one after another.
func (p *Plan) Generations() [][]string {
	return append([][]string{p.Work}, p.Overwrites...)
}

// BuildPlan filters paths through the ledger and the completion state and
// resolves files that map to the same output folder.
func BuildPlan(paths []string, c *classifier.Classifier, l *ledger.Ledger, onDuplicate string, logger *slog.Logger, m metrics.Collector) *Plan {
	plan := &Plan{Discovered: len(paths)}
	claimed := make(map[string]string)
	claims := make(map[string]int)

	for _, path := range paths {
		if l.Contains(path) {
			logger.Info("Skipping file listed in error ledger", "path", path)
			plan.SkippedLedger = append(plan.SkippedLedger, path)
			m.Skipped(metrics.SkipLedger)
			continue
		}

		folder := c.OutputFolder(path)
		if completion.IsDone(folder) {
			if rec, err := completion.Load(folder); err == nil && rec != nil && rec.Source != "" && rec.Source != path {
				logger.Warn("Output folder was completed from a different source, skipping",
					"path", path, "folder", folder, "source", rec.Source)
				plan.SkippedSource = append(plan.SkippedSource, path)
				m.Skipped(metrics.SkipSource)
				continue
			}
			logger.Info("Skipping already processed file", "path", path, "folder", folder)
			plan.SkippedDone = append(plan.SkippedDone, path)
			m.Skipped(metrics.SkipDone)
			continue
		}

		key := c.Classify(path).Key()
		first, dup := claimed[key]
		if !dup {
			claimed[key] = path
			claims[key] = 1
			plan.Work = append(plan.Work, path)
			continue
		}

		if onDuplicate == models.OnDuplicateOverwrite {
			wave := claims[key] - 1
			claims[key]++
			if wave == len(plan.Overwrites) {
				plan.Overwrites = append(plan.Overwrites, nil)
			}
			logger.Warn("Duplicate identity, will overwrite output folder", "path", path, "folder", folder, "first", first)
			plan.Overwrites[wave] = append(plan.Overwrites[wave], path)
			continue
		}
		msg := fmt.Sprintf("duplicate identity %s: output folder already claimed by %s", key, first)
		logger.Error("Duplicate identity", "path", path, "folder", folder, "first", first)
		plan.Duplicates = append(plan.Duplicates, models.Outcome{
			Path:         path,
			Status:       models.StatusFailed,
			Error:        msg,
			ErrorType:    models.ErrorTypeDuplicate,
			OutputFolder: folder,
		})
	}

	return plan
}

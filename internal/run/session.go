package run

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/db"
	"github.com/dtnitsch/pdf-batch-parser/pkg/ledger"
	"github.com/dtnitsch/pdf-batch-parser/pkg/report"
)

// Session owns the shared state of one run: the error ledger, the run
// history and the collected outcomes. It is the only writer of the ledger.
type Session struct {
	ID   string
	Mode string

	cfg     *models.Config
	ledger  *ledger.Ledger
	history *db.DB
	metrics metrics.Collector
	logger  *slog.Logger
	started time.Time

	mu       sync.Mutex
	plan     *Plan
	outcomes []models.Outcome
}

// OpenSession loads the ledger and registers the run in the history database.
func OpenSession(cfg *models.Config, runID, mode string, logger *slog.Logger, m metrics.Collector) (*Session, error) {
	l, err := ledger.Load(cfg.LedgerPath())
	if err != nil {
		return nil, err
	}

	history, err := db.Open(cfg.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	s := &Session{
		ID:      runID,
		Mode:    mode,
		cfg:     cfg,
		ledger:  l,
		history: history,
		metrics: m,
		logger:  logger,
		started: time.Now(),
	}
	if err := history.CreateRun(runID, mode, cfg.Classifier, s.started); err != nil {
		_ = history.Close()
		return nil, err
	}

	logger.Info("Run started", "run_id", runID, "mode", mode, "ledger_entries", l.Len())
	return s, nil
}

// Ledger returns the run's error ledger.
func (s *Session) Ledger() *ledger.Ledger {
	return s.ledger
}

// SetPlan records the plan and absorbs its pre-decided failures.
func (s *Session) SetPlan(p *Plan) error {
	s.mu.Lock()
	s.plan = p
	s.mu.Unlock()

	s.logger.Info("Work planned",
		"run_id", s.ID,
		"discovered", p.Discovered,
		"dispatchable", p.Dispatchable(),
		"skipped_done", len(p.SkippedDone)+len(p.SkippedSource),
		"skipped_ledger", len(p.SkippedLedger),
		"duplicates", len(p.Duplicates),
	)
	if len(p.Duplicates) == 0 {
		return nil
	}
	return s.Absorb(p.Duplicates)
}

// ledgered reports whether a failure belongs in the error ledger. Cancelled
// work, identity clashes and work no worker picked up are not the file's fault.
func ledgered(o models.Outcome) bool {
	if !o.Failed() {
		return false
	}
	switch o.ErrorType {
	case models.ErrorTypeCancelled, models.ErrorTypeDuplicate, models.ErrorTypeUndelivered:
		return false
	}
	return true
}

// Absorb takes the outcomes of one worker-pool generation, records them and
// persists the ledger once.
func (s *Session) Absorb(outcomes []models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := 0
	for _, o := range outcomes {
		s.outcomes = append(s.outcomes, o)

		notStarted := o.ErrorType == models.ErrorTypeCancelled && o.Attempts == 0
		if !notStarted {
			s.metrics.FileProcessed(string(o.Status))
		}
		for i := 0; i < o.Attempts; i++ {
			s.metrics.Attempt()
		}
		if o.Duration > 0 {
			s.metrics.ObserveDuration(o.Duration.Seconds())
		}

		if err := s.history.RecordOutcome(s.ID, o); err != nil {
			s.logger.Warn("Failed to record outcome in history", "path", o.Path, "error", err)
		}

		if ledgered(o) && s.ledger.Record(o.Path) {
			recorded++
			s.logger.Info("Recorded terminal failure in error ledger", "path", o.Path, "error_type", o.ErrorType)
		}
	}

	if recorded == 0 {
		return nil
	}
	if err := s.ledger.Persist(); err != nil {
		return fmt.Errorf("failed to persist error ledger: %w", err)
	}
	return nil
}

// Outcomes returns a copy of everything absorbed so far.
func (s *Session) Outcomes() []models.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Outcome(nil), s.outcomes...)
}

// Close writes the run report, finalizes the history row and releases the
// database.
func (s *Session) Close() (*report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.history.Close()

	rep, err := report.Build(s.ID, s.outcomes)
	if err != nil {
		return nil, err
	}
	if err := rep.Write(s.cfg.ReportPath()); err != nil {
		return nil, err
	}

	stats := db.RunStats{
		Dispatched:   rep.Total(),
		SuccessCount: len(rep.Successful),
		FailedCount:  len(rep.Failed),
	}
	if s.plan != nil {
		stats.Discovered = s.plan.Discovered
		stats.SkippedDone = len(s.plan.SkippedDone) + len(s.plan.SkippedSource)
		stats.SkippedLedger = len(s.plan.SkippedLedger)
	}
	if err := s.history.FinishRun(s.ID, stats, time.Now()); err != nil {
		s.logger.Warn("Failed to finish run in history", "run_id", s.ID, "error", err)
	}

	s.logger.Info("Run finished",
		"run_id", s.ID,
		"total", rep.Total(),
		"successful", len(rep.Successful),
		"failed", len(rep.Failed),
		"top_errors", rep.TopErrorTypes(3),
		"skipped_done", stats.SkippedDone,
		"skipped_ledger", stats.SkippedLedger,
		"duration", time.Since(s.started).String(),
	)
	return rep, nil
}

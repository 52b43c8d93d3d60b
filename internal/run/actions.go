package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dtnitsch/pdf-batch-parser/internal/logging"
	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/report"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// Executor drives planned work to terminal outcomes, handing each finished
// generation to the session.
type Executor interface {
	Execute(ctx context.Context, sess *Session, plan *Plan) error
}

// ExecutorFactory builds the Executor for one run.
type ExecutorFactory func(c *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, m metrics.Collector) (Executor, error)

// NewRunAction returns the `run` action. Runs configured with
// dispatch: distributed are handed to distributed.
func NewRunAction(distributed ExecutorFactory) cli.ActionFunc {
	return func(c *cli.Context) error {
		return Execute(c, "", func(c *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, m metrics.Collector) (Executor, error) {
			if cfg.Dispatch == models.DispatchDistributed {
				return distributed(c, cfg, runID, logger, m)
			}
			return NewLocalExecutor(c, cfg, runID, logger, m)
		})
	}
}

// Execute is the shared run lifecycle: load and validate the config, plan
// the work, execute it and report. mode overrides the configured dispatch
// when set.
func Execute(c *cli.Context, mode string, factory ExecutorFactory) error {
	cfg, err := LoadConfig(c)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Dispatch = mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger, closeLog, err := logging.NewWithFile(logging.Level(c), cfg.LogPath())
	if err != nil {
		return err
	}
	defer closeLog()

	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rep *report.Report
	err = WithMetrics(ctx, cfg, logger, func(ctx context.Context, m metrics.Collector) error {
		var runErr error
		rep, runErr = runOnce(ctx, c, cfg, runID, logger, m, factory)
		return runErr
	})
	if err != nil {
		return err
	}

	fmt.Print(rep.Text())
	if len(rep.Failed) > 0 {
		fmt.Printf("\nTip: failures are listed in %s\n", filepath.Join(filepath.Dir(cfg.ReportPath()), report.FailedFilesName))
	}
	if ctx.Err() != nil {
		return cli.Exit("run interrupted before all files were processed", 130)
	}
	if code := rep.ExitCode(); code != 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files failed", len(rep.Failed), rep.Total()), code)
	}
	return nil
}

func runOnce(ctx context.Context, c *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, m metrics.Collector, factory ExecutorFactory) (*report.Report, error) {
	paths, err := Discover(cfg.InputDir, cfg.InputExtension, cfg.SkipDirs, logger)
	if err != nil {
		return nil, err
	}
	cls, err := NewClassifier(cfg)
	if err != nil {
		return nil, err
	}

	sess, err := OpenSession(cfg, runID, cfg.Dispatch, logger, m)
	if err != nil {
		return nil, err
	}

	execErr := func() error {
		plan := BuildPlan(paths, cls, sess.Ledger(), cfg.OnDuplicate, logger, m)
		if err := sess.SetPlan(plan); err != nil {
			return err
		}

		exec, err := factory(c, cfg, runID, logger, m)
		if err != nil {
			return err
		}
		return exec.Execute(ctx, sess, plan)
	}()

	rep, closeErr := sess.Close()
	if err := errors.Join(execErr, closeErr); err != nil {
		return nil, err
	}
	return rep, nil
}

// ClassifyAction prints where each argument would be written.
func ClassifyAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("classify needs at least one file", 1)
	}
	cfg, err := LoadConfig(c)
	if err != nil {
		return err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	cls, err := NewClassifier(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Classifier: %s\n\n", cls.Strategy())
	fmt.Printf("%-40s %-30s %-8s %s\n", "FILE", "ENTITY", "YEAR", "FOLDER")
	fmt.Println(strings.Repeat("-", 120))
	for _, arg := range c.Args().Slice() {
		id := cls.Classify(arg)
		fmt.Printf("%-40s %-30s %-8s %s\n", truncate(filepath.Base(arg), 40), truncate(id.Entity, 30), id.Year, cls.OutputFolder(arg))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package run

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/urfave/cli/v2"
)

// LocalExecutor runs every generation of a plan on the in-process worker
// pool.
type LocalExecutor struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewLocalExecutor builds the pipeline and worker pool from cfg.
func NewLocalExecutor(c *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, _ metrics.Collector) (Executor, error) {
	p, err := NewPipeline(cfg, runID, logger)
	if err != nil {
		return nil, err
	}
	var progress io.Writer = os.Stderr
	if c != nil && c.Bool("quiet") {
		progress = nil
	}
	return &LocalExecutor{
		dispatcher: NewDispatcher(p, cfg.EffectiveWorkers(), cfg.BatchSize, logger, progress),
		logger:     logger,
	}, nil
}

// Execute runs the plan's generations in order. Each generation is absorbed
// before the next one starts.
func (e *LocalExecutor) Execute(ctx context.Context, sess *Session, plan *Plan) error {
	for i, gen := range plan.Generations() {
		if len(gen) == 0 {
			continue
		}
		if i > 0 {
			e.logger.Info("Starting overwrite wave", "wave", i, "files", len(gen))
		}
		if err := sess.Absorb(e.dispatcher.Run(ctx, gen)); err != nil {
			return err
		}
	}
	return nil
}

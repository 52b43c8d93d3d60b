// Package pipeline processes a single input file into its output folder.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/common"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/artifacts"
	"github.com/dtnitsch/pdf-batch-parser/pkg/caching"
	"github.com/dtnitsch/pdf-batch-parser/pkg/classifier"
	"github.com/dtnitsch/pdf-batch-parser/pkg/completion"
	"github.com/dtnitsch/pdf-batch-parser/pkg/engine"
	"github.com/dtnitsch/pdf-batch-parser/pkg/langdetect"
	"github.com/dtnitsch/pdf-batch-parser/pkg/pdfcheck"
)

// Options configures a Pipeline.
type Options struct {
	Engine      engine.Options
	MaxAttempts int
	// RetryDelay is the pause between attempts. Zero retries immediately.
	RetryDelay time.Duration
	Preflight  bool
	// Detector tags elements with a language when set.
	Detector *langdetect.Detector
	// Cache reuses engine responses for identical documents when set.
	Cache *caching.Cache
	RunID string
}

// Result describes one successful attempt.
type Result struct {
	Skipped      bool
	OutputFolder string
	Elements     int
	Artifacts    *artifacts.Result
}

// Pipeline runs the engine for one file and writes its artifacts.
type Pipeline struct {
	classifier *classifier.Classifier
	engine     engine.Partitioner
	artifacts  *artifacts.Manager
	opts       Options
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New returns a Pipeline.
func New(c *classifier.Classifier, p engine.Partitioner, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Pipeline{
		classifier: c,
		engine:     p,
		artifacts:  artifacts.NewManager(logger),
		opts:       opts,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Process makes one attempt at path. A folder already completed from the
// same source is reported as skipped without calling the engine.
func (p *Pipeline) Process(ctx context.Context, path string) (*Result, error) {
	folder := p.classifier.OutputFolder(path)
	if folder == "" {
		return nil, &ProcessingError{Path: path, Stage: StageClassify, Err: errors.New("empty output folder")}
	}
	if completion.IsDoneFor(folder, path) {
		p.logger.Info("Output already complete, skipping", "path", path, "folder", folder)
		return &Result{Skipped: true, OutputFolder: folder}, nil
	}

	if p.opts.Preflight {
		info, err := pdfcheck.Check(path)
		if err != nil {
			return nil, &ProcessingError{Path: path, Stage: StagePreflight, Err: err}
		}
		p.logger.Debug("Preflight passed", "path", path, "pages", info.Pages, "size_bytes", info.SizeBytes)
	}

	if err := p.artifacts.EnsureFolder(folder); err != nil {
		return nil, &ProcessingError{Path: path, Stage: StageState, Err: err}
	}
	if err := completion.MarkPending(folder, path, p.opts.RunID); err != nil {
		return nil, &ProcessingError{Path: path, Stage: StageState, Err: err}
	}

	elements, err := p.partition(ctx, path)
	if err != nil {
		return nil, &ProcessingError{Path: path, Stage: StageEngine, Err: err}
	}
	if p.opts.Detector != nil {
		n := p.opts.Detector.Annotate(elements)
		p.logger.Debug("Tagged element languages", "path", path, "tagged", n)
	}

	written, err := p.artifacts.WriteAll(folder, path, elements)
	if err != nil {
		stage := StageArtifacts
		if errors.Is(err, artifacts.ErrCopySource) {
			stage = StageCopy
		}
		return nil, &ProcessingError{Path: path, Stage: stage, Err: err}
	}

	if err := completion.MarkComplete(folder, path, p.opts.RunID); err != nil {
		return nil, &ProcessingError{Path: path, Stage: StageState, Err: err}
	}

	return &Result{OutputFolder: folder, Elements: len(elements), Artifacts: written}, nil
}

// partition calls the engine, going through the response cache when one is
// configured. Cache failures only cost a fresh engine call.
func (p *Pipeline) partition(ctx context.Context, path string) ([]models.Element, error) {
	if p.opts.Cache == nil {
		return p.engine.Partition(ctx, path, p.opts.Engine)
	}

	hash, err := common.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	key := strings.Join([]string{hash, p.opts.Engine.Strategy, strings.Join(p.opts.Engine.OCRLanguages, "+")}, "|")
	if data, ok := p.opts.Cache.Get(key); ok {
		var elements []models.Element
		if err := json.Unmarshal(data, &elements); err == nil {
			p.logger.Debug("Engine response served from cache", "path", path, "elements", len(elements))
			return elements, nil
		}
		p.logger.Warn("Ignoring unreadable cache entry", "path", path)
	}

	elements, err := p.engine.Partition(ctx, path, p.opts.Engine)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(elements); err == nil {
		if err := p.opts.Cache.Set(key, data); err != nil {
			p.logger.Warn("Failed to cache engine response", "path", path, "error", err)
		}
	}
	return elements, nil
}

// ProcessWithRetry calls Process up to MaxAttempts times and returns the
// terminal outcome. An outcome with zero attempts was cancelled before it
// started.
func (p *Pipeline) ProcessWithRetry(ctx context.Context, path string) models.Outcome {
	start := time.Now()
	out := models.Outcome{Path: path, OutputFolder: p.classifier.OutputFolder(path)}
	maxAttempts := p.opts.MaxAttempts

	var lastErr error
	var delay time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		out.Attempts = attempt
		res, err := p.Process(ctx, path)
		if err == nil {
			out.Status = models.StatusSuccess
			if res.Skipped {
				out.Status = models.StatusSkipped
			}
			out.OutputFolder = res.OutputFolder
			if hash, herr := common.FileHash(path); herr == nil {
				out.ContentHash = hash
			} else {
				p.logger.Warn("Failed to hash source", "path", path, "error", herr)
			}
			out.Duration = time.Since(start)
			return out
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}

		p.logger.Warn("Processing attempt failed",
			"path", path,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"stage", stageOf(err),
			"error", err,
		)

		if attempt < maxAttempts {
			delay = p.retryDelay(delay, err)
			if delay > 0 {
				if err := p.sleep(ctx, delay); err != nil {
					lastErr = err
					break
				}
			}
		}
	}

	out.Status = models.StatusFailed
	out.Duration = time.Since(start)
	if lastErr != nil {
		out.Error = lastErr.Error()
	}
	out.ErrorType = ClassifyError(lastErr)
	if out.ErrorType == models.ErrorTypeCancelled {
		p.logger.Info("Processing cancelled", "path", path, "attempts", out.Attempts)
	} else {
		p.logger.Error("File failed after all attempts",
			"path", path,
			"attempts", out.Attempts,
			"error_type", out.ErrorType,
			"error", out.Error,
		)
	}
	return out
}

// retryDelay grows the delay with jitter for transient engine failures and
// keeps it fixed for everything else.
func (p *Pipeline) retryDelay(prev time.Duration, err error) time.Duration {
	if p.opts.RetryDelay <= 0 {
		return 0
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) && engErr.Transient() {
		return jitterBackoff(prev, p.opts.RetryDelay, 3.0, maxRetryDelay, nil)
	}
	return p.opts.RetryDelay
}

func stageOf(err error) Stage {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr.Stage
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

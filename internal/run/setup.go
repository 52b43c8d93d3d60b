package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/caching"
	"github.com/dtnitsch/pdf-batch-parser/pkg/classifier"
	"github.com/dtnitsch/pdf-batch-parser/pkg/engine"
	"github.com/dtnitsch/pdf-batch-parser/pkg/langdetect"
	"github.com/dtnitsch/pdf-batch-parser/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// LoadConfig reads --config and applies the command line overrides. The
// result is not validated.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	path := c.String("config")
	if path == "" {
		path = models.DefaultConfigPath
	}
	cfg, err := models.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if c.IsSet("workers") {
		cfg.NumWorkers = c.Int("workers")
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("retries") {
		cfg.RetryAttempts = c.Int("retries")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	return cfg, nil
}

// NewClassifier builds the configured path classifier.
func NewClassifier(cfg *models.Config) (*classifier.Classifier, error) {
	strategy, err := classifier.ParseStrategy(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	return classifier.New(strategy, cfg.OutputDir), nil
}

// NewPipeline wires the engine client, classifier and optional language
// detector into a single-file pipeline.
func NewPipeline(cfg *models.Config, runID string, logger *slog.Logger) (*pipeline.Pipeline, error) {
	cls, err := NewClassifier(cfg)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Engine:      engine.DefaultOptions(cfg.Engine.Strategy, cfg.Engine.OCRLanguages),
		MaxAttempts: cfg.RetryAttempts,
		RetryDelay:  cfg.RetryDelay,
		Preflight:   cfg.Preflight,
		RunID:       runID,
	}
	if cfg.DetectLanguages {
		d, err := langdetect.New(cfg.Engine.OCRLanguages)
		if err != nil {
			return nil, fmt.Errorf("failed to build language detector: %w", err)
		}
		opts.Detector = d
	}

	if cfg.Engine.CacheDir != "" {
		cache, err := caching.NewCache(cfg.Engine.CacheDir, cfg.Engine.CacheTTL)
		if err != nil {
			return nil, err
		}
		pruned, err := cache.Prune()
		if err != nil {
			logger.Warn("Failed to prune engine cache", "dir", cache.Path(), "error", err)
		}
		opts.Cache = cache
		logger.Info("Engine response cache enabled", "dir", cache.Path(), "ttl", cfg.Engine.CacheTTL.String(), "pruned", pruned)
	}

	client := engine.NewClient(cfg.Engine.URL, cfg.Engine.APIKey, cfg.Engine.Timeout)
	return pipeline.New(cls, client, opts, logger), nil
}

// WithMetrics runs fn with a metrics collector. When metrics_addr is set the
// collector is Prometheus-backed and served until fn returns.
func WithMetrics(ctx context.Context, cfg *models.Config, logger *slog.Logger, fn func(ctx context.Context, m metrics.Collector) error) error {
	if cfg.MetricsAddr == "" {
		return fn(ctx, metrics.NewNop())
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg, "")

	serveCtx, stopServe := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
		if err := metrics.Serve(gctx, cfg.MetricsAddr, reg); err != nil {
			logger.Error("Metrics server stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopServe()
		return fn(ctx, collector)
	})
	return g.Wait()
}

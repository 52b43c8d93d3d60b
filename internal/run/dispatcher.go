package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/schollz/progressbar/v3"
)

// Processor handles one file to a terminal outcome.
type Processor interface {
	ProcessWithRetry(ctx context.Context, path string) models.Outcome
}

// Batch is a fixed slice of the work list owned by one worker.
type Batch struct {
	ID    int
	Paths []string
}

// BatchResult is what a worker returns for one batch.
type BatchResult struct {
	ID       int
	Outcomes []models.Outcome
}

// Dispatcher runs work on a bounded pool of local workers.
type Dispatcher struct {
	proc      Processor
	workers   int
	batchSize int
	logger    *slog.Logger
	progress  io.Writer
}

// NewDispatcher returns a Dispatcher. A nil progress writer disables the
// progress bar.
func NewDispatcher(proc Processor, workers, batchSize int, logger *slog.Logger, progress io.Writer) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Dispatcher{proc: proc, workers: workers, batchSize: batchSize, logger: logger, progress: progress}
}

// MakeBatches partitions paths into consecutive batches of at most size.
func MakeBatches(paths []string, size int) []Batch {
	var batches []Batch
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batches = append(batches, Batch{ID: len(batches) + 1, Paths: paths[start:end]})
	}
	return batches
}

// Run processes paths and returns one outcome per path. Batch results are
// collected in completion order.
func (d *Dispatcher) Run(ctx context.Context, paths []string) []models.Outcome {
	batches := MakeBatches(paths, d.batchSize)
	if len(batches) == 0 {
		return nil
	}
	workers := min(d.workers, len(batches))

	d.logger.Info("Starting local dispatch", "files", len(paths), "batches", len(batches), "workers", workers, "batch_size", d.batchSize)
	var wg sync.WaitGroup
	jobs := make(chan Batch, len(batches))
	results := make(chan BatchResult, len(batches))

	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go worker(ctx, w, d.logger, d.proc, &wg, jobs, results)
	}

	for _, b := range batches {
		jobs <- b
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	bar := d.newBar(len(paths))
	all := make([]models.Outcome, 0, len(paths))
	for result := range results {
		all = append(all, result.Outcomes...)
		failed := 0
		for _, o := range result.Outcomes {
			if o.Failed() {
				failed++
			}
		}
		d.logger.Info("Batch finished", "batch", result.ID, "files", len(result.Outcomes), "failed", failed)
		if bar != nil {
			_ = bar.Add(len(result.Outcomes))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	d.logger.Info("All local workers finished")
	return all
}

func (d *Dispatcher) newBar(total int) *progressbar.ProgressBar {
	if d.progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(d.progress),
		progressbar.OptionSetDescription("Processing PDFs"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(d.progress, "\n")
		}),
	)
}

// worker processes each batch it receives sequentially. Once ctx is done the
// remaining files of the batch are returned as cancelled without attempts.
func worker(ctx context.Context, id int, logger *slog.Logger, proc Processor, wg *sync.WaitGroup, jobs <-chan Batch, results chan<- BatchResult) {
	defer wg.Done()
	name := fmt.Sprintf("local-%d", id)

	for b := range jobs {
		logger.Debug("Worker picked up batch", "worker_id", id, "batch", b.ID, "files", len(b.Paths))
		outcomes := make([]models.Outcome, 0, len(b.Paths))
		for _, path := range b.Paths {
			if err := ctx.Err(); err != nil {
				outcomes = append(outcomes, models.Outcome{
					Path:      path,
					Status:    models.StatusFailed,
					Error:     err.Error(),
					ErrorType: models.ErrorTypeCancelled,
					Worker:    name,
				})
				continue
			}
			o := proc.ProcessWithRetry(ctx, path)
			o.Worker = name
			outcomes = append(outcomes, o)
		}
		results <- BatchResult{ID: b.ID, Outcomes: outcomes}
	}
}

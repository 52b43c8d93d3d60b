package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/internal/run"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/nats-io/nats.go"
)

// DefaultRequestTimeout is how long a worker waits for a reply to READY.
const DefaultRequestTimeout = 30 * time.Second

// Worker pulls files from a coordinator until told DONE.
type Worker struct {
	ID             string
	RequestTimeout time.Duration
	// HeartbeatEvery is the interval of lease heartbeats while a file is
	// being processed.
	HeartbeatEvery time.Duration

	nc            *nats.Conn
	proc          run.Processor
	metrics       metrics.Collector
	subject       string
	resultSubject string
	logger        *slog.Logger
}

// NewWorker returns a Worker heartbeating at a third of the lease timeout.
func NewWorker(id string, nc *nats.Conn, proc run.Processor, cfg models.NATSConfig, leaseTimeout time.Duration, logger *slog.Logger, m metrics.Collector) *Worker {
	every := leaseTimeout / 3
	if every <= 0 {
		every = defaultLeaseTimeout / 3
	}
	return &Worker{
		ID:             id,
		RequestTimeout: DefaultRequestTimeout,
		HeartbeatEvery: every,
		nc:             nc,
		proc:           proc,
		metrics:        m,
		subject:        cfg.Subject,
		resultSubject:  cfg.ResultSubject,
		logger:         logger,
	}
}

// Run loops READY, process, report until the coordinator replies DONE, goes
// away, or ctx is done. It returns the number of files processed.
func (w *Worker) Run(ctx context.Context) (int, error) {
	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, nil
		}

		reqCtx, cancel := context.WithTimeout(ctx, w.RequestTimeout)
		msg, err := w.nc.RequestWithContext(reqCtx, w.subject, []byte(MsgReady))
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrNoResponders):
			w.logger.Info("No coordinator listening, stopping", "worker_id", w.ID)
			return processed, nil
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			w.logger.Debug("No work yet, asking again", "worker_id", w.ID)
			continue
		case ctx.Err() != nil:
			return processed, nil
		default:
			return processed, fmt.Errorf("failed to request work: %w", err)
		}

		path := string(msg.Data)
		if path == MsgDone {
			w.logger.Info("Coordinator has no more work", "worker_id", w.ID, "processed", processed)
			return processed, nil
		}
		seq, err := strconv.ParseUint(msg.Header.Get(HeaderSeq), 10, 64)
		if err != nil {
			w.logger.Warn("Work reply without lease sequence", "path", path, "error", err)
		}

		o := w.process(ctx, seq, path)
		processed++
		if err := w.publishResult(seq, o); err != nil {
			return processed, err
		}
	}
}

func (w *Worker) process(ctx context.Context, seq uint64, path string) models.Outcome {
	w.logger.Info("Processing leased file", "worker_id", w.ID, "path", path, "seq", seq)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.heartbeat(seq, stop)
	}()

	o := w.proc.ProcessWithRetry(ctx, path)
	close(stop)
	<-done

	o.Worker = w.ID
	w.metrics.FileProcessed(string(o.Status))
	for i := 0; i < o.Attempts; i++ {
		w.metrics.Attempt()
	}
	w.metrics.ObserveDuration(o.Duration.Seconds())
	return o
}

func (w *Worker) heartbeat(seq uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(w.HeartbeatEvery)
	defer ticker.Stop()
	data, _ := json.Marshal(Heartbeat{Seq: seq, Worker: w.ID})
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.nc.Publish(HeartbeatSubject(w.subject), data); err != nil {
				w.logger.Warn("Failed to send heartbeat", "seq", seq, "error", err)
			}
		}
	}
}

func (w *Worker) publishResult(seq uint64, o models.Outcome) error {
	data, err := json.Marshal(resultFromOutcome(seq, w.ID, o))
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := w.nc.Publish(w.resultSubject, data); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	if err := w.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush result: %w", err)
	}
	return nil
}

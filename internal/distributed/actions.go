package distributed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/logging"
	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/internal/run"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"
)

type coordinatorExecutor struct {
	coord  *Coordinator
	nc     *nats.Conn
	server *server.Server
}

// NewExecutor connects the coordinator to NATS, starting an embedded server
// first when configured.
func NewExecutor(c *cli.Context, cfg *models.Config, runID string, logger *slog.Logger, m metrics.Collector) (run.Executor, error) {
	embedded := cfg.NATS.Embedded
	listen := cfg.NATS.Listen
	if c != nil {
		embedded = embedded || c.Bool("embedded")
		if c.IsSet("listen") {
			listen = c.String("listen")
		}
	}

	url := cfg.NATS.URL
	var ns *server.Server
	if embedded {
		var err error
		ns, err = StartEmbedded(listen)
		if err != nil {
			return nil, err
		}
		url = ns.ClientURL()
		logger.Info("Embedded NATS server started", "url", url)
	}

	nc, err := nats.Connect(url, nats.Name("pbp-coordinator-"+runID), nats.Timeout(5*time.Second))
	if err != nil {
		if ns != nil {
			ns.Shutdown()
		}
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return &coordinatorExecutor{
		coord:  NewCoordinator(nc, cfg.NATS, cfg.Lease, logger, m),
		nc:     nc,
		server: ns,
	}, nil
}

func (e *coordinatorExecutor) Execute(ctx context.Context, sess *run.Session, plan *run.Plan) error {
	defer func() {
		e.nc.Close()
		if e.server != nil {
			e.server.Shutdown()
		}
	}()
	return e.coord.Run(ctx, plan.Generations(), sess.Absorb)
}

// CoordinatorAction runs the work list over NATS regardless of the
// configured dispatch mode.
func CoordinatorAction(c *cli.Context) error {
	return run.Execute(c, models.DispatchDistributed, NewExecutor)
}

// WorkerAction pulls work from a coordinator until it is done.
func WorkerAction(c *cli.Context) error {
	cfg, err := run.LoadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("nats-url") {
		cfg.NATS.URL = c.String("nats-url")
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	id := c.String("id")
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	logger := logging.New(logging.Level(c))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := run.NewPipeline(cfg, id, logger)
	if err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pbp-worker-"+id), nats.Timeout(5*time.Second), nats.MaxReconnects(10))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	var processed int
	err = run.WithMetrics(ctx, cfg, logger, func(ctx context.Context, m metrics.Collector) error {
		w := NewWorker(id, nc, p, cfg.NATS, cfg.Lease.Timeout, logger, m)
		var runErr error
		processed, runErr = w.Run(ctx)
		return runErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("Worker %s processed %d files\n", id, processed)
	return nil
}

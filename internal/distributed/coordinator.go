package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dtnitsch/pdf-batch-parser/internal/metrics"
	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/nats-io/nats.go"
)

const (
	// parkTimeout bounds how long a READY without available work is held.
	// It must stay below the worker's request timeout.
	parkTimeout = 25 * time.Second

	defaultLeaseTimeout = 15 * time.Minute
	subscriptionBuffer  = 1024
)

type lease struct {
	seq     uint64
	path    string
	worker  string
	expires time.Time
}

type parked struct {
	msg *nats.Msg
	at  time.Time
}

// Coordinator owns the ordered work list and is the only process that
// decides which worker gets which file.
type Coordinator struct {
	nc            *nats.Conn
	subject       string
	resultSubject string
	lease         models.LeaseConfig
	logger        *slog.Logger
	metrics       metrics.Collector
	tick          time.Duration
	now           func() time.Time
	ready         chan struct{}

	queue      []string
	deliveries map[string]int
	leases     map[uint64]*lease
	parked     []parked
	seq        uint64
	remaining  int
	outcomes   []models.Outcome
	lastSeen  time.Time
}

// NewCoordinator returns a Coordinator serving the subjects in cfg.
func NewCoordinator(nc *nats.Conn, cfg models.NATSConfig, leaseCfg models.LeaseConfig, logger *slog.Logger, m metrics.Collector) *Coordinator {
	if leaseCfg.Timeout <= 0 {
		leaseCfg.Timeout = defaultLeaseTimeout
	}
	if leaseCfg.MaxDeliveries < 1 {
		leaseCfg.MaxDeliveries = 1
	}
	tick := leaseCfg.Timeout / 4
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return &Coordinator{
		nc:            nc,
		subject:       cfg.Subject,
		resultSubject: cfg.ResultSubject,
		lease:         leaseCfg,
		logger:        logger,
		metrics:       m,
		tick:          tick,
		now:           time.Now,
		deliveries:    make(map[string]int),
		leases:        make(map[uint64]*lease),
		ready:         make(chan struct{}),
	}
}

// Ready is closed once Run is subscribed and workers can be started.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// Run serves each generation until every file in it has a terminal outcome,
// hands the outcomes to absorb, then moves on. Workers are told DONE only
// after the last generation.
func (c *Coordinator) Run(ctx context.Context, generations [][]string, absorb func([]models.Outcome) error) error {
	work := make(chan *nats.Msg, subscriptionBuffer)
	results := make(chan *nats.Msg, subscriptionBuffer)
	beats := make(chan *nats.Msg, subscriptionBuffer)

	subs := make([]*nats.Subscription, 0, 3)
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	for subject, ch := range map[string]chan *nats.Msg{
		c.subject:                   work,
		c.resultSubject:             results,
		HeartbeatSubject(c.subject): beats,
	} {
		sub, err := c.nc.ChanSubscribe(subject, ch)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}
	close(c.ready)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	c.lastSeen = c.now()

	for i, gen := range generations {
		if len(gen) == 0 {
			continue
		}
		c.load(gen)
		c.logger.Info("Serving work", "generation", i, "files", len(gen), "subject", c.subject)
		c.serveParked()

		for c.remaining > 0 {
			select {
			case <-ctx.Done():
				c.cancelAll(ctx.Err())
			case m := <-work:
				c.handleReady(m)
			case m := <-results:
				c.handleResult(m)
			case m := <-beats:
				c.handleHeartbeat(m)
			case <-ticker.C:
				c.expireLeases()
				c.dropStaleParked()
				c.checkIdle()
			}
		}

		if err := absorb(c.takeOutcomes()); err != nil {
			c.finish(work)
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.finish(work)
	c.logger.Info("Coordinator finished", "leases_issued", c.seq)
	return nil
}

func (c *Coordinator) load(paths []string) {
	c.queue = append(c.queue[:0], paths...)
	c.remaining = len(paths)
	c.outcomes = nil
}

func (c *Coordinator) takeOutcomes() []models.Outcome {
	out := c.outcomes
	c.outcomes = nil
	return out
}

func (c *Coordinator) settle(o models.Outcome) {
	c.outcomes = append(c.outcomes, o)
	c.remaining--
}

func (c *Coordinator) handleReady(m *nats.Msg) {
	if m.Reply == "" {
		return
	}
	c.lastSeen = c.now()
	if len(c.queue) == 0 {
		c.parked = append(c.parked, parked{msg: m, at: c.now()})
		return
	}
	c.dispatch(m)
}

func (c *Coordinator) dispatch(m *nats.Msg) {
	path := c.queue[0]
	c.queue = c.queue[1:]
	c.seq++
	c.deliveries[path]++

	reply := nats.NewMsg(m.Reply)
	reply.Data = []byte(path)
	reply.Header.Set(HeaderSeq, strconv.FormatUint(c.seq, 10))
	if err := c.nc.PublishMsg(reply); err != nil {
		c.logger.Error("Failed to reply with work", "path", path, "seq", c.seq, "error", err)
		c.deliveries[path]--
		c.queue = append([]string{path}, c.queue...)
		return
	}

	c.leases[c.seq] = &lease{seq: c.seq, path: path, expires: c.now().Add(c.lease.Timeout)}
	c.logger.Debug("Leased file", "path", path, "seq", c.seq, "delivery", c.deliveries[path])
}

func (c *Coordinator) serveParked() {
	for len(c.parked) > 0 && len(c.queue) > 0 {
		p := c.parked[0]
		c.parked = c.parked[1:]
		c.dispatch(p.msg)
	}
}

func (c *Coordinator) dropStaleParked() {
	cutoff := c.now().Add(-parkTimeout)
	kept := c.parked[:0]
	for _, p := range c.parked {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	c.parked = kept
}

func (c *Coordinator) handleResult(m *nats.Msg) {
	var r Result
	if err := json.Unmarshal(m.Data, &r); err != nil {
		c.logger.Warn("Ignoring malformed result", "error", err)
		return
	}
	l, ok := c.leases[r.Seq]
	if !ok || l.path != r.Path {
		c.logger.Warn("Ignoring stale result", "seq", r.Seq, "path", r.Path, "worker", r.Worker)
		return
	}
	delete(c.leases, r.Seq)
	c.lastSeen = c.now()

	o := r.Outcome()
	c.settle(o)
	c.logger.Info("Result received", "path", o.Path, "seq", r.Seq, "status", o.Status, "worker_id", r.Worker, "attempts", o.Attempts)
}

func (c *Coordinator) handleHeartbeat(m *nats.Msg) {
	var hb Heartbeat
	if err := json.Unmarshal(m.Data, &hb); err != nil {
		return
	}
	if l, ok := c.leases[hb.Seq]; ok {
		l.expires = c.now().Add(c.lease.Timeout)
		l.worker = hb.Worker
		c.lastSeen = c.now()
	}
}

func (c *Coordinator) expireLeases() {
	now := c.now()
	var expired []*lease
	for _, l := range c.leases {
		if now.After(l.expires) {
			expired = append(expired, l)
		}
	}
	if len(expired) == 0 {
		return
	}
	// Oldest lease goes back to the front last, so it is served first.
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq > expired[j].seq })

	for _, l := range expired {
		delete(c.leases, l.seq)
		c.metrics.LeaseExpired()
		n := c.deliveries[l.path]

		if c.lease.Redeliver && n < c.lease.MaxDeliveries {
			c.metrics.Redelivered()
			c.queue = append([]string{l.path}, c.queue...)
			c.logger.Warn("Lease expired, redelivering", "path", l.path, "seq", l.seq, "worker_id", l.worker, "deliveries", n)
			continue
		}

		c.logger.Error("Lease expired, giving up", "path", l.path, "seq", l.seq, "worker_id", l.worker, "deliveries", n)
		c.settle(models.Outcome{
			Path:      l.path,
			Status:    models.StatusFailed,
			Error:     fmt.Sprintf("lease expired after %d deliveries", n),
			ErrorType: models.ErrorTypeLease,
			Attempts:  n,
			Worker:    l.worker,
		})
	}
	c.serveParked()
}

// checkIdle fails queued work once no worker has been heard from for the
// idle timeout. A live lease means some worker is busy, so the clock only
// runs while nothing is leased.
func (c *Coordinator) checkIdle() {
	if c.lease.IdleTimeout <= 0 || len(c.queue) == 0 {
		return
	}
	if len(c.leases) > 0 {
		return
	}
	if c.now().Sub(c.lastSeen) < c.lease.IdleTimeout {
		return
	}

	c.logger.Error("No worker heard from, failing queued files", "queued", len(c.queue), "idle_timeout", c.lease.IdleTimeout.String())
	for _, path := range c.queue {
		c.settle(models.Outcome{
			Path:      path,
			Status:    models.StatusFailed,
			Error:     fmt.Sprintf("no worker requested work for %s", c.lease.IdleTimeout),
			ErrorType: models.ErrorTypeUndelivered,
			Attempts:  c.deliveries[path],
		})
	}
	c.queue = nil
}

// cancelAll settles everything still open. Leased files count as started.
func (c *Coordinator) cancelAll(err error) {
	c.logger.Info("Run cancelled", "queued", len(c.queue), "leased", len(c.leases))
	for _, path := range c.queue {
		c.settle(models.Outcome{Path: path, Status: models.StatusFailed, Error: err.Error(), ErrorType: models.ErrorTypeCancelled})
	}
	c.queue = nil

	seqs := make([]uint64, 0, len(c.leases))
	for seq := range c.leases {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		l := c.leases[seq]
		c.settle(models.Outcome{
			Path:      l.path,
			Status:    models.StatusFailed,
			Error:     err.Error(),
			ErrorType: models.ErrorTypeCancelled,
			Attempts:  max(c.deliveries[l.path], 1),
			Worker:    l.worker,
		})
		delete(c.leases, seq)
	}
}

// finish tells every waiting worker there is nothing left.
func (c *Coordinator) finish(work <-chan *nats.Msg) {
	for _, p := range c.parked {
		_ = p.msg.Respond([]byte(MsgDone))
	}
	c.parked = nil
	for {
		select {
		case m := <-work:
			if m.Reply != "" {
				_ = m.Respond([]byte(MsgDone))
			}
		default:
			_ = c.nc.Flush()
			return
		}
	}
}

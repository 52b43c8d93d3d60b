package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	files        *prometheus.CounterVec
	attempts     prometheus.Counter
	skipped      *prometheus.CounterVec
	duration     prometheus.Histogram
	leaseExpired prometheus.Counter
	redelivered  prometheus.Counter
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector registering on reg (the default
// registerer when nil) under namespace ("pbp" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pbp"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.files = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "files_processed_total",
			Help:      "Files that reached a terminal status, by status.",
		}, []string{"status"})

		p.attempts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "attempts_total",
			Help:      "Processing attempts across all files.",
		})

		p.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "files_skipped_total",
			Help:      "Files left out before dispatch, by reason (done, ledger, source_mismatch).",
		}, []string{"reason"})

		p.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "file_duration_seconds",
			Help:      "Wall time spent per file including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17m
		})

		p.leaseExpired = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "distributed",
			Name:      "leases_expired_total",
			Help:      "Work leases that expired before a result arrived.",
		})

		p.redelivered = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "distributed",
			Name:      "redeliveries_total",
			Help:      "Work items handed out again after a lease expired.",
		})

		p.reg.MustRegister(p.files)
		p.reg.MustRegister(p.attempts)
		p.reg.MustRegister(p.skipped)
		p.reg.MustRegister(p.duration)
		p.reg.MustRegister(p.leaseExpired)
		p.reg.MustRegister(p.redelivered)
	})
}

func (p *PrometheusCollector) FileProcessed(status string) {
	p.ensureRegistered()
	p.files.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) Attempt() {
	p.ensureRegistered()
	p.attempts.Inc()
}

func (p *PrometheusCollector) Skipped(reason string) {
	p.ensureRegistered()
	p.skipped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ObserveDuration(seconds float64) {
	p.ensureRegistered()
	p.duration.Observe(seconds)
}

func (p *PrometheusCollector) LeaseExpired() {
	p.ensureRegistered()
	p.leaseExpired.Inc()
}

func (p *PrometheusCollector) Redelivered() {
	p.ensureRegistered()
	p.redelivered.Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return nil
	}
}

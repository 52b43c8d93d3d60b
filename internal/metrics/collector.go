// Package metrics records batch progress for Prometheus.
package metrics

// Collector receives run events from the dispatchers.
type Collector interface {
	// FileProcessed counts a file reaching a terminal status.
	FileProcessed(status string)
	// Attempt counts one processing attempt.
	Attempt()
	// Skipped counts a file left out before dispatch, by reason.
	Skipped(reason string)
	// ObserveDuration records the wall time spent on one file.
	ObserveDuration(seconds float64)
	// LeaseExpired counts a distributed lease that ran out.
	LeaseExpired()
	// Redelivered counts a work item handed out again after its lease expired.
	Redelivered()
}

// Skip reasons.
const (
	SkipDone   = "done"
	SkipLedger = "ledger"
	SkipSource = "source_mismatch"
)

package metrics

// NopMetrics discards every event.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a no-op collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) FileProcessed(_ string) {}

func (n *NopMetrics) Attempt() {}

func (n *NopMetrics) Skipped(_ string) {}

func (n *NopMetrics) ObserveDuration(_ float64) {}

func (n *NopMetrics) LeaseExpired() {}

func (n *NopMetrics) Redelivered() {}

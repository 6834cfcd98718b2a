package rpc

import "time"

// MetricsSink is the narrow hook BaseConnection calls after each dispatch.
// The metrics subsystem proper is an external collaborator; this
// interface is the seam a real exporter (Prometheus, OTel) plugs into.
type MetricsSink interface {
	CallCompleted(method string, ok bool, dur time.Duration)
}

// noopMetrics discards everything; used when no sink is configured.
type noopMetrics struct{}

func (noopMetrics) CallCompleted(string, bool, time.Duration) {}

// NoopMetrics returns a MetricsSink that does nothing.
func NoopMetrics() MetricsSink { return noopMetrics{} }

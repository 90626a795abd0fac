package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "go2netqos"

// Metrics groups the Prometheus collectors of the classification pipeline.
type Metrics struct {
	Classifications *prometheus.CounterVec
	Priority        prometheus.Histogram
	ModelFallbacks  *prometheus.CounterVec
	DPIAttempts     prometheus.Counter
	DPISuccesses    prometheus.Counter
	TrackedFlows    prometheus.Gauge
	FlowEvictions   *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	DroppedPackets  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Packets classified, by strategy, method and traffic class.",
		}, []string{"mode", "method", "class"}),
		Priority: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assigned_priority",
			Help:      "Forwarding priority assigned to classified packets.",
			Buckets:   prometheus.LinearBuckets(0, 250, 15),
		}),
		ModelFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Model-based classifications that fell back to the port table.",
		}, []string{"reason"}),
		DPIAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dpi_attempts_total",
			Help:      "Payload signature scans performed.",
		}),
		DPISuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dpi_successes_total",
			Help:      "Payload signature scans that matched.",
		}),
		TrackedFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_flows",
			Help:      "Flows currently held in the flow-state table.",
		}),
		FlowEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_evictions_total",
			Help:      "Flows removed from the flow-state table.",
		}, []string{"reason"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Packet-in events that could not be decoded.",
		}),
		DroppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_packets_total",
			Help:      "Packets dropped because the worker queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Classifications,
			m.Priority,
			m.ModelFallbacks,
			m.DPIAttempts,
			m.DPISuccesses,
			m.TrackedFlows,
			m.FlowEvictions,
			m.DecodeErrors,
			m.DroppedPackets,
		)
	}
	return m
}

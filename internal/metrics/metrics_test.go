package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Classifications.WithLabelValues("rule", "Port", "DNS").Inc()
	m.FlowEvictions.WithLabelValues("idle").Add(3)
	m.ModelFallbacks.WithLabelValues("low_confidence").Inc()
	m.DroppedPackets.Inc()
	m.TrackedFlows.Set(42)
	m.Priority.Observe(3450)

	expected := `
# HELP go2netqos_flow_evictions_total Flows removed from the flow-state table.
# TYPE go2netqos_flow_evictions_total counter
go2netqos_flow_evictions_total{reason="idle"} 3
# HELP go2netqos_tracked_flows Flows currently held in the flow-state table.
# TYPE go2netqos_tracked_flows gauge
go2netqos_tracked_flows 42
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"go2netqos_flow_evictions_total", "go2netqos_tracked_flows"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Classifications.WithLabelValues("rule", "Port", "DNS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedPackets))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Priority))

	// Registering a second set on the same registry must fail loudly.
	assert.Panics(t, func() { New(reg) })
}

func TestNew_NilRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.DecodeErrors.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.DecodeErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DecodeErrors))
}

package orchestrator

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/impl/ml"
	"Go2NetQoS/internal/engine/impl/rule"
	"Go2NetQoS/internal/engine/priority"
	"Go2NetQoS/internal/engine/tracker"
	"Go2NetQoS/internal/factory"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func udpPacket(ts time.Time, dstPort uint16, payload []byte) *model.Packet {
	return &model.Packet{
		Timestamp: ts,
		InPort:    1,
		Length:    42 + len(payload),
		Network: &model.NetworkHeader{
			SrcIP:    netip.MustParseAddr("192.168.1.10"),
			DstIP:    netip.MustParseAddr("192.168.1.1"),
			Protocol: model.ProtoUDP,
			TTL:      64,
		},
		UDP:     &model.UDPHeader{SrcPort: 51000, DstPort: dstPort, Length: uint16(8 + len(payload))},
		Payload: payload,
	}
}

// fixedScorer always predicts one label with the given probability.
type fixedScorer struct {
	labels []string
	label  string
	p      float64
}

func (s fixedScorer) Score([]float64) ([]float64, error) {
	probs := make([]float64, len(s.labels))
	for i, l := range s.labels {
		if l == s.label {
			probs[i] = s.p
		} else {
			probs[i] = (1 - s.p) / float64(len(s.labels)-1)
		}
	}
	return probs, nil
}

func (fixedScorer) Close() error { return nil }

func newOrchestrator(t *testing.T) (*Orchestrator, *metrics.Metrics) {
	t.Helper()
	cfg := config.Default()
	m := metrics.New(nil)

	ruleClassifier, err := rule.New(rule.Options{Thresholds: cfg.Classifier.Thresholds, Metrics: m})
	require.NoError(t, err)

	labels := []string{"DNS", "Browsing", "Chat", "Unknown", "Gaming", "VOIP", "File-Transfer", "ICMP"}
	modelClassifier, err := ml.New(ml.Options{
		Bundle: &ml.Bundle{
			FeatureNames: []string{"dst_port", "packet_length"},
			Labels:       labels,
			Kind:         ml.ScorerTrees,
		},
		Scorer:              fixedScorer{labels: labels, label: "Unknown", p: 0.15},
		ConfidenceThreshold: cfg.Classifier.ModelConfidenceThreshold,
		FallbackConfidence:  cfg.Classifier.FallbackConfidence,
		Metrics:             m,
	})
	require.NoError(t, err)

	strategies := map[model.Mode]model.Classifier{
		model.ModeRule:  ruleClassifier,
		model.ModeModel: modelClassifier,
	}
	return New(tracker.New(tracker.Options{}), strategies, priority.NewMapper(cfg.Priority), m), m
}

func TestDecide_DNSQuery(t *testing.T) {
	o, m := newOrchestrator(t)
	p := udpPacket(t0, 53, []byte{0xab, 0xcd, 0x01, 0x00, 0x00, 0x01})

	result, prio, err := o.Decide(model.KeyFor(p), p, model.ModeRule)

	require.NoError(t, err)
	assert.Equal(t, model.Classification{Class: model.ClassDNS, Confidence: 0.9, Method: model.MethodPort}, result)
	assert.Equal(t, 3450, prio)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Classifications.WithLabelValues("rule", "Port", "DNS")))
}

func TestDecide_FirstPacketCreatesFlow(t *testing.T) {
	o, _ := newOrchestrator(t)
	p := udpPacket(t0, 9999, nil)
	key := model.KeyFor(p)

	_, _, err := o.Decide(key, p, model.ModeRule)
	require.NoError(t, err)

	snap, ok := o.Tracker().Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.PacketCount)
	assert.Equal(t, 0.0, snap.Stats.AvgInterArrival)
}

func TestDecide_LowModelConfidenceUsesPortFallback(t *testing.T) {
	o, m := newOrchestrator(t)
	p := udpPacket(t0, 53, nil)

	result, prio, err := o.Decide(model.KeyFor(p), p, model.ModeModel)

	require.NoError(t, err)
	assert.Equal(t, model.ClassDNS, result.Class)
	assert.Equal(t, model.MethodModelFallback, result.Method)
	assert.Equal(t, 3450, prio)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFallbacks.WithLabelValues("low_confidence")))
}

func TestDecide_UnknownModeLeavesStateAlone(t *testing.T) {
	o, _ := newOrchestrator(t)
	p := udpPacket(t0, 53, nil)

	_, _, err := o.Decide(model.KeyFor(p), p, model.Mode("oracle"))

	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, 0, o.Tracker().Len())
}

func TestDecide_SameFlowAccumulates(t *testing.T) {
	o, _ := newOrchestrator(t)
	for i := 0; i < 5; i++ {
		p := udpPacket(t0.Add(time.Duration(i)*20*time.Millisecond), 5060, make([]byte, 160))
		_, prio, err := o.Decide(model.KeyFor(p), p, model.ModeRule)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, prio, 0)
		assert.LessOrEqual(t, prio, 3500)
	}

	// The reply direction lands on the same flow.
	reply := udpPacket(t0.Add(time.Second), 5060, nil)
	reply.Network.SrcIP, reply.Network.DstIP = reply.Network.DstIP, reply.Network.SrcIP
	reply.UDP.SrcPort, reply.UDP.DstPort = reply.UDP.DstPort, reply.UDP.SrcPort
	_, _, err := o.Decide(model.KeyFor(reply), reply, model.ModeRule)
	require.NoError(t, err)

	assert.Equal(t, 1, o.Tracker().Len())
}

func TestNewFromConfig_DegradedModelStrategy(t *testing.T) {
	cfg := config.Default()
	cfg.Classifier.ModelPath = filepath.Join(t.TempDir(), "missing.bundle")

	o, err := NewFromConfig(cfg, factory.Deps{Metrics: metrics.New(nil)})
	require.NoError(t, err)
	defer o.Close()

	c, ok := o.Strategy(model.ModeModel)
	require.True(t, ok)
	assert.True(t, c.(*ml.Classifier).Degraded())

	p := udpPacket(t0, 53, nil)
	result, _, err := o.Decide(model.KeyFor(p), p, model.ModeModel)
	require.NoError(t, err)
	assert.Equal(t, model.MethodModelFallback, result.Method)

	result, _, err = o.Decide(model.KeyFor(p), p, model.ModeRule)
	require.NoError(t, err)
	assert.Equal(t, model.MethodPort, result.Method)
}

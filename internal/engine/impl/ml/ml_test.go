package ml

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLabels = []string{"DNS", "Browsing", "VOIP", "File-Transfer", "Chat", "Gaming", "Unknown", "ICMP"}

// stubScorer returns a fixed distribution, an error, or panics.
type stubScorer struct {
	probs  []float64
	err    error
	panics bool
	seen   [][]float64
}

func (s *stubScorer) Score(x []float64) ([]float64, error) {
	s.seen = append(s.seen, append([]float64(nil), x...))
	if s.panics {
		panic("index out of range")
	}
	return s.probs, s.err
}

func (s *stubScorer) Close() error { return nil }

// distribution puts p on label and spreads the rest evenly.
func distribution(label string, p float64) []float64 {
	probs := make([]float64, len(testLabels))
	rest := (1 - p) / float64(len(testLabels)-1)
	for i, l := range testLabels {
		if l == label {
			probs[i] = p
		} else {
			probs[i] = rest
		}
	}
	return probs
}

func treeBundle() *Bundle {
	// One stump per class, in label order. The DNS stump fires on
	// dst_port < 54, the VOIP stump on packet_length < 300.
	trees := make([]Tree, len(testLabels))
	for i := range trees {
		trees[i] = Tree{Nodes: []Node{{Left: -1, Value: 0}}}
	}
	trees[0] = Tree{Nodes: []Node{
		{Feature: 0, Threshold: 54, Left: 1, Right: 2},
		{Left: -1, Value: 6},
		{Left: -1, Value: 0},
	}}
	trees[2] = Tree{Nodes: []Node{
		{Feature: 1, Threshold: 300, Left: 1, Right: 2},
		{Left: -1, Value: 4},
		{Left: -1, Value: -1},
	}}
	return &Bundle{
		FeatureNames: []string{"dst_port", "packet_length", "not_a_feature"},
		Labels:       testLabels,
		Kind:         ScorerTrees,
		Trees:        &TreeEnsemble{NumClasses: len(testLabels), BaseScore: 0.5, Trees: trees},
	}
}

func newClassifier(t *testing.T, opts Options) *Classifier {
	t.Helper()
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = 0.3
	}
	if opts.FallbackConfidence == 0 {
		opts.FallbackConfidence = 0.3
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func ports(src, dst uint16) model.FeatureVector {
	var fv model.FeatureVector
	fv[model.FeatureSrcPort] = float64(src)
	fv[model.FeatureDstPort] = float64(dst)
	return fv
}

func TestClassify_LowConfidenceFallsBackToPortTable(t *testing.T) {
	b := treeBundle()
	require.NoError(t, WriteBundle(&bytes.Buffer{}, b))
	m := metrics.New(nil)
	c := newClassifier(t, Options{
		Bundle:  b,
		Scorer:  &stubScorer{probs: distribution("Unknown", 0.15)},
		Metrics: m,
	})

	got := c.Classify(ports(40000, 443), nil)

	assert.Equal(t, model.Classification{Class: model.ClassBrowsing, Confidence: 0.8, Method: model.MethodModelFallback}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelFallbacks.WithLabelValues(reasonLowConfidence)))
}

func TestClassify_FallbackWithoutPortMatch(t *testing.T) {
	c := newClassifier(t, Options{
		Bundle: treeBundle(),
		Scorer: &stubScorer{probs: distribution("Unknown", 0.15)},
	})

	got := c.Classify(ports(40000, 9999), nil)

	assert.Equal(t, model.Classification{Class: model.ClassUnknown, Confidence: 0.3, Method: model.MethodModelFallback}, got)
}

func TestClassify_ConfidentPrediction(t *testing.T) {
	c := newClassifier(t, Options{
		Bundle: treeBundle(),
		Scorer: &stubScorer{probs: distribution("Gaming", 0.72)},
	})

	got := c.Classify(ports(40000, 9999), nil)

	assert.Equal(t, model.ClassGaming, got.Class)
	assert.InDelta(t, 0.72, got.Confidence, 1e-9)
	assert.Equal(t, model.MethodModel, got.Method)
}

func TestClassify_NoBundleIsDegraded(t *testing.T) {
	m := metrics.New(nil)
	c := newClassifier(t, Options{Metrics: m})
	require.True(t, c.Degraded())

	assert.Equal(t, model.Classification{Class: model.ClassDNS, Confidence: 0.9, Method: model.MethodModelFallback},
		c.Classify(ports(50000, 53), nil))
	assert.Equal(t, model.Classification{Class: model.ClassUnknown, Confidence: 0.3, Method: model.MethodModelFallback},
		c.Classify(ports(50000, 9999), nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModelFallbacks.WithLabelValues(reasonDegraded)))
}

func TestClassify_ScorerFailuresFallBack(t *testing.T) {
	tests := map[string]*stubScorer{
		"error":       {err: errors.New("session closed")},
		"panic":       {panics: true},
		"wrong width": {probs: []float64{1}},
		"nan":         {probs: append(distribution("DNS", 0.5)[:7], math.NaN())},
	}
	for name, scorer := range tests {
		t.Run(name, func(t *testing.T) {
			c := newClassifier(t, Options{Bundle: treeBundle(), Scorer: scorer})
			got := c.Classify(ports(40000, 22), nil)
			assert.Equal(t, model.Classification{Class: model.ClassSSH, Confidence: 0.7, Method: model.MethodModelFallback}, got)
		})
	}
}

func TestClassify_ProjectsScalesAndSelects(t *testing.T) {
	b := treeBundle()
	b.Scaler = &Scaler{Mean: []float64{50, 100, 7}, Scale: []float64{2, 0, 1}}
	b.Selector = []bool{true, true, false}
	scorer := &stubScorer{probs: distribution("DNS", 0.9)}
	c := newClassifier(t, Options{Bundle: b, Scorer: scorer})

	fv := ports(40000, 54)
	fv[model.FeaturePacketLength] = 160
	c.Classify(fv, nil)

	require.Len(t, scorer.seen, 1)
	// (54-50)/2 and (160-100)/1; the unknown feature is dropped by the selector.
	assert.Equal(t, []float64{2, 60}, scorer.seen[0])
}

func TestTreeScorer(t *testing.T) {
	c := newClassifier(t, Options{Bundle: treeBundle()})

	dns := ports(51000, 53)
	dns[model.FeaturePacketLength] = 400
	got := c.Classify(dns, nil)
	assert.Equal(t, model.ClassDNS, got.Class)
	assert.Equal(t, model.MethodModel, got.Method)
	assert.Greater(t, got.Confidence, 0.9)

	// Only the VOIP margin differs, so the distribution is nearly flat and
	// far below the threshold.
	flat := ports(51000, 9999)
	flat[model.FeaturePacketLength] = 400
	got = c.Classify(flat, nil)
	assert.Equal(t, model.MethodModelFallback, got.Method)
}

func TestSoftmax(t *testing.T) {
	probs, err := softmax([]float64{1, 1, 1, 1})
	require.NoError(t, err)
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-12)
	}

	_, err = softmax([]float64{1, math.NaN()})
	assert.Error(t, err)
}

func TestSaveAndLoadBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "classifier.bundle")
	require.NoError(t, SaveBundle(path, treeBundle()))

	b, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, BundleFormat, b.Format)
	assert.Equal(t, BundleVersion, b.Version)
	assert.Equal(t, testLabels, b.Labels)
	assert.Equal(t, 3, b.NumInputs())
	assert.Len(t, b.Trees.Trees, len(testLabels))
}

func TestLoadBundle_Rejects(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadBundle(filepath.Join(dir, "absent.bundle"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.bundle")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not gob"), 0644))
	_, err = LoadBundle(garbage)
	assert.ErrorIs(t, err, ErrBundleFormat)

	var buf bytes.Buffer
	b := treeBundle()
	b.Trees.Trees[0].Nodes[0].Left = 0
	assert.ErrorIs(t, WriteBundle(&buf, b), ErrBundleFormat)

	b = treeBundle()
	b.Selector = []bool{true}
	assert.ErrorIs(t, WriteBundle(&buf, b), ErrBundleFormat)

	b = treeBundle()
	b.Kind = "svm"
	assert.ErrorIs(t, WriteBundle(&buf, b), ErrBundleFormat)
}

func TestReferenceBundle(t *testing.T) {
	b := ReferenceBundle()
	require.NoError(t, b.Validate())
	c := newClassifier(t, Options{Bundle: b})
	require.False(t, c.Degraded())

	dns := ports(40000, 53)
	dns[model.FeatureAvgPacketSize] = 74
	dns[model.FeatureIPProto] = float64(model.ProtoUDP)
	got := c.Classify(dns, nil)
	assert.Equal(t, model.ClassDNS, got.Class)
	assert.Equal(t, model.MethodModel, got.Method)
	assert.Greater(t, got.Confidence, 0.9)

	var ping model.FeatureVector
	ping[model.FeatureIPProto] = float64(model.ProtoICMP)
	ping[model.FeatureAvgPacketSize] = 98
	assert.Equal(t, model.ClassICMP, c.Classify(ping, nil).Class)

	bulk := ports(45100, 5001)
	bulk[model.FeatureAvgPacketSize] = 1460
	bulk[model.FeatureIPProto] = float64(model.ProtoTCP)
	assert.Equal(t, model.ClassFileTransfer, c.Classify(bulk, nil).Class)
}

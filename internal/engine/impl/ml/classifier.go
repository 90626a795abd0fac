package ml

import (
	"errors"
	"fmt"
	"math"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/impl/rule"
	"Go2NetQoS/internal/factory"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"

	"go.uber.org/zap"
)

// Scorer maps a preprocessed input vector to a probability distribution
// over the bundle labels.
type Scorer interface {
	Score(x []float64) ([]float64, error)
	Close() error
}

// Fallback reasons, also used as metric labels.
const (
	reasonDegraded      = "degraded"
	reasonLowConfidence = "low_confidence"
	reasonScoreError    = "score_error"
)

// Options configures a Classifier.
type Options struct {
	// Bundle is the loaded model. nil runs the classifier in degraded mode,
	// where every packet takes the fallback path.
	Bundle *Bundle
	// Scorer overrides the scorer built from Bundle.
	Scorer Scorer

	ConfidenceThreshold float64
	FallbackConfidence  float64
	ONNXRuntimeLib      string

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func init() {
	factory.RegisterStrategy(model.ModeModel, func(cfg *config.Config, deps factory.Deps) (model.Classifier, error) {
		opts := Options{
			ConfidenceThreshold: cfg.Classifier.ModelConfidenceThreshold,
			FallbackConfidence:  cfg.Classifier.FallbackConfidence,
			ONNXRuntimeLib:      cfg.Classifier.ONNXRuntimeLib,
			Logger:              deps.Logger,
			Metrics:             deps.Metrics,
		}
		bundle, err := LoadBundle(cfg.Classifier.ModelPath)
		if err != nil {
			deps.Logger.Warn("Model bundle unavailable, model strategy will always fall back to the port table",
				zap.String("path", cfg.Classifier.ModelPath), zap.Error(err))
			return New(opts)
		}
		opts.Bundle = bundle
		c, err := New(opts)
		if err != nil {
			deps.Logger.Warn("Model scorer unavailable, model strategy will always fall back to the port table",
				zap.String("path", cfg.Classifier.ModelPath), zap.Error(err))
			opts.Bundle = nil
			return New(opts)
		}
		deps.Logger.Info("Loaded model bundle",
			zap.String("path", cfg.Classifier.ModelPath),
			zap.String("scorer", string(bundle.Kind)),
			zap.Int("features", len(bundle.FeatureNames)),
			zap.Int("classes", len(bundle.Labels)))
		return c, nil
	})
}

// Classifier is the model-based strategy. The bundle and the projection
// built from it are read-only after New, so a Classifier is safe for
// concurrent use as long as its Scorer is.
type Classifier struct {
	scorer    Scorer
	labels    []model.TrafficClass
	project   []int // schema index per bundle feature, -1 when unknown
	scaler    *Scaler
	selector  []bool
	numInputs int

	threshold          float64
	fallbackConfidence float64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a model-based classifier.
func New(opts Options) (*Classifier, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Classifier{
		threshold:          opts.ConfidenceThreshold,
		fallbackConfidence: opts.FallbackConfidence,
		logger:             opts.Logger,
		metrics:            opts.Metrics,
	}
	b := opts.Bundle
	if b == nil {
		return c, nil
	}

	scorer := opts.Scorer
	if scorer == nil {
		var err error
		switch b.Kind {
		case ScorerTrees:
			scorer = &treeScorer{ensemble: b.Trees}
		case ScorerONNX:
			scorer, err = newONNXScorer(b.ONNX, b.NumInputs(), len(b.Labels), opts.ONNXRuntimeLib)
		default:
			err = fmt.Errorf("%w: unknown scorer kind %q", ErrBundleFormat, b.Kind)
		}
		if err != nil {
			return nil, err
		}
	}

	c.scorer = scorer
	c.scaler = b.Scaler
	c.selector = b.Selector
	c.numInputs = b.NumInputs()
	c.labels = make([]model.TrafficClass, len(b.Labels))
	for i, label := range b.Labels {
		c.labels[i] = model.TrafficClass(label)
	}
	c.project = make([]int, len(b.FeatureNames))
	for i, name := range b.FeatureNames {
		if f, ok := model.LookupFeature(name); ok {
			c.project[i] = int(f)
		} else {
			c.project[i] = -1
			c.logger.Warn("Model feature not in schema, using 0", zap.String("feature", name))
		}
	}
	return c, nil
}

// Mode implements model.Classifier.
func (c *Classifier) Mode() model.Mode { return model.ModeModel }

// Degraded reports whether the classifier has no usable model.
func (c *Classifier) Degraded() bool { return c.scorer == nil }

// Classify implements model.Classifier. The payload is not used.
func (c *Classifier) Classify(fv model.FeatureVector, _ []byte) model.Classification {
	if c.scorer == nil {
		return c.fallback(fv, reasonDegraded)
	}

	probs, err := c.score(fv)
	if err != nil {
		c.logger.Debug("Model scoring failed", zap.Error(err))
		return c.fallback(fv, reasonScoreError)
	}

	best, confidence := 0, probs[0]
	for i, p := range probs[1:] {
		if p > confidence {
			best, confidence = i+1, p
		}
	}
	if confidence < c.threshold {
		return c.fallback(fv, reasonLowConfidence)
	}
	return model.Classification{Class: c.labels[best], Confidence: confidence, Method: model.MethodModel}
}

// Close releases the scorer.
func (c *Classifier) Close() error {
	if c.scorer == nil {
		return nil
	}
	return c.scorer.Close()
}

// score runs the scorer on the preprocessed vector. Scorer panics are turned
// into errors so that a bad model cannot take the packet path down.
func (c *Classifier) score(fv model.FeatureVector) (probs []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			probs, err = nil, fmt.Errorf("scorer panicked: %v", r)
		}
	}()

	probs, err = c.scorer.Score(c.input(fv))
	if err != nil {
		return nil, err
	}
	if len(probs) != len(c.labels) {
		return nil, fmt.Errorf("scorer returned %d probabilities for %d labels", len(probs), len(c.labels))
	}
	for _, p := range probs {
		if math.IsNaN(p) {
			return nil, errors.New("scorer returned NaN")
		}
	}
	return probs, nil
}

// input projects fv onto the bundle features, then scales and selects.
func (c *Classifier) input(fv model.FeatureVector) []float64 {
	x := make([]float64, 0, c.numInputs)
	for i, f := range c.project {
		if c.selector != nil && !c.selector[i] {
			continue
		}
		v := 0.0
		if f >= 0 {
			v = fv[f]
		}
		if c.scaler != nil {
			scale := c.scaler.Scale[i]
			if scale == 0 {
				scale = 1
			}
			v = (v - c.scaler.Mean[i]) / scale
		}
		x = append(x, v)
	}
	return x
}

// fallback consults only the port table. Without a port match the packet is
// reported as Unknown at the configured fallback confidence.
func (c *Classifier) fallback(fv model.FeatureVector, reason string) model.Classification {
	if c.metrics != nil {
		c.metrics.ModelFallbacks.WithLabelValues(reason).Inc()
	}
	if r := rule.PortStage(fv); r.Confidence > 0 {
		return model.Classification{Class: r.Class, Confidence: r.Confidence, Method: model.MethodModelFallback}
	}
	return model.Classification{Class: model.ClassUnknown, Confidence: c.fallbackConfidence, Method: model.MethodModelFallback}
}

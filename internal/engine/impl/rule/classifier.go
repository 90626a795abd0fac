package rule

import (
	"fmt"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/factory"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"
)

// Arbitration decides how stage results are combined.
type Arbitration string

const (
	// ArbitrationFirst accepts the first stage that exceeds its threshold.
	ArbitrationFirst Arbitration = "first"
	// ArbitrationBest runs every stage and keeps the most confident result
	// that exceeds its threshold. Ties go to the earlier stage.
	ArbitrationBest Arbitration = "best"
)

// Options configures a Classifier.
type Options struct {
	Thresholds  config.StageThresholds
	Arbitration Arbitration
	Metrics     *metrics.Metrics
}

func init() {
	factory.RegisterStrategy(model.ModeRule, func(cfg *config.Config, deps factory.Deps) (model.Classifier, error) {
		return New(Options{
			Thresholds:  cfg.Classifier.Thresholds,
			Arbitration: Arbitration(cfg.Classifier.Arbitration),
			Metrics:     deps.Metrics,
		})
	})
}

// Classifier is the rule-based strategy: payload signatures, then the port
// table, then flow statistics, then the transport protocol. It keeps no
// state between calls, so a Classifier is safe for concurrent use.
type Classifier struct {
	thresholds  config.StageThresholds
	arbitration Arbitration
	metrics     *metrics.Metrics
}

// New creates a rule-based classifier.
func New(opts Options) (*Classifier, error) {
	switch opts.Arbitration {
	case "":
		opts.Arbitration = ArbitrationFirst
	case ArbitrationFirst, ArbitrationBest:
	default:
		return nil, fmt.Errorf("unknown arbitration policy %q", opts.Arbitration)
	}
	return &Classifier{
		thresholds:  opts.Thresholds,
		arbitration: opts.Arbitration,
		metrics:     opts.Metrics,
	}, nil
}

// Mode implements model.Classifier.
func (c *Classifier) Mode() model.Mode { return model.ModeRule }

// Classify implements model.Classifier. It never fails: when no stage clears
// its threshold the protocol fallback decides.
func (c *Classifier) Classify(fv model.FeatureVector, payload []byte) model.Classification {
	var best model.Classification
	found := false

	consider := func(r model.Classification, threshold float64) bool {
		if r.Confidence <= threshold {
			return false
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
		return c.arbitration == ArbitrationFirst
	}

	if len(payload) > 0 {
		sig := SignatureStage(payload)
		if c.metrics != nil {
			c.metrics.DPIAttempts.Inc()
			if sig.Confidence > 0 {
				c.metrics.DPISuccesses.Inc()
			}
		}
		if consider(sig, c.thresholds.Signature) {
			return best
		}
	}
	if consider(PortStage(fv), c.thresholds.Port) {
		return best
	}
	if consider(StatisticalStage(fv), c.thresholds.Statistical) {
		return best
	}
	if found {
		return best
	}
	return ProtocolFallback(fv)
}

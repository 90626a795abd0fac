package orchestrator

import (
	"errors"
	"fmt"
	"io"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/engine/priority"
	"Go2NetQoS/internal/engine/tracker"
	"Go2NetQoS/internal/factory"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"

	// Blank imports register the classification strategies.
	_ "Go2NetQoS/internal/engine/impl/ml"
	_ "Go2NetQoS/internal/engine/impl/rule"
)

// ErrUnknownMode is returned by Decide for a mode with no registered strategy.
var ErrUnknownMode = errors.New("unknown classification mode")

// Orchestrator wires the flow tracker, the classification strategies and the
// priority mapper into one decision per packet. It holds no state of its own
// beyond those collaborators, and never caches or retries a decision.
type Orchestrator struct {
	tracker    *tracker.Tracker
	strategies map[model.Mode]model.Classifier
	mapper     *priority.Mapper
	metrics    *metrics.Metrics
}

// New assembles an orchestrator from already built parts. m may be nil.
func New(tr *tracker.Tracker, strategies map[model.Mode]model.Classifier, mapper *priority.Mapper, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		tracker:    tr,
		strategies: strategies,
		mapper:     mapper,
		metrics:    m,
	}
}

// NewFromConfig builds the tracker, every registered strategy and the
// priority mapper from cfg.
func NewFromConfig(cfg *config.Config, deps factory.Deps) (*Orchestrator, error) {
	idle, err := cfg.Tracker.IdleTimeoutDuration()
	if err != nil {
		return nil, err
	}
	strategies, err := factory.CreateAll(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification strategies: %w", err)
	}
	tr := tracker.New(tracker.Options{
		WindowSize:  cfg.Tracker.WindowSize,
		NumShards:   cfg.Tracker.NumShards,
		MaxFlows:    cfg.Tracker.MaxFlows,
		IdleTimeout: idle,
	})
	return New(tr, strategies, priority.NewMapper(cfg.Priority), deps.Metrics), nil
}

// Decide observes the packet on its flow, classifies the resulting feature
// vector with the strategy selected by mode and maps the result to a
// priority. Flow state is left untouched when mode is unknown.
func (o *Orchestrator) Decide(key model.FlowKey, p *model.Packet, mode model.Mode) (model.Classification, int, error) {
	classifier, ok := o.strategies[mode]
	if !ok {
		return model.Classification{}, 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	fv := o.tracker.Observe(key, p)
	result := classifier.Classify(fv, p.Payload)
	prio := o.mapper.MapPriority(result.Class, result.Confidence)

	if o.metrics != nil {
		o.metrics.Classifications.WithLabelValues(string(mode), string(result.Method), string(result.Class)).Inc()
		o.metrics.Priority.Observe(float64(prio))
	}
	return result, prio, nil
}

// Tracker exposes the flow tracker for sweeping, snapshots and queries.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Mapper exposes the priority mapper.
func (o *Orchestrator) Mapper() *priority.Mapper { return o.mapper }

// Strategy returns the classifier registered for mode.
func (o *Orchestrator) Strategy(mode model.Mode) (model.Classifier, bool) {
	c, ok := o.strategies[mode]
	return c, ok
}

// Close releases strategies that hold resources, such as an ONNX session.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, c := range o.strategies {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

package factory

import (
	"fmt"
	"sort"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/metrics"
	"Go2NetQoS/internal/model"

	"go.uber.org/zap"
)

// Deps are the shared collaborators handed to every strategy constructor.
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// StrategyFactory creates one classification strategy from the config.
type StrategyFactory func(cfg *config.Config, deps Deps) (model.Classifier, error)

// registry holds the mapping of strategy modes to their factory functions.
var registry = make(map[model.Mode]StrategyFactory)

// RegisterStrategy registers a classification strategy with its factory function.
func RegisterStrategy(mode model.Mode, factory StrategyFactory) {
	if _, exists := registry[mode]; exists {
		panic(fmt.Sprintf("classification strategy '%s' already registered", mode))
	}
	registry[mode] = factory
}

// Registered returns the modes that have a registered strategy, sorted.
func Registered() []model.Mode {
	modes := make([]model.Mode, 0, len(registry))
	for mode := range registry {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Create builds the strategy registered for mode.
func Create(mode model.Mode, cfg *config.Config, deps Deps) (model.Classifier, error) {
	factory, ok := registry[mode]
	if !ok {
		return nil, fmt.Errorf("unknown classification strategy: '%s'", mode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	c, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("error creating classification strategy '%s': %w", mode, err)
	}
	return c, nil
}

// CreateAll builds every registered strategy, keyed by mode.
func CreateAll(cfg *config.Config, deps Deps) (map[model.Mode]model.Classifier, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	strategies := make(map[model.Mode]model.Classifier, len(registry))
	for _, mode := range Registered() {
		deps.Logger.Info("Creating classification strategy", zap.String("mode", string(mode)))
		c, err := Create(mode, cfg, deps)
		if err != nil {
			return nil, err
		}
		strategies[mode] = c
	}
	return strategies, nil
}

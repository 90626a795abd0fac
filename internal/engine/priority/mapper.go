package priority

import (
	"math"

	"Go2NetQoS/internal/config"
	"Go2NetQoS/internal/model"
)

// Mapper turns a classification into a bounded forwarding priority. It is
// read-only after construction and safe for concurrent use.
type Mapper struct {
	bases       map[model.TrafficClass]int
	defaultBase int
	boost       int
	ceiling     int
}

// NewMapper builds a mapper from the configured tiers.
func NewMapper(cfg config.PriorityConfig) *Mapper {
	m := &Mapper{
		bases:       make(map[model.TrafficClass]int),
		defaultBase: cfg.DefaultBase,
		boost:       cfg.ConfidenceBoost,
		ceiling:     cfg.Ceiling,
	}
	for _, tier := range []config.TierConfig{cfg.Low, cfg.Medium, cfg.High} {
		for _, class := range tier.Classes {
			m.bases[model.TrafficClass(class)] = tier.Base
		}
	}
	return m
}

// Base returns the tier base for a class, or the default base for classes in
// no tier.
func (m *Mapper) Base(class model.TrafficClass) int {
	if base, ok := m.bases[class]; ok {
		return base
	}
	return m.defaultBase
}

// MapPriority returns base(class) plus a confidence boost, clamped to
// [0, ceiling]. Confidence is clamped to [0, 1] first; NaN counts as 0.
func (m *Mapper) MapPriority(class model.TrafficClass, confidence float64) int {
	if math.IsNaN(confidence) || confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	p := m.Base(class) + int(math.Floor(confidence*float64(m.boost)))
	return min(max(p, 0), m.ceiling)
}

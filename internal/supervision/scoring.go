// internal/supervision/scoring.go
package supervision

import (
	"github.com/vansales/stockadvisor/internal/util"
)

// ScoringConfig holds the accuracy curve bounds. The zone between
// PerfectLow and PerfectHigh scores a full 100; below it accuracy falls
// proportionally, above it accuracy decays linearly to 0 at DecayHigh.
type ScoringConfig struct {
	PerfectLow  float64
	PerfectHigh float64
	DecayHigh   float64
}

// DefaultScoring returns the documented default curve.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{PerfectLow: 0.75, PerfectHigh: 1.20, DecayHigh: 2.0}
}

// Coverage is the share of recommended SKUs actually sold, 0 when nothing
// was recommended.
func Coverage(skusSold, skusRecommended int) float64 {
	if skusRecommended == 0 {
		return 0
	}
	return 100 * float64(skusSold) / float64(skusRecommended)
}

// Accuracy maps the actual/recommended quantity ratio onto 0-100.
func (c ScoringConfig) Accuracy(qtyActual, qtyRecommended int) float64 {
	if qtyRecommended == 0 {
		return 0
	}
	ratio := float64(qtyActual) / float64(qtyRecommended)

	switch {
	case ratio >= c.PerfectLow && ratio <= c.PerfectHigh:
		return 100
	case ratio < c.PerfectLow:
		return 100 * ratio / c.PerfectLow
	default:
		return util.Clamp(100*(c.DecayHigh-ratio)/(c.DecayHigh-c.PerfectHigh), 0, 100)
	}
}

// Score blends coverage and accuracy 40/60, rounded to one decimal.
func (c ScoringConfig) Score(skusSold, skusRecommended, qtyActual, qtyRecommended int) float64 {
	coverage := Coverage(skusSold, skusRecommended)
	accuracy := c.Accuracy(qtyActual, qtyRecommended)
	return util.Round1(0.40*coverage + 0.60*accuracy)
}

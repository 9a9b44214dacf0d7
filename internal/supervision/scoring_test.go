package supervision

import (
	"math"
	"testing"
)

func TestAccuracyBoundaries(t *testing.T) {
	c := DefaultScoring()

	cases := []struct {
		qtyActual, qtyRecommended int
		want                      float64
	}{
		{75, 100, 100},  // lower edge of the perfect zone
		{100, 100, 100}, // exact
		{120, 100, 100}, // upper edge of the perfect zone
		{0, 100, 0},     // nothing sold
		{200, 100, 0},   // decay floor
		{300, 100, 0},   // clamped beyond the floor
	}
	for _, tc := range cases {
		if got := c.Accuracy(tc.qtyActual, tc.qtyRecommended); got != tc.want {
			t.Errorf("Accuracy(%d, %d) = %.2f, want %.2f", tc.qtyActual, tc.qtyRecommended, got, tc.want)
		}
	}
}

func TestAccuracyBelowPerfectZoneIsProportional(t *testing.T) {
	c := DefaultScoring()
	// ratio 0.375 is half of the lower bound
	if got := c.Accuracy(375, 1000); got != 50 {
		t.Errorf("expected 50, got %.2f", got)
	}
}

func TestAccuracyDecayAbovePerfectZone(t *testing.T) {
	c := DefaultScoring()
	// ratio 1.6 sits midway between 1.20 and 2.0; off the zone edges the
	// linear decay is exact only up to floating-point rounding
	if got := c.Accuracy(160, 100); math.Abs(got-50) > 1e-9 {
		t.Errorf("expected 50, got %.2f", got)
	}
}

func TestCoverage(t *testing.T) {
	if got := Coverage(3, 4); got != 75 {
		t.Errorf("expected coverage 75, got %.2f", got)
	}
	if got := Coverage(0, 0); got != 0 {
		t.Errorf("expected coverage 0 with no recommendations, got %.2f", got)
	}
}

func TestScoreBlend(t *testing.T) {
	c := DefaultScoring()
	// coverage 75, accuracy 100 at ratio 0.75: 0.4*75 + 0.6*100 = 90.0
	if got := c.Score(3, 4, 75, 100); got != 90.0 {
		t.Errorf("expected score 90.0, got %.1f", got)
	}
}

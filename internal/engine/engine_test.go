package engine

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/pkg/types"
)

func testConfig() *types.Config {
	cfg := &types.Config{}
	cfg.ApplyDefaults()
	return cfg
}

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fact(date, customer, item string, qty int) domain.SalesFact {
	return domain.SalesFact{
		Date: day(date), RouteCode: "R1", CustomerCode: customer, ItemCode: item,
		Quantity: qty, UnitPrice: 2.5,
	}
}

func roster(customers ...string) []domain.JourneyPlanEntry {
	out := make([]domain.JourneyPlanEntry, 0, len(customers))
	for _, c := range customers {
		out = append(out, domain.JourneyPlanEntry{RouteCode: "R1", CustomerCode: c, Date: day("2025-10-09")})
	}
	return out
}

func forecast(item string, qty int) domain.ForecastRow {
	return domain.ForecastRow{Date: day("2025-10-09"), RouteCode: "R1", ItemCode: item, PredictedQuantity: qty, PredictionType: "daily"}
}

func TestGenerateRequiresRosterAndForecast(t *testing.T) {
	eng := NewEngine(testConfig(), logging.NewNopLogger())

	_, err := eng.Generate(Inputs{Route: "R1", Date: day("2025-10-09"), Forecast: []domain.ForecastRow{forecast("X", 5)}})
	if err == nil || !errorIs(err, domain.ErrInsufficientData) {
		t.Fatalf("expected InsufficientData for empty roster, got %v", err)
	}

	_, err = eng.Generate(Inputs{Route: "R1", Date: day("2025-10-09"), Roster: roster("C1")})
	if err == nil || !errorIs(err, domain.ErrInsufficientData) {
		t.Fatalf("expected InsufficientData for missing forecast, got %v", err)
	}
}

func TestFeatureExtraction(t *testing.T) {
	history := []domain.SalesFact{
		// C1 buys X on 4 of 5 visit dates, 5 units each
		fact("2025-09-01", "C1", "X", 5),
		fact("2025-09-08", "C1", "X", 5),
		fact("2025-09-15", "C1", "X", 5),
		fact("2025-09-22", "C1", "X", 5),
		fact("2025-09-29", "C1", "Y", 2), // visit without X
	}
	fe := newFeatureExtractor(history, day("2025-10-09"), 365)

	f := fe.Extract("C1", "X")
	if f.Purchases != 4 {
		t.Errorf("expected 4 purchases, got %d", f.Purchases)
	}
	if f.TotalVisits != 5 {
		t.Errorf("expected 5 total visits, got %d", f.TotalVisits)
	}
	if f.AvgQtyPerVisit != 5 {
		t.Errorf("expected avg 5, got %d", f.AvgQtyPerVisit)
	}
	if f.DaysSinceLastPurchase != 17 {
		t.Errorf("expected 17 days since last purchase, got %d", f.DaysSinceLastPurchase)
	}
	if f.PurchaseCycleDays != 7 {
		t.Errorf("expected cycle of 7 days, got %.2f", f.PurchaseCycleDays)
	}
	if f.FrequencyPct != 80 {
		t.Errorf("expected frequency 80, got %.2f", f.FrequencyPct)
	}
}

func TestFeatureExtractionNeverPurchased(t *testing.T) {
	history := []domain.SalesFact{
		fact("2025-09-01", "C1", "Y", 2),
		fact("2025-09-10", "C1", "Y", 2),
	}
	fe := newFeatureExtractor(history, day("2025-10-09"), 365)

	f := fe.Extract("C1", "X")
	if f.Purchases != 0 || f.AvgQtyPerVisit != 0 {
		t.Errorf("expected zero purchase stats, got %+v", f)
	}
	if f.DaysSinceLastPurchase != 365 {
		t.Errorf("expected capped days since purchase, got %d", f.DaysSinceLastPurchase)
	}
	// fallback to the median cycle across the customer's items (Y: 9 days)
	if f.PurchaseCycleDays != 9 {
		t.Errorf("expected fallback cycle 9, got %.2f", f.PurchaseCycleDays)
	}
}

func TestRecencyCurve(t *testing.T) {
	cases := []struct {
		days         int
		cycle        float64
		wantFactor   float64
		wantBoost    float64
	}{
		{days: 5, cycle: 10, wantFactor: 1.0, wantBoost: 1.0},  // fresh
		{days: 8, cycle: 10, wantFactor: 1.0, wantBoost: 1.0},  // exactly 0.8x
		{days: 20, cycle: 10, wantFactor: 0, wantBoost: 1.5},   // 2.0x
		{days: 30, cycle: 10, wantFactor: 0, wantBoost: 1.5},   // beyond, capped
		{days: 15, cycle: 10, wantFactor: (2.0 - 1.5) / 1.2, wantBoost: 1.25},
	}
	for _, tc := range cases {
		factor, boost := recency(tc.days, tc.cycle)
		if !approxEqual(factor, tc.wantFactor) {
			t.Errorf("recency(%d, %.0f) factor = %.4f, want %.4f", tc.days, tc.cycle, factor, tc.wantFactor)
		}
		if !approxEqual(boost, tc.wantBoost) {
			t.Errorf("recency(%d, %.0f) boost = %.4f, want %.4f", tc.days, tc.cycle, boost, tc.wantBoost)
		}
	}
}

func TestAssignTierTable(t *testing.T) {
	cases := []struct {
		name       string
		f          Features
		hasHistory bool
		want       domain.Tier
	}{
		{"must stock", Features{FrequencyPct: 75, DaysSinceLastPurchase: 9, PurchaseCycleDays: 10, Purchases: 6}, true, domain.TierMustStock},
		{"high freq but fresh", Features{FrequencyPct: 75, DaysSinceLastPurchase: 2, PurchaseCycleDays: 10, Purchases: 6}, true, domain.TierConsider},
		{"should stock", Features{FrequencyPct: 50, DaysSinceLastPurchase: 7, PurchaseCycleDays: 10, Purchases: 3}, true, domain.TierShouldStock},
		{"consider", Features{FrequencyPct: 25, DaysSinceLastPurchase: 1, PurchaseCycleDays: 10, Purchases: 2}, true, domain.TierConsider},
		{"new customer", Features{FrequencyPct: 0, DaysSinceLastPurchase: 365, PurchaseCycleDays: 10, Purchases: 0}, true, domain.TierNewCustomer},
		{"monitor without history", Features{FrequencyPct: 0, DaysSinceLastPurchase: 365, PurchaseCycleDays: 10, Purchases: 0}, false, domain.TierMonitor},
		{"monitor low freq", Features{FrequencyPct: 10, DaysSinceLastPurchase: 5, PurchaseCycleDays: 10, Purchases: 1}, true, domain.TierMonitor},
	}
	for _, tc := range cases {
		if got := assignTier(tc.f, tc.hasHistory); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestTrialQuantityFromMustStockMedian(t *testing.T) {
	eng := NewEngine(testConfig(), logging.NewNopLogger())

	candidates := []*candidate{
		{customer: "M1", item: "X", tier: domain.TierMustStock, features: Features{AvgQtyPerVisit: 2}},
		{customer: "M2", item: "X", tier: domain.TierMustStock, features: Features{AvgQtyPerVisit: 2}},
		{customer: "M3", item: "X", tier: domain.TierMustStock, features: Features{AvgQtyPerVisit: 6}},
		{customer: "N1", item: "X", tier: domain.TierNewCustomer},
		{customer: "N2", item: "Y", tier: domain.TierNewCustomer},
	}
	eng.proposeTrialQuantities(candidates, []string{"X", "Y"})

	// median avg for X is 2, above the minimum of 1 and below the ceiling
	if candidates[3].proposed != 2 {
		t.Errorf("expected trial qty 2 for N1, got %d", candidates[3].proposed)
	}
	// no MUST_STOCK peers on Y: floor of 1
	if candidates[4].proposed != 1 {
		t.Errorf("expected trial qty 1 for N2, got %d", candidates[4].proposed)
	}
}

func TestTrialQuantityCeiling(t *testing.T) {
	eng := NewEngine(testConfig(), logging.NewNopLogger())

	candidates := []*candidate{
		{customer: "M1", item: "X", tier: domain.TierMustStock, features: Features{AvgQtyPerVisit: 9}},
		{customer: "N1", item: "X", tier: domain.TierNewCustomer},
	}
	eng.proposeTrialQuantities(candidates, []string{"X"})
	if candidates[1].proposed != 3 {
		t.Errorf("expected trial qty capped at 3, got %d", candidates[1].proposed)
	}
}

func TestAllocationTieBreak(t *testing.T) {
	// two candidates with identical priority competing for the last unit:
	// the lexicographically smaller customer wins, the other is dropped
	candidates := []*candidate{
		{customer: "C-B", item: "X", proposed: 1, priority: 42.0},
		{customer: "C-A", item: "X", proposed: 1, priority: 42.0},
	}
	granted := allocate(candidates, map[string]int{"X": 1})

	if len(granted) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(granted))
	}
	if granted[0].customer != "C-A" {
		t.Errorf("expected C-A to win the tie-break, got %s", granted[0].customer)
	}
}

func TestAllocationHonorsVanLoadExactly(t *testing.T) {
	candidates := []*candidate{
		{customer: "C1", item: "X", proposed: 6, priority: 90},
		{customer: "C2", item: "X", proposed: 6, priority: 80},
		{customer: "C3", item: "X", proposed: 6, priority: 70},
	}
	granted := allocate(candidates, map[string]int{"X": 10})

	total := 0
	for _, c := range granted {
		if c.proposed < 1 {
			t.Errorf("granted quantity below 1 for %s", c.customer)
		}
		total += c.proposed
	}
	if total != 10 {
		t.Errorf("expected total granted 10, got %d", total)
	}
	// C3 gets nothing once capacity is exhausted
	for _, c := range granted {
		if c.customer == "C3" {
			t.Errorf("expected C3 to be dropped, got grant of %d", c.proposed)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	eng := NewEngine(testConfig(), logging.NewNopLogger())

	history := []domain.SalesFact{
		fact("2025-09-01", "C1", "X", 5), fact("2025-09-08", "C1", "X", 5),
		fact("2025-09-15", "C1", "X", 5), fact("2025-09-22", "C1", "X", 4),
		fact("2025-09-02", "C2", "X", 3), fact("2025-09-09", "C2", "X", 3),
		fact("2025-09-16", "C2", "Y", 2), fact("2025-09-23", "C2", "X", 3),
		fact("2025-09-05", "C3", "Y", 8), fact("2025-09-19", "C3", "Y", 8),
	}
	in := Inputs{
		Route:    "R1",
		Date:     day("2025-10-09"),
		Roster:   roster("C1", "C2", "C3"),
		History:  history,
		Forecast: []domain.ForecastRow{forecast("X", 12), forecast("Y", 10)},
		Now:      day("2025-10-08"),
	}

	first, err := eng.Generate(in)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	second, err := eng.Generate(in)
	if err != nil {
		t.Fatalf("second generate failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected identical output for identical inputs")
	}

	// invariants: every row positive and per-item totals within van load
	perItem := map[string]int{}
	for _, r := range first {
		if r.RecommendedQty < 1 {
			t.Errorf("row %s/%s has quantity %d", r.CustomerCode, r.ItemCode, r.RecommendedQty)
		}
		if r.RecommendedQty > r.VanLoad {
			t.Errorf("row %s/%s exceeds van load", r.CustomerCode, r.ItemCode)
		}
		perItem[r.ItemCode] += r.RecommendedQty
	}
	if perItem["X"] > 12 || perItem["Y"] > 10 {
		t.Errorf("per-item totals exceed van load: %v", perItem)
	}
}

func approxEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func errorIs(err, target error) bool {
	return errors.Is(err, target)
}

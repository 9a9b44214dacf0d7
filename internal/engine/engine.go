// internal/engine/engine.go
package engine

import (
	"math"
	"sort"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/util"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// GeneratedByTag identifies engine-produced rows in the recommendations table.
const GeneratedByTag = "tiered-engine/v2"

// Engine derives per-customer per-SKU recommendations for one (route, date)
// from the sales history, the journey plan roster and the demand forecast.
// For fixed inputs the output is identical, including ordering; ties break
// lexicographically.
type Engine struct {
	cfg    *types.Config
	logger logging.AdvisorLogger
}

// Inputs is one generation request with its snapshots pinned.
type Inputs struct {
	Route    string
	Date     time.Time
	Roster   []domain.JourneyPlanEntry
	History  []domain.SalesFact
	Forecast []domain.ForecastRow
	Now      time.Time // stamped on output rows
}

// candidate is one (customer, item) pair competing for van capacity.
type candidate struct {
	customer string
	item     string
	tier     domain.Tier
	proposed int
	features Features
	priority float64
}

// NewEngine creates a recommendation engine.
func NewEngine(cfg *types.Config, logger logging.AdvisorLogger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With(zap.String("component", "engine"))}
}

// Generate produces the ordered recommendation rowset for the inputs.
// It fails with ErrInsufficientData on an empty roster or a missing forecast.
func (e *Engine) Generate(in Inputs) ([]domain.Recommendation, error) {
	if len(in.Roster) == 0 {
		return nil, errors.Wrapf(domain.ErrInsufficientData, "empty roster for route %s on %s", in.Route, domain.DateKey(in.Date))
	}
	if len(in.Forecast) == 0 {
		return nil, errors.Wrapf(domain.ErrInsufficientData, "no forecast for route %s on %s", in.Route, domain.DateKey(in.Date))
	}

	// Van capacity per item comes straight from the forecast.
	vanLoad := make(map[string]int, len(in.Forecast))
	items := make([]string, 0, len(in.Forecast))
	for _, f := range in.Forecast {
		if f.PredictedQuantity <= 0 {
			continue
		}
		if _, ok := vanLoad[f.ItemCode]; !ok {
			items = append(items, f.ItemCode)
		}
		vanLoad[f.ItemCode] += f.PredictedQuantity
	}
	sort.Strings(items)

	roster := make([]string, 0, len(in.Roster))
	seen := make(map[string]bool, len(in.Roster))
	for _, entry := range in.Roster {
		if !seen[entry.CustomerCode] {
			seen[entry.CustomerCode] = true
			roster = append(roster, entry.CustomerCode)
		}
	}
	sort.Strings(roster)

	fe := newFeatureExtractor(in.History, in.Date, e.cfg.Recommendation.HistoryDays)

	candidates := e.buildCandidates(fe, roster, items)
	e.proposeTrialQuantities(candidates, items)

	granted := allocate(candidates, vanLoad)

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows := make([]domain.Recommendation, 0, len(granted))
	for _, c := range granted {
		rows = append(rows, domain.Recommendation{
			Date:                  in.Date,
			RouteCode:             in.Route,
			CustomerCode:          c.customer,
			ItemCode:              c.item,
			RecommendedQty:        c.proposed,
			Tier:                  c.tier,
			VanLoad:               vanLoad[c.item],
			PriorityScore:         c.priority,
			AvgQtyPerVisit:        c.features.AvgQtyPerVisit,
			DaysSinceLastPurchase: c.features.DaysSinceLastPurchase,
			PurchaseCycleDays:     c.features.PurchaseCycleDays,
			FrequencyPct:          c.features.FrequencyPct,
			GeneratedAt:           now,
			GeneratedBy:           GeneratedByTag,
		})
	}

	e.logger.Debug("Generation complete",
		zap.String("route", in.Route),
		zap.String("date", domain.DateKey(in.Date)),
		zap.Int("candidates", len(candidates)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// buildCandidates extracts features and assigns tiers for every
// (roster customer, forecast item) pair. roster and items are sorted, so the
// candidate list order is deterministic before the priority sort.
func (e *Engine) buildCandidates(fe *featureExtractor, roster, items []string) []*candidate {
	candidates := make([]*candidate, 0, len(roster)*len(items))
	for _, customer := range roster {
		for _, item := range items {
			f := fe.Extract(customer, item)
			tier := assignTier(f, fe.HasHistory(customer))
			c := &candidate{
				customer: customer,
				item:     item,
				tier:     tier,
				features: f,
				priority: f.PriorityScore(),
			}
			if tier != domain.TierNewCustomer {
				c.proposed = f.AvgQtyPerVisit
			}
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// assignTier applies the threshold table top to bottom; the first match wins.
func assignTier(f Features, hasHistory bool) domain.Tier {
	cycle := f.PurchaseCycleDays
	days := float64(f.DaysSinceLastPurchase)

	switch {
	case f.FrequencyPct >= 70 && days >= 0.8*cycle:
		return domain.TierMustStock
	case f.FrequencyPct >= 40 && days >= 0.6*cycle:
		return domain.TierShouldStock
	case f.FrequencyPct >= 20:
		return domain.TierConsider
	case f.Purchases == 0 && hasHistory:
		return domain.TierNewCustomer
	default:
		return domain.TierMonitor
	}
}

// proposeTrialQuantities fills the NEW_CUSTOMER proposals: the floor of the
// median avg-quantity-per-visit across MUST_STOCK customers for the same
// item, at least 1, capped by the trial ceiling.
func (e *Engine) proposeTrialQuantities(candidates []*candidate, items []string) {
	mustAvgs := make(map[string][]int, len(items))
	for _, c := range candidates {
		if c.tier == domain.TierMustStock {
			mustAvgs[c.item] = append(mustAvgs[c.item], c.features.AvgQtyPerVisit)
		}
	}

	ceiling := e.cfg.Recommendation.TrialQuantityCeiling
	for _, c := range candidates {
		if c.tier != domain.TierNewCustomer {
			continue
		}
		trial := 1
		if avgs := mustAvgs[c.item]; len(avgs) > 0 {
			if m := int(math.Floor(util.MedianInt(avgs))); m > trial {
				trial = m
			}
		}
		c.proposed = util.MinInt(trial, ceiling)
	}
}

// allocate walks the priority-ordered candidates, granting each one
// min(proposed, remaining van load) and dropping candidates that end at 0.
// Van capacity is the hard binding constraint and is honored exactly.
func allocate(candidates []*candidate, vanLoad map[string]int) []*candidate {
	sorted := make([]*candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].priority != sorted[j].priority {
			return sorted[i].priority > sorted[j].priority
		}
		if sorted[i].customer != sorted[j].customer {
			return sorted[i].customer < sorted[j].customer
		}
		return sorted[i].item < sorted[j].item
	})

	remaining := make(map[string]int, len(vanLoad))
	for item, load := range vanLoad {
		remaining[item] = load
	}

	granted := make([]*candidate, 0, len(sorted))
	for _, c := range sorted {
		qty := util.MinInt(c.proposed, remaining[c.item])
		if qty <= 0 {
			continue
		}
		c.proposed = qty
		remaining[c.item] -= qty
		granted = append(granted, c)
	}
	return granted
}

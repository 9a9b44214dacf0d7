// internal/engine/features.go
package engine

import (
	"sort"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/util"
)

// Features holds the per-(customer, item) signals extracted from the sales
// history window.
type Features struct {
	Purchases             int     // distinct dates the customer bought the item
	TotalVisits           int     // distinct dates the customer appears on the route
	AvgQtyPerVisit        int     // round(total qty / purchases), 0 when never bought
	DaysSinceLastPurchase int     // capped at the history window when never bought
	PurchaseCycleDays     float64 // avg gap between consecutive purchase dates
	FrequencyPct          float64 // 100 * purchases / total visits
	RecencyFactor         float64
	OverdueBoost          float64
}

// PriorityScore combines frequency and recency into the allocation ordering
// signal: higher is more urgent.
func (f Features) PriorityScore() float64 {
	return f.FrequencyPct * f.RecencyFactor * f.OverdueBoost
}

// customerStats aggregates one customer's history on the route.
type customerStats struct {
	visitDates map[string]bool
	items      map[string]*itemStats
}

type itemStats struct {
	purchaseDates []time.Time // sorted, distinct
	totalQty      int
}

// featureExtractor computes Features for every (customer, item) pair against
// a single history snapshot. The extractor precomputes the per-customer and
// route-level cycle medians used as fallbacks for thin histories.
type featureExtractor struct {
	historyDays int
	date        time.Time

	customers        map[string]*customerStats
	routeCycleMedian float64
}

func newFeatureExtractor(history []domain.SalesFact, date time.Time, historyDays int) *featureExtractor {
	fe := &featureExtractor{
		historyDays: historyDays,
		date:        date,
		customers:   make(map[string]*customerStats),
	}

	for _, fact := range history {
		// only facts strictly before the delivery date inform the features
		if !fact.Date.Before(date) {
			continue
		}
		cs := fe.customers[fact.CustomerCode]
		if cs == nil {
			cs = &customerStats{
				visitDates: make(map[string]bool),
				items:      make(map[string]*itemStats),
			}
			fe.customers[fact.CustomerCode] = cs
		}
		dayKey := domain.DateKey(fact.Date)
		cs.visitDates[dayKey] = true

		is := cs.items[fact.ItemCode]
		if is == nil {
			is = &itemStats{}
			cs.items[fact.ItemCode] = is
		}
		if len(is.purchaseDates) == 0 || domain.DateKey(is.purchaseDates[len(is.purchaseDates)-1]) != dayKey {
			is.purchaseDates = append(is.purchaseDates, fact.Date)
		}
		is.totalQty += fact.Quantity
	}

	// purchase dates arrive ordered from the warehouse, but the CSV fallback
	// gives no such guarantee
	var allCycles []float64
	for _, cs := range fe.customers {
		for _, is := range cs.items {
			sort.Slice(is.purchaseDates, func(i, j int) bool {
				return is.purchaseDates[i].Before(is.purchaseDates[j])
			})
			// same-day repeats that were not adjacent before the sort
			distinct := is.purchaseDates[:0]
			for _, d := range is.purchaseDates {
				if len(distinct) == 0 || domain.DateKey(distinct[len(distinct)-1]) != domain.DateKey(d) {
					distinct = append(distinct, d)
				}
			}
			is.purchaseDates = distinct
			if c := avgGapDays(is.purchaseDates); c > 0 {
				allCycles = append(allCycles, c)
			}
		}
	}
	fe.routeCycleMedian = util.MedianFloat(allCycles)
	return fe
}

// Extract computes the features for one (customer, item) pair.
func (fe *featureExtractor) Extract(customer, item string) Features {
	f := Features{
		DaysSinceLastPurchase: fe.historyDays,
	}

	cs := fe.customers[customer]
	if cs != nil {
		f.TotalVisits = len(cs.visitDates)
	}

	var is *itemStats
	if cs != nil {
		is = cs.items[item]
	}
	if is != nil {
		f.Purchases = len(is.purchaseDates)
		if f.Purchases > 0 {
			f.AvgQtyPerVisit = util.RoundToInt(float64(is.totalQty) / float64(f.Purchases))
			last := is.purchaseDates[len(is.purchaseDates)-1]
			days := int(fe.date.Sub(last).Hours() / 24)
			if days < 0 {
				days = 0
			}
			if days > fe.historyDays {
				days = fe.historyDays
			}
			f.DaysSinceLastPurchase = days
		}
	}

	f.PurchaseCycleDays = fe.cycleDays(cs, is)
	if f.TotalVisits > 0 {
		f.FrequencyPct = 100 * float64(f.Purchases) / float64(f.TotalVisits)
	}
	f.RecencyFactor, f.OverdueBoost = recency(f.DaysSinceLastPurchase, f.PurchaseCycleDays)
	return f
}

// cycleDays resolves the purchase cycle with the documented fallbacks: the
// item's own average gap, then the median cycle across the customer's items,
// then the route-level median, then the full history window.
func (fe *featureExtractor) cycleDays(cs *customerStats, is *itemStats) float64 {
	if is != nil && len(is.purchaseDates) >= 2 {
		return avgGapDays(is.purchaseDates)
	}
	if cs != nil {
		var cycles []float64
		for _, other := range cs.items {
			if c := avgGapDays(other.purchaseDates); c > 0 {
				cycles = append(cycles, c)
			}
		}
		if len(cycles) > 0 {
			return util.MedianFloat(cycles)
		}
	}
	if fe.routeCycleMedian > 0 {
		return fe.routeCycleMedian
	}
	return float64(fe.historyDays)
}

// recency maps days-since-last-purchase relative to the purchase cycle onto
// the decay factor and overdue boost:
//
//	ratio <= 0.8          factor 1.0
//	0.8 < ratio <= 2.0    factor decays linearly 1 -> 0
//	ratio > 2.0           factor 0
//
// The boost rises linearly from 1.0 at ratio 1.0 to 1.5 at ratio 2.0, capped.
func recency(daysSince int, cycleDays float64) (factor, boost float64) {
	if cycleDays <= 0 {
		return 0, 1
	}
	ratio := float64(daysSince) / cycleDays

	switch {
	case ratio <= 0.8:
		factor = 1.0
	case ratio <= 2.0:
		factor = (2.0 - ratio) / 1.2
	default:
		factor = 0
	}

	boost = 1.0
	if ratio > 1.0 {
		boost = util.Clamp(1.0+0.5*(ratio-1.0), 1.0, 1.5)
	}
	return factor, boost
}

// avgGapDays returns the average gap in days between consecutive dates, or 0
// for fewer than two dates.
func avgGapDays(dates []time.Time) float64 {
	if len(dates) < 2 {
		return 0
	}
	total := dates[len(dates)-1].Sub(dates[0]).Hours() / 24
	return total / float64(len(dates)-1)
}

// HasHistory reports whether the customer appears anywhere in the route's
// history window. Used by the NEW_CUSTOMER branch.
func (fe *featureExtractor) HasHistory(customer string) bool {
	cs := fe.customers[customer]
	return cs != nil && len(cs.visitDates) > 0
}

// internal/datamanager/snapshot.go
package datamanager

import (
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
)

// SnapshotSet is one immutable, internally consistent set of the four input
// datasets. Readers always observe a whole set; the reloader builds a new
// set off to the side and swaps the pointer.
type SnapshotSet struct {
	DemandHistory []domain.SalesFact
	Forecast      []domain.ForecastRow
	JourneyPlan   []domain.JourneyPlanEntry
	AsOf          time.Time

	// Indexes pinned at build time. Column types are fixed on load; a row
	// that fails to scan fails the whole load.
	historyByRoute  map[string][]domain.SalesFact
	historyByCust   map[string][]domain.SalesFact
	rosterByKey     map[string][]domain.JourneyPlanEntry
	forecastByKey   map[string][]domain.ForecastRow
}

func newSnapshotSet(
	history []domain.SalesFact,
	forecast []domain.ForecastRow,
	plan []domain.JourneyPlanEntry,
	asOf time.Time,
) *SnapshotSet {
	s := &SnapshotSet{
		DemandHistory: history,
		Forecast:      forecast,
		JourneyPlan:   plan,
		AsOf:          asOf,
		historyByRoute: make(map[string][]domain.SalesFact),
		historyByCust:  make(map[string][]domain.SalesFact),
		rosterByKey:    make(map[string][]domain.JourneyPlanEntry),
		forecastByKey:  make(map[string][]domain.ForecastRow),
	}

	for _, f := range history {
		s.historyByRoute[f.RouteCode] = append(s.historyByRoute[f.RouteCode], f)
		s.historyByCust[f.CustomerCode] = append(s.historyByCust[f.CustomerCode], f)
	}
	seen := make(map[string]bool)
	for _, p := range plan {
		key := rosterKey(p.RouteCode, p.Date)
		// (route, customer, date) appears at most once
		dup := key + "|" + p.CustomerCode
		if seen[dup] {
			continue
		}
		seen[dup] = true
		s.rosterByKey[key] = append(s.rosterByKey[key], p)
	}
	for _, f := range forecast {
		key := rosterKey(f.RouteCode, f.Date)
		s.forecastByKey[key] = append(s.forecastByKey[key], f)
	}
	return s
}

// RowCounts reports per-snapshot row counts for the health endpoint.
func (s *SnapshotSet) RowCounts() map[string]int {
	return map[string]int{
		"demand_history": len(s.DemandHistory),
		"forecast":       len(s.Forecast),
		"journey_plan":   len(s.JourneyPlan),
	}
}

func rosterKey(route string, date time.Time) string {
	return route + "|" + domain.DateKey(date)
}

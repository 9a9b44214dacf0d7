// internal/domain/entities.go
package domain

import (
	"time"
)

// DateLayout is the canonical wire and key format for business dates.
const DateLayout = "2006-01-02"

// Tier is the categorical priority label for a (customer, item) pair.
type Tier string

const (
	TierMustStock   Tier = "MUST_STOCK"
	TierShouldStock Tier = "SHOULD_STOCK"
	TierConsider    Tier = "CONSIDER"
	TierMonitor     Tier = "MONITOR"
	TierNewCustomer Tier = "NEW_CUSTOMER"
)

// SessionStatus represents the lifecycle state of a supervision session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// JourneyPlanEntry declares a planned visit of a customer on a route for a date.
// Each (route, customer, date) appears at most once.
type JourneyPlanEntry struct {
	RouteCode    string
	CustomerCode string
	Date         time.Time
	CustomerName string
}

// SalesFact is one line of the warehouse sales history: what a customer
// actually bought on a route on a date. Quantities are never negative.
type SalesFact struct {
	Date         time.Time
	RouteCode    string
	CustomerCode string
	ItemCode     string
	Quantity     int
	UnitPrice    float64
}

// ForecastRow is a pre-computed upstream demand prediction for one item on
// one route for one date. Read-only from this system's point of view.
type ForecastRow struct {
	Date              time.Time
	RouteCode         string
	ItemCode          string
	PredictedQuantity int
	PredictionType    string
}

// Item describes a SKU sold at outlets.
type Item struct {
	Code     string
	Name     string
	Category string
	Price    float64
}

// Recommendation is one persisted per-(date, route, customer, item)
// recommendation row. Rows are created by the engine, read by supervision
// and the UI, and never mutated after insertion.
type Recommendation struct {
	Date         time.Time
	RouteCode    string
	CustomerCode string
	ItemCode     string

	RecommendedQty int
	Tier           Tier
	VanLoad        int     // warehouse allocation snapshot at generation time
	PriorityScore  float64 // higher = more urgent

	AvgQtyPerVisit        int
	DaysSinceLastPurchase int
	PurchaseCycleDays     float64
	FrequencyPct          float64

	GeneratedAt time.Time
	GeneratedBy string
}

// SessionCounters is the counter block shared by the session scope and the
// per-customer scope.
type SessionCounters struct {
	CustomersPlanned   int `json:"customers_planned"`
	CustomersVisited   int `json:"customers_visited"`
	SKUsRecommended    int `json:"skus_recommended"`
	SKUsSold           int `json:"skus_sold"`
	QtyRecommended     int `json:"qty_recommended"`
	QtyActual          int `json:"qty_actual"`
	RedistributionCnt  int `json:"redistribution_count"`
	RedistributionQty  int `json:"redistribution_qty"`
}

// SessionSnapshot is the persisted form of one supervision session.
type SessionSnapshot struct {
	SessionID        string
	RouteCode        string
	Date             time.Time
	Status           SessionStatus
	Counters         SessionCounters
	PerformanceScore float64
	PerformanceLabel string
	RecordVersion    int
	Narrative        string
	StartedAt        time.Time
	CompletedAt      *time.Time

	Visits []VisitRecord
	Items  []ItemDetail
}

// VisitRecord is one visited customer within a session. Visit sequences are
// strictly increasing in the order of accepted visits.
type VisitRecord struct {
	CustomerCode     string
	VisitSequence    int
	VisitTimestamp   time.Time
	Counters         SessionCounters
	PerformanceScore float64
	PerformanceLabel string
	Narrative        string
}

// ItemDetail is one (visited customer, recommended item) pair within a
// session, carrying both the recommendation snapshot and the reported actuals.
type ItemDetail struct {
	CustomerCode string
	ItemCode     string

	OriginalRecommendedQty   int
	AdjustedRecommendedQty   int
	RecommendationAdjustment int // adjusted - original

	OriginalActualQty int
	FinalActualQty    int
	ActualAdjustment  int // final - original

	WasManuallyEdited bool
	WasItemSold       bool // final actual qty > 0

	Tier                  Tier
	PriorityScore         float64
	VanInventoryQty       int
	DaysSinceLastPurchase int
	PurchaseCycleDays     float64
	PurchaseFrequencyPct  float64
}

// RedistributionResult reports the outcome of the stock redistribution step
// of one processed visit. A non-empty ItemsNotRedistributed is not an error.
type RedistributionResult struct {
	Count                 int              `json:"count"`
	Qty                   int              `json:"qty"`
	ItemsNotRedistributed []string         `json:"items_not_redistributed"`
	Adjustments           map[string][]Adjustment `json:"adjustments,omitempty"`
}

// Adjustment is one redistribution grant: qty added to a still-unvisited
// customer's adjusted recommendation for an item.
type Adjustment struct {
	CustomerCode string `json:"customer_code"`
	ItemCode     string `json:"item_code"`
	Qty          int    `json:"qty"`
}

// FilterOptions carries the distinct values used by cascading UI dropdowns.
type FilterOptions struct {
	Routes    []string `json:"routes"`
	Customers []string `json:"customers"`
	Items     []string `json:"items"`
}

// PerformanceLabel maps a 0-100 score to its operator-facing label.
func PerformanceLabel(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 75:
		return "Good"
	case score >= 50:
		return "Average"
	default:
		return "Poor"
	}
}

// DateKey formats a business date for use in map keys and wire payloads.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a canonical business date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// internal/database/queries.go
package database

import (
	"fmt"
	"strings"
)

// QueryTemplate is a named, versioned SQL template. Templates are the only
// way SQL reaches the warehouse from the read path; ad-hoc strings do not
// pass through the registry.
type QueryTemplate struct {
	Name    string
	Version int
	SQL     string
}

// TemplateRegistry holds the loaded query templates. Loading rejects any
// template that scans the multi-year sales fact table without a bounding
// date predicate; the product only ever uses recent history.
type TemplateRegistry struct {
	templates map[string]QueryTemplate
}

// Tables scanned on the warehouse that require a date bound.
var boundedTables = []string{"sales_facts"}

// Query names used by the data manager and storage layers.
const (
	QueryDemandHistory   = "demand_history"
	QueryCustomerHistory = "customer_history"
	QueryJourneyPlan     = "journey_plan"
	QueryForecast        = "forecast_window"
	QueryRetentionSweep  = "recommendation_retention_sweep"
)

// LoadTemplates builds the registry. historyDays caps the sales-history scan
// window; templates never exceed 365 days regardless of configuration.
func LoadTemplates(historyDays int) (*TemplateRegistry, error) {
	if historyDays <= 0 || historyDays > 365 {
		historyDays = 365
	}

	raw := []QueryTemplate{
		{
			Name:    QueryDemandHistory,
			Version: 2,
			SQL: fmt.Sprintf(`
				SELECT sale_date, route_code, customer_code, item_code, quantity, unit_price
				FROM sales_facts
				WHERE sale_date >= CURRENT_DATE - INTERVAL '%d days'
				ORDER BY sale_date, route_code, customer_code, item_code`, historyDays),
		},
		{
			Name:    QueryCustomerHistory,
			Version: 2,
			SQL: fmt.Sprintf(`
				SELECT sale_date, route_code, customer_code, item_code, quantity, unit_price
				FROM sales_facts
				WHERE route_code = $1
				  AND sale_date >= CURRENT_DATE - INTERVAL '%d days'
				ORDER BY sale_date, customer_code, item_code`, historyDays),
		},
		{
			Name:    QueryJourneyPlan,
			Version: 1,
			SQL: `
				SELECT route_code, customer_code, visit_date, COALESCE(customer_name, '')
				FROM journey_plan
				WHERE visit_date BETWEEN CURRENT_DATE - $1::int AND CURRENT_DATE + $1::int
				ORDER BY visit_date, route_code, customer_code`,
		},
		{
			Name:    QueryForecast,
			Version: 1,
			SQL: `
				SELECT forecast_date, route_code, item_code, predicted_quantity, prediction_type
				FROM demand_forecast
				WHERE forecast_date BETWEEN CURRENT_DATE - $1::int AND CURRENT_DATE + $1::int
				ORDER BY forecast_date, route_code, item_code`,
		},
		{
			Name:    QueryRetentionSweep,
			Version: 1,
			SQL:     `DELETE FROM recommendations WHERE rec_date < CURRENT_DATE - $1::int`,
		},
	}

	reg := &TemplateRegistry{templates: make(map[string]QueryTemplate, len(raw))}
	for _, t := range raw {
		if err := validateBounded(t); err != nil {
			return nil, err
		}
		reg.templates[t.Name] = t
	}
	return reg, nil
}

// Get returns a template by name.
func (r *TemplateRegistry) Get(name string) (QueryTemplate, error) {
	t, ok := r.templates[name]
	if !ok {
		return QueryTemplate{}, fmt.Errorf("unknown query template: %s", name)
	}
	return t, nil
}

// Names lists the registered template names.
func (r *TemplateRegistry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for n := range r.templates {
		names = append(names, n)
	}
	return names
}

// validateBounded rejects templates that scan a bounded table without a
// date predicate in the WHERE clause.
func validateBounded(t QueryTemplate) error {
	sql := strings.ToLower(t.SQL)
	for _, table := range boundedTables {
		if !strings.Contains(sql, table) {
			continue
		}
		if !strings.Contains(sql, "where") {
			return fmt.Errorf("template %s scans %s without a WHERE clause", t.Name, table)
		}
		if !strings.Contains(sql, "date") || !(strings.Contains(sql, "interval") || strings.Contains(sql, "between") || strings.Contains(sql, ">=")) {
			return fmt.Errorf("template %s scans %s without a bounding date predicate", t.Name, table)
		}
	}
	return nil
}

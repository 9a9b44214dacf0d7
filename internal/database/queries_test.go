package database

import (
	"strings"
	"testing"
)

func TestLoadTemplatesRegistersAll(t *testing.T) {
	reg, err := LoadTemplates(365)
	if err != nil {
		t.Fatalf("template load failed: %v", err)
	}

	for _, name := range []string{
		QueryDemandHistory, QueryCustomerHistory, QueryJourneyPlan,
		QueryForecast, QueryRetentionSweep,
	} {
		if _, err := reg.Get(name); err != nil {
			t.Errorf("missing template %s: %v", name, err)
		}
	}

	if _, err := reg.Get("no_such_query"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestHistoryWindowNeverExceedsAYear(t *testing.T) {
	reg, err := LoadTemplates(9000)
	if err != nil {
		t.Fatalf("template load failed: %v", err)
	}
	tmpl, _ := reg.Get(QueryDemandHistory)
	if !strings.Contains(tmpl.SQL, "365 days") {
		t.Errorf("expected the scan window clamped to 365 days, got:\n%s", tmpl.SQL)
	}
}

func TestUnboundedSalesScanIsRejected(t *testing.T) {
	cases := []QueryTemplate{
		{Name: "bad_no_where", SQL: `SELECT * FROM sales_facts`},
		{Name: "bad_no_date", SQL: `SELECT * FROM sales_facts WHERE route_code = $1`},
	}
	for _, tc := range cases {
		if err := validateBounded(tc); err == nil {
			t.Errorf("template %s should have been rejected", tc.Name)
		}
	}

	good := QueryTemplate{
		Name: "good",
		SQL:  `SELECT * FROM sales_facts WHERE sale_date >= CURRENT_DATE - INTERVAL '90 days'`,
	}
	if err := validateBounded(good); err != nil {
		t.Errorf("bounded template rejected: %v", err)
	}
}

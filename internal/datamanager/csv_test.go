package datamanager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestReadSalesFactsCSV(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, csvDemandHistory,
		"sale_date,route_code,customer_code,item_code,quantity,unit_price\n"+
			"2025-09-01,R1,C1,X,5,2.50\n"+
			"2025-09-08,R1,C2,Y,3,1.75\n")

	facts, err := readSalesFactsCSV(filepath.Join(dir, csvDemandHistory))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].CustomerCode != "C1" || facts[0].Quantity != 5 || facts[0].UnitPrice != 2.50 {
		t.Errorf("unexpected first fact: %+v", facts[0])
	}
}

func TestReadSalesFactsCSVRejectsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, csvDemandHistory,
		"sale_date,route_code,customer_code,item_code,quantity,unit_price\n"+
			"2025-09-01,R1,C1,X,notanumber,2.50\n")

	if _, err := readSalesFactsCSV(filepath.Join(dir, csvDemandHistory)); err == nil {
		t.Fatal("expected error for malformed quantity")
	}
}

func TestSnapshotSetIndexesAndDedup(t *testing.T) {
	date := mustDay(t, "2025-10-09")
	plan := []domain.JourneyPlanEntry{
		{RouteCode: "R1", CustomerCode: "C1", Date: date},
		{RouteCode: "R1", CustomerCode: "C1", Date: date}, // duplicate entry
		{RouteCode: "R1", CustomerCode: "C2", Date: date},
	}
	history := []domain.SalesFact{
		{Date: mustDay(t, "2025-09-01"), RouteCode: "R1", CustomerCode: "C1", ItemCode: "X", Quantity: 5},
	}
	forecast := []domain.ForecastRow{
		{Date: date, RouteCode: "R1", ItemCode: "X", PredictedQuantity: 10},
	}

	s := newSnapshotSet(history, forecast, plan, date)

	if got := len(s.rosterByKey[rosterKey("R1", date)]); got != 2 {
		t.Errorf("expected deduplicated roster of 2, got %d", got)
	}
	if got := len(s.historyByRoute["R1"]); got != 1 {
		t.Errorf("expected 1 history row for R1, got %d", got)
	}
	if got := len(s.forecastByKey[rosterKey("R1", date)]); got != 1 {
		t.Errorf("expected 1 forecast row, got %d", got)
	}

	counts := s.RowCounts()
	if counts["journey_plan"] != 3 || counts["demand_history"] != 1 {
		t.Errorf("unexpected row counts: %v", counts)
	}
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date fixture %q: %v", s, err)
	}
	return d
}

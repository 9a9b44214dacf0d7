package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/engine"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/narrative"
	"github.com/vansales/stockadvisor/pkg/types"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeRecStore is an in-memory RecommendationStore with save accounting.
type fakeRecStore struct {
	mu    sync.Mutex
	rows  map[string][]domain.Recommendation
	saves int32
}

func newFakeRecStore() *fakeRecStore {
	return &fakeRecStore{rows: make(map[string][]domain.Recommendation)}
}

func storeKey(date time.Time, route string) string {
	return route + "|" + domain.DateKey(date)
}

func (f *fakeRecStore) Get(_ context.Context, date time.Time, route string) ([]domain.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[storeKey(date, route)]
	out := make([]domain.Recommendation, len(rows))
	copy(out, rows)
	return out, nil
}

func (f *fakeRecStore) Save(_ context.Context, date time.Time, route string, rows []domain.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt32(&f.saves, 1)
	kept := make([]domain.Recommendation, len(rows))
	copy(kept, rows)
	f.rows[storeKey(date, route)] = kept
	return nil
}

func (f *fakeRecStore) FilterOptions(context.Context, time.Time, string, string) (*domain.FilterOptions, error) {
	return &domain.FilterOptions{}, nil
}

// fakeProvider serves fixed snapshots with an optional artificial delay to
// widen race windows in the coalescing test.
type fakeProvider struct {
	delay time.Duration
}

func (f *fakeProvider) Roster(route string, date time.Time) ([]domain.JourneyPlanEntry, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return []domain.JourneyPlanEntry{
		{RouteCode: route, CustomerCode: "C1", Date: date},
		{RouteCode: route, CustomerCode: "C2", Date: date},
	}, nil
}

func (f *fakeProvider) History(route string) ([]domain.SalesFact, error) {
	facts := []domain.SalesFact{}
	for _, d := range []string{"2025-09-04", "2025-09-11", "2025-09-18", "2025-09-25"} {
		facts = append(facts,
			domain.SalesFact{Date: day(d), RouteCode: route, CustomerCode: "C1", ItemCode: "X", Quantity: 5, UnitPrice: 2},
			domain.SalesFact{Date: day(d), RouteCode: route, CustomerCode: "C2", ItemCode: "X", Quantity: 3, UnitPrice: 2},
		)
	}
	return facts, nil
}

func (f *fakeProvider) Forecast(route string, date time.Time) ([]domain.ForecastRow, error) {
	return []domain.ForecastRow{
		{Date: date, RouteCode: route, ItemCode: "X", PredictedQuantity: 20, PredictionType: "daily"},
	}, nil
}

// fakeSessStore implements optimistic locking in memory.
type fakeSessStore struct {
	mu       sync.Mutex
	snaps    map[string]*domain.SessionSnapshot
	versions map[string]int
}

func newFakeSessStore() *fakeSessStore {
	return &fakeSessStore{
		snaps:    make(map[string]*domain.SessionSnapshot),
		versions: make(map[string]int),
	}
}

func (f *fakeSessStore) SaveSnapshot(_ context.Context, snap *domain.SessionSnapshot, expected int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := snap.RouteCode + "|" + domain.DateKey(snap.Date)
	if f.versions[key] != expected {
		return domain.ErrVersionConflict
	}
	f.versions[key] = snap.RecordVersion
	f.snaps[key] = snap
	return nil
}

func (f *fakeSessStore) LoadSnapshot(_ context.Context, route string, date time.Time) (*domain.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[route+"|"+domain.DateKey(date)], nil
}

func testOrchestrator(provider domain.SnapshotProvider, recs domain.RecommendationStore, sessions domain.SessionStore) *Orchestrator {
	cfg := &types.Config{}
	cfg.ApplyDefaults()
	logger := logging.NewNopLogger()
	eng := engine.NewEngine(cfg, logger)
	analyzer := narrative.NewService(narrative.StaticUpstream{}, cfg, logger)
	return New(cfg, provider, eng, recs, sessions, analyzer, nil, logger)
}

func TestGetGenerateEquivalence(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{}, store, newFakeSessStore())
	date := day("2025-10-09")

	first, err := o.GetRecommendations(context.Background(), date, "R1004", nil)
	if err != nil {
		t.Fatalf("cold read failed: %v", err)
	}
	if first.Source != SourceGenerated {
		t.Fatalf("expected generated source, got %s", first.Source)
	}
	if first.Count == 0 {
		t.Fatal("expected generated rows")
	}

	second, err := o.GetRecommendations(context.Background(), date, "R1004", nil)
	if err != nil {
		t.Fatalf("warm read failed: %v", err)
	}
	if second.Source != SourceDatabase {
		t.Fatalf("expected database source, got %s", second.Source)
	}
	if !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Fatal("expected byte-identical rows in the same order")
	}
}

func TestConcurrentGenerationsCoalesce(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{delay: 20 * time.Millisecond}, store, newFakeSessStore())
	date := day("2025-10-09")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.GetRecommendations(context.Background(), date, "R1004", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	if saves := atomic.LoadInt32(&store.saves); saves != 1 {
		t.Fatalf("expected exactly one underlying generation, got %d saves", saves)
	}
}

func TestPreGenerateDailyIsIdempotent(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{}, store, newFakeSessStore())
	date := day("2025-10-10")
	routes := []string{"R1", "R2"}

	first, err := o.PreGenerateDaily(context.Background(), date, routes)
	if err != nil {
		t.Fatalf("pre-generation failed: %v", err)
	}
	for route, r := range first {
		if r.Status != "generated" {
			t.Errorf("route %s: expected generated, got %s (%s)", route, r.Status, r.Error)
		}
	}

	second, err := o.PreGenerateDaily(context.Background(), date, routes)
	if err != nil {
		t.Fatalf("second pre-generation failed: %v", err)
	}
	for route, r := range second {
		if r.Status != "skipped" {
			t.Errorf("route %s: expected skipped on rerun, got %s", route, r.Status)
		}
		if r.Count != first[route].Count {
			t.Errorf("route %s: skipped count %d != generated count %d", route, r.Count, first[route].Count)
		}
	}
}

func TestLoadSupervisionModes(t *testing.T) {
	store := newFakeRecStore()
	sessions := newFakeSessStore()
	o := testOrchestrator(&fakeProvider{}, store, sessions)
	date := day("2025-10-09")

	// nothing generated yet
	_, err := o.LoadSupervision(context.Background(), "R1", date)
	if !errors.Is(err, domain.ErrNoRecommendations) {
		t.Fatalf("expected NoRecommendations, got %v", err)
	}

	if _, err := o.GetRecommendations(context.Background(), date, "R1", nil); err != nil {
		t.Fatal(err)
	}

	view, err := o.LoadSupervision(context.Background(), "R1", date)
	if err != nil {
		t.Fatalf("live load failed: %v", err)
	}
	if view.Mode != "live" {
		t.Fatalf("expected live mode, got %s", view.Mode)
	}

	if _, err := o.ProcessVisit(context.Background(), "R1", date, "C1", map[string]int{"X": 5}); err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	if _, err := o.SaveSession(context.Background(), "R1", date); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	view, err = o.LoadSupervision(context.Background(), "R1", date)
	if err != nil {
		t.Fatalf("historical load failed: %v", err)
	}
	if view.Mode != "historical" {
		t.Fatalf("expected historical mode after save, got %s", view.Mode)
	}
	if view.Payload.Counters.CustomersVisited != 1 {
		t.Errorf("expected one visited customer in the saved payload, got %d",
			view.Payload.Counters.CustomersVisited)
	}
}

func TestAbandonCancelsNarrativeContext(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{}, store, newFakeSessStore())
	date := day("2025-10-09")

	if _, err := o.GetRecommendations(context.Background(), date, "R1", nil); err != nil {
		t.Fatal(err)
	}
	view, err := o.LoadSupervision(context.Background(), "R1", date)
	if err != nil {
		t.Fatal(err)
	}
	sessionID := view.Payload.SessionID

	narrCtx := o.narrativeContext(context.Background(), sessionID)
	if err := o.AbandonSession("R1", date); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}

	select {
	case <-narrCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("abandon must cancel outstanding narrative contexts")
	}

	if err := o.AbandonSession("R1", date); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for a second abandon, got %v", err)
	}
}

func TestAnalyzeCustomerRequiresVisit(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{}, store, newFakeSessStore())
	date := day("2025-10-09")

	if _, err := o.GetRecommendations(context.Background(), date, "R1", nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := o.AnalyzeCustomer(context.Background(), "R1", date, "C1"); !errors.Is(err, domain.ErrNotVisited) {
		t.Fatalf("expected NotVisited before any visit, got %v", err)
	}

	if _, err := o.ProcessVisit(context.Background(), "R1", date, "C1", map[string]int{"X": 5}); err != nil {
		t.Fatal(err)
	}
	text, score, err := o.AnalyzeCustomer(context.Background(), "R1", date, "C1")
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	if text == "" || score <= 0 {
		t.Errorf("expected narrative and score, got %q / %.1f", text, score)
	}
}

func TestFiltersNarrowRows(t *testing.T) {
	store := newFakeRecStore()
	o := testOrchestrator(&fakeProvider{}, store, newFakeSessStore())
	date := day("2025-10-09")

	all, err := o.GetRecommendations(context.Background(), date, "R1", nil)
	if err != nil {
		t.Fatal(err)
	}
	filtered, err := o.GetRecommendations(context.Background(), date, "R1", &Filters{Customers: []string{"C1"}})
	if err != nil {
		t.Fatal(err)
	}
	if filtered.Count >= all.Count {
		t.Errorf("expected filter to narrow %d rows, got %d", all.Count, filtered.Count)
	}
	for _, r := range filtered.Rows {
		if r.CustomerCode != "C1" {
			t.Errorf("unexpected customer %s after filtering", r.CustomerCode)
		}
	}
}

// internal/orchestrator/orchestrator.go
//
// Package orchestrator exposes the public operations of the recommendation
// and supervision core: read-through generation of recommendations, nightly
// pre-generation, and the live supervision session lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/engine"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/metrics"
	"github.com/vansales/stockadvisor/internal/narrative"
	"github.com/vansales/stockadvisor/internal/supervision"
	"github.com/vansales/stockadvisor/internal/workerpool"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source tags where a recommendation read was served from.
type Source string

const (
	SourceDatabase  Source = "database"
	SourceGenerated Source = "generated"
)

// Filters narrows a recommendation read after the fetch.
type Filters struct {
	Customers []string
	Items     []string
}

// RecommendationResult is the get_recommendations payload.
type RecommendationResult struct {
	Rows   []domain.Recommendation `json:"rows"`
	Source Source                  `json:"source"`
	Count  int                     `json:"count"`
}

// RouteResult is one route's outcome of pre_generate_daily.
type RouteResult struct {
	Status  string  `json:"status"` // generated | skipped | failed
	Count   int     `json:"count"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

// SupervisionView is the load_supervision payload.
type SupervisionView struct {
	Mode    string                  `json:"mode"` // live | historical
	Payload *domain.SessionSnapshot `json:"payload"`
}

// Orchestrator wires the engine, the stores, the session registry and the
// narrative collaborator behind the public operations.
type Orchestrator struct {
	cfg      *types.Config
	logger   logging.AdvisorLogger
	data     domain.SnapshotProvider
	engine   *engine.Engine
	recs     domain.RecommendationStore
	sessions domain.SessionStore
	registry *supervision.Registry
	analyzer *narrative.Service
	metrics  *metrics.Metrics

	// at most one in-flight generation per (date, route) across the process
	genGroup singleflight.Group

	// per-session narrative contexts, cancelled on abandon
	narrMu      sync.Mutex
	narrCancels map[string]context.CancelFunc
	narrCtxs    map[string]context.Context
}

// New creates the orchestrator. metrics may be nil in tests.
func New(
	cfg *types.Config,
	data domain.SnapshotProvider,
	eng *engine.Engine,
	recs domain.RecommendationStore,
	sessions domain.SessionStore,
	analyzer *narrative.Service,
	m *metrics.Metrics,
	logger logging.AdvisorLogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "orchestrator")),
		data:        data,
		engine:      eng,
		recs:        recs,
		sessions:    sessions,
		registry:    supervision.NewRegistry(),
		analyzer:    analyzer,
		metrics:     m,
		narrCancels: make(map[string]context.CancelFunc),
		narrCtxs:    make(map[string]context.Context),
	}
}

// GetRecommendations reads the stored rows for (date, route), generating and
// persisting them on a miss. Concurrent callers for the same key coalesce on
// one generation; the storage is re-read under the flight lock so a racer
// that already populated the key wins without a regeneration.
func (o *Orchestrator) GetRecommendations(ctx context.Context, date time.Time, route string, filters *Filters) (*RecommendationResult, error) {
	if route == "" {
		return nil, domain.Invalidf("route is required")
	}

	rows, err := o.recs.Get(ctx, date, route)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		o.countRead(string(SourceDatabase))
		return o.filtered(rows, SourceDatabase, filters), nil
	}

	key := route + "|" + domain.DateKey(date)
	v, err, _ := o.genGroup.Do(key, func() (interface{}, error) {
		// mandatory second read: a racer may have populated the key
		rows, err := o.recs.Get(ctx, date, route)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return &RecommendationResult{Rows: rows, Source: SourceDatabase, Count: len(rows)}, nil
		}

		generated, err := o.generateAndSave(ctx, date, route)
		if err != nil {
			return nil, err
		}
		return &RecommendationResult{Rows: generated, Source: SourceGenerated, Count: len(generated)}, nil
	})
	if err != nil {
		return nil, err
	}

	result := v.(*RecommendationResult)
	o.countRead(string(result.Source))
	return o.filtered(result.Rows, result.Source, filters), nil
}

func (o *Orchestrator) generateAndSave(ctx context.Context, date time.Time, route string) ([]domain.Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeoutDuration())
	defer cancel()

	start := time.Now()

	roster, err := o.data.Roster(route, date)
	if err != nil {
		return nil, err
	}
	history, err := o.data.History(route)
	if err != nil {
		return nil, err
	}
	forecast, err := o.data.Forecast(route, date)
	if err != nil {
		return nil, err
	}

	rows, err := o.engine.Generate(engine.Inputs{
		Route:    route,
		Date:     date,
		Roster:   roster,
		History:  history,
		Forecast: forecast,
		Now:      time.Now().UTC(),
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.GenerationErrors.Inc()
		}
		return nil, err
	}

	if err := o.recs.Save(ctx, date, route, rows); err != nil {
		if o.metrics != nil {
			o.metrics.GenerationErrors.Inc()
		}
		return nil, err
	}

	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.GenerationSeconds.Observe(elapsed.Seconds())
	}
	o.logger.Info("Recommendations generated", logging.Fields.Generation(route, len(rows), elapsed)...)
	return rows, nil
}

func (o *Orchestrator) filtered(rows []domain.Recommendation, source Source, filters *Filters) *RecommendationResult {
	if filters != nil && (len(filters.Customers) > 0 || len(filters.Items) > 0) {
		customers := toSet(filters.Customers)
		items := toSet(filters.Items)
		kept := make([]domain.Recommendation, 0, len(rows))
		for _, r := range rows {
			if len(customers) > 0 && !customers[r.CustomerCode] {
				continue
			}
			if len(items) > 0 && !items[r.ItemCode] {
				continue
			}
			kept = append(kept, r)
		}
		rows = kept
	}
	return &RecommendationResult{Rows: rows, Source: source, Count: len(rows)}
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (o *Orchestrator) countRead(source string) {
	if o.metrics != nil {
		o.metrics.RecommendationReads.WithLabelValues(source).Inc()
	}
}

// preGenJob generates one route for the nightly fan-out.
type preGenJob struct {
	o       *Orchestrator
	date    time.Time
	route   string
	result  *RouteResult
}

func (j *preGenJob) ID() string { return "pregen:" + j.route }

func (j *preGenJob) Execute(ctx context.Context) error {
	start := time.Now()

	// goes through the same per-(date, route) flight as on-demand reads,
	// so a concurrent UI request cannot trigger a duplicate generation
	res, err := j.o.GetRecommendations(ctx, j.date, j.route, nil)
	if err != nil {
		*j.result = RouteResult{Status: "failed", Error: err.Error(), Seconds: time.Since(start).Seconds()}
		return err
	}
	if res.Source == SourceDatabase {
		*j.result = RouteResult{Status: "skipped", Count: res.Count}
		return nil
	}
	*j.result = RouteResult{Status: "generated", Count: res.Count, Seconds: time.Since(start).Seconds()}
	return nil
}

// PreGenerateDaily generates and persists recommendations for every route
// that has none yet for the date. Routes with existing rows are skipped, so
// repeated invocations are idempotent.
func (o *Orchestrator) PreGenerateDaily(ctx context.Context, date time.Time, routes []string) (map[string]RouteResult, error) {
	if len(routes) == 0 {
		return nil, domain.Invalidf("at least one route is required")
	}

	results := make(map[string]RouteResult, len(routes))
	jobs := make([]workerpool.Job, 0, len(routes))
	slots := make([]RouteResult, len(routes))
	for i, route := range routes {
		jobs = append(jobs, &preGenJob{o: o, date: date, route: route, result: &slots[i]})
	}

	pool := workerpool.New(4, o.logger)
	pool.Run(ctx, jobs)

	for i, route := range routes {
		if slots[i].Status == "" {
			// the pool skips jobs once the context is cancelled
			slots[i] = RouteResult{Status: "failed", Error: "not run: context cancelled"}
		}
		results[route] = slots[i]
		if o.metrics != nil {
			o.metrics.PreGenerated.WithLabelValues(slots[i].Status).Inc()
		}
	}

	o.logger.Info("Pre-generation finished",
		zap.String("date", domain.DateKey(date)),
		zap.Int("routes", len(routes)),
	)
	return results, nil
}

// CleanupRetention evicts recommendation rows past the retention window.
// Wired behind the nightly run; a failure is logged, never fatal.
func (o *Orchestrator) CleanupRetention(ctx context.Context) {
	type sweeper interface {
		CleanupOld(ctx context.Context, retentionDays int) (int64, error)
	}
	if s, ok := o.recs.(sweeper); ok {
		if _, err := s.CleanupOld(ctx, o.cfg.Recommendation.RetentionDays); err != nil {
			o.logger.Warn("Retention sweep failed", zap.Error(err))
		}
	}
}

// LoadSupervision returns the saved session read-only when one exists,
// otherwise initializes (or returns) the live in-memory session for the key.
func (o *Orchestrator) LoadSupervision(ctx context.Context, route string, date time.Time) (*SupervisionView, error) {
	if route == "" {
		return nil, domain.Invalidf("route is required")
	}

	saved, err := o.sessions.LoadSnapshot(ctx, route, date)
	if err != nil {
		return nil, err
	}
	if saved != nil {
		return &SupervisionView{Mode: "historical", Payload: saved}, nil
	}

	session, err := o.liveSession(ctx, route, date)
	if err != nil {
		return nil, err
	}
	return &SupervisionView{Mode: "live", Payload: session.Snapshot()}, nil
}

// liveSession returns the registered live session, initializing one from the
// recommendations snapshot on first use.
func (o *Orchestrator) liveSession(ctx context.Context, route string, date time.Time) (*supervision.Session, error) {
	if s := o.registry.Get(route, date); s != nil {
		return s, nil
	}

	recs, err := o.recs.Get(ctx, date, route)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(domain.ErrNoRecommendations, "route %s on %s", route, domain.DateKey(date))
	}

	roster, err := o.data.Roster(route, date)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		// the plan may have rotated out of the journey window since
		// generation; fall back to the customers the rows were built for
		seen := make(map[string]bool)
		for _, r := range recs {
			if !seen[r.CustomerCode] {
				seen[r.CustomerCode] = true
				roster = append(roster, domain.JourneyPlanEntry{
					RouteCode: route, CustomerCode: r.CustomerCode, Date: date,
				})
			}
		}
	}

	scoring := supervision.ScoringConfig{
		PerfectLow:  o.cfg.Scoring.PerfectZoneLow,
		PerfectHigh: o.cfg.Scoring.PerfectZoneHigh,
		DecayHigh:   o.cfg.Scoring.AccuracyDecayHigh,
	}
	session, err := supervision.NewSession(route, date, roster, recs, scoring, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	o.registry.Put(session)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.Len()))
	}

	// narrative requests for this session share a cancellable context
	narrCtx, cancel := context.WithCancel(context.Background())
	o.narrMu.Lock()
	o.narrCtxs[session.ID()] = narrCtx
	o.narrCancels[session.ID()] = cancel
	o.narrMu.Unlock()

	o.logger.Info("Supervision session initialized", logging.Fields.Session(session.ID(), route)...)
	return session, nil
}

// ProcessVisit forwards one customer's actual sales to the live session.
func (o *Orchestrator) ProcessVisit(ctx context.Context, route string, date time.Time, customer string, actuals map[string]int) (*domain.RedistributionResult, error) {
	if customer == "" {
		return nil, domain.Invalidf("customer is required")
	}
	session, err := o.liveSession(ctx, route, date)
	if err != nil {
		return nil, err
	}

	result, err := session.ProcessVisit(customer, actuals, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.VisitsProcessed.Inc()
	}
	return result, nil
}

// SaveSession completes and persists the live session. The session stays in
// the registry read-only so subsequent loads serve it as historical until
// process restart.
func (o *Orchestrator) SaveSession(ctx context.Context, route string, date time.Time) (*domain.SessionSnapshot, error) {
	session := o.registry.Get(route, date)
	if session == nil {
		return nil, domain.Invalidf("no live session for route %s on %s", route, domain.DateKey(date))
	}

	snap, err := session.Save(ctx, o.sessions, time.Now().UTC())
	if err != nil {
		o.countSave(err)
		return nil, err
	}
	o.countSave(nil)
	return snap, nil
}

func (o *Orchestrator) countSave(err error) {
	if o.metrics == nil {
		return
	}
	switch {
	case err == nil:
		o.metrics.SessionSaves.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrVersionConflict):
		o.metrics.SessionSaves.WithLabelValues("conflict").Inc()
	default:
		o.metrics.SessionSaves.WithLabelValues("failed").Inc()
	}
}

// AbandonSession discards the live session and cancels any outstanding
// narrative request tied to it.
func (o *Orchestrator) AbandonSession(route string, date time.Time) error {
	session := o.registry.Get(route, date)
	if session == nil {
		return domain.Invalidf("no live session for route %s on %s", route, domain.DateKey(date))
	}

	o.narrMu.Lock()
	if cancel := o.narrCancels[session.ID()]; cancel != nil {
		cancel()
		delete(o.narrCancels, session.ID())
		delete(o.narrCtxs, session.ID())
	}
	o.narrMu.Unlock()

	session.Abandon()
	o.registry.Remove(route, date)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.registry.Len()))
	}
	o.logger.Info("Supervision session abandoned", logging.Fields.Session(session.ID(), route)...)
	return nil
}

// narrativeContext joins the caller's context with the session's cancellable
// narrative context.
func (o *Orchestrator) narrativeContext(ctx context.Context, sessionID string) context.Context {
	o.narrMu.Lock()
	sessionCtx := o.narrCtxs[sessionID]
	o.narrMu.Unlock()
	if sessionCtx == nil {
		return ctx
	}
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sessionCtx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

// AnalyzeCustomer produces and attaches the narrative for a visited customer.
func (o *Orchestrator) AnalyzeCustomer(ctx context.Context, route string, date time.Time, customer string) (string, float64, error) {
	session, err := o.liveSession(ctx, route, date)
	if err != nil {
		return "", 0, err
	}

	snap := session.Snapshot()
	var visit *domain.VisitRecord
	for i := range snap.Visits {
		if snap.Visits[i].CustomerCode == customer {
			visit = &snap.Visits[i]
			break
		}
	}
	if visit == nil {
		return "", 0, errors.Wrapf(domain.ErrNotVisited, "customer %s", customer)
	}

	input := narrative.CustomerSnapshot{
		SessionID:    snap.SessionID,
		RouteCode:    route,
		CustomerCode: customer,
		Score:        visit.PerformanceScore,
		Items:        itemTuples(snap.Items, customer),
	}

	text, err := o.analyzer.AnalyzeCustomer(o.narrativeContext(ctx, snap.SessionID), input)
	o.countNarrative(err)
	if err != nil {
		return "", 0, err
	}
	if err := session.SetCustomerNarrative(customer, text); err != nil {
		return "", 0, err
	}
	return text, visit.PerformanceScore, nil
}

// AnalyzeRoute produces and attaches the whole-route narrative.
func (o *Orchestrator) AnalyzeRoute(ctx context.Context, route string, date time.Time) (string, float64, error) {
	session, err := o.liveSession(ctx, route, date)
	if err != nil {
		return "", 0, err
	}

	snap := session.Snapshot()
	input := narrative.RouteSnapshot{
		SessionID: snap.SessionID,
		RouteCode: route,
		Score:     snap.PerformanceScore,
		Items:     itemTuples(snap.Items, ""),
	}

	text, err := o.analyzer.AnalyzeRoute(o.narrativeContext(ctx, snap.SessionID), input)
	o.countNarrative(err)
	if err != nil {
		return "", 0, err
	}
	session.SetRouteNarrative(text)
	return text, snap.PerformanceScore, nil
}

func (o *Orchestrator) countNarrative(err error) {
	if o.metrics == nil {
		return
	}
	switch {
	case err == nil:
		o.metrics.NarrativeRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrRateLimited):
		o.metrics.NarrativeRequests.WithLabelValues("rate_limited").Inc()
	default:
		o.metrics.NarrativeRequests.WithLabelValues("upstream_busy").Inc()
	}
}

func itemTuples(items []domain.ItemDetail, customer string) []narrative.ItemTuple {
	var out []narrative.ItemTuple
	for _, it := range items {
		if customer != "" && it.CustomerCode != customer {
			continue
		}
		key := it.ItemCode
		if customer == "" {
			key = fmt.Sprintf("%s/%s", it.CustomerCode, it.ItemCode)
		}
		out = append(out, narrative.ItemTuple{
			Item:        key,
			Recommended: it.AdjustedRecommendedQty,
			Actual:      it.FinalActualQty,
		})
	}
	return out
}

// FilterOptions forwards the cascading dropdown lookups.
func (o *Orchestrator) FilterOptions(ctx context.Context, date time.Time, route, customer string) (*domain.FilterOptions, error) {
	return o.recs.FilterOptions(ctx, date, route, customer)
}

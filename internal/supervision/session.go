// internal/supervision/session.go
package supervision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/util"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxActualQty bounds a single reported item quantity.
const MaxActualQty = 999999

// Session is the live supervision state of one route on one date. It is
// single-writer: ProcessVisit and Save serialize through the session lock,
// and an overlapping concurrent write returns ErrBusy. A saved session
// reopens read-only.
type Session struct {
	mu sync.Mutex

	id        string
	route     string
	date      time.Time
	status    domain.SessionStatus
	readOnly  bool
	startedAt time.Time
	completed *time.Time
	narrative string

	scoring ScoringConfig

	roster     []string // planned customers, sorted
	rosterSet  map[string]bool
	visitOrder []string // customer codes in accepted-visit order

	visits map[string]*visitState           // by customer
	items  map[string]map[string]*itemState // customer -> item -> state

	// redistribution grants by source customer and item
	grants map[string]map[string][]grant

	recordVersion int // last persisted version, 0 before first save
}

type visitState struct {
	sequence  int
	timestamp time.Time
	narrative string
	edited    bool
}

type itemState struct {
	rec            domain.Recommendation
	adjusted       int
	originalActual int
	finalActual    int
	hasActual      bool
}

type grant struct {
	target string
	qty    int
}

// NewSessionID builds the unique session identity:
// {route}_{date}_{timestamp with microseconds}_{8-char random}.
func NewSessionID(route string, date time.Time, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s",
		route, domain.DateKey(date), now.Format("20060102T150405.000000"), random)
}

// NewSession initializes an ACTIVE session from the planned roster and the
// recommendations snapshot. Fails with ErrNoRecommendations when the
// snapshot is empty.
func NewSession(route string, date time.Time, roster []domain.JourneyPlanEntry, recs []domain.Recommendation, scoring ScoringConfig, now time.Time) (*Session, error) {
	if len(recs) == 0 {
		return nil, errors.Wrapf(domain.ErrNoRecommendations, "route %s on %s", route, domain.DateKey(date))
	}

	s := &Session{
		id:        NewSessionID(route, date, now),
		route:     route,
		date:      date,
		status:    domain.SessionActive,
		startedAt: now,
		scoring:   scoring,
		rosterSet: make(map[string]bool),
		visits:    make(map[string]*visitState),
		items:     make(map[string]map[string]*itemState),
		grants:    make(map[string]map[string][]grant),
	}

	for _, entry := range roster {
		if !s.rosterSet[entry.CustomerCode] {
			s.rosterSet[entry.CustomerCode] = true
			s.roster = append(s.roster, entry.CustomerCode)
		}
	}
	sort.Strings(s.roster)

	for _, rec := range recs {
		if !s.rosterSet[rec.CustomerCode] {
			continue
		}
		byItem := s.items[rec.CustomerCode]
		if byItem == nil {
			byItem = make(map[string]*itemState)
			s.items[rec.CustomerCode] = byItem
		}
		byItem[rec.ItemCode] = &itemState{rec: rec, adjusted: rec.RecommendedQty}
	}

	return s, nil
}

// ID returns the unique session identity.
func (s *Session) ID() string { return s.id }

// Route returns the supervised route code.
func (s *Session) Route() string { return s.route }

// Date returns the supervised delivery date.
func (s *Session) Date() time.Time { return s.date }

// ReadOnly reports whether the session rejects writes.
func (s *Session) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}

// ProcessVisit records one customer's actual sales, recomputes scores and
// redistributes residual stock to the remaining unvisited customers.
// Revisiting a customer replaces the actuals, preserves the first-reported
// quantities and re-runs the redistribution deltas against the new state.
func (s *Session) ProcessVisit(customer string, actuals map[string]int, now time.Time) (*domain.RedistributionResult, error) {
	if !s.mu.TryLock() {
		return nil, errors.Wrapf(domain.ErrBusy, "visit processing in flight for session %s", s.id)
	}
	defer s.mu.Unlock()

	if s.readOnly || s.status != domain.SessionActive {
		return nil, domain.ErrReadOnlySession
	}
	if !s.rosterSet[customer] {
		return nil, domain.Invalidf("customer %s is not on the planned roster", customer)
	}
	byItem := s.items[customer]
	if len(byItem) == 0 {
		return nil, domain.Invalidf("customer %s has no recommendations in this session", customer)
	}
	for item, qty := range actuals {
		if qty < 0 || qty > MaxActualQty {
			return nil, domain.Invalidf("quantity %d for item %s out of range 0..%d", qty, item, MaxActualQty)
		}
		if _, ok := byItem[item]; !ok {
			return nil, domain.Invalidf("item %s has no recommendation for customer %s", item, customer)
		}
	}

	visit := s.visits[customer]
	revisit := visit != nil
	if !revisit {
		visit = &visitState{sequence: len(s.visitOrder) + 1, timestamp: now}
		s.visits[customer] = visit
		s.visitOrder = append(s.visitOrder, customer)
	} else {
		visit.edited = true
	}

	// A revisit first retracts this customer's prior grants from targets
	// that are still unvisited; visited targets keep their adjustments.
	if revisit {
		s.retractGrants(customer)
	}

	for item, st := range byItem {
		qty := actuals[item]
		if !st.hasActual {
			st.originalActual = qty
			st.hasActual = true
		}
		st.finalActual = qty
	}

	result := s.redistribute(customer)

	return result, nil
}

// retractGrants removes the customer's prior redistribution grants from
// still-unvisited targets.
func (s *Session) retractGrants(customer string) {
	byItem := s.grants[customer]
	for item, grantList := range byItem {
		kept := grantList[:0]
		for _, g := range grantList {
			if s.visits[g.target] != nil {
				kept = append(kept, g)
				continue
			}
			if st := s.items[g.target][item]; st != nil {
				st.adjusted -= g.qty
			}
		}
		byItem[item] = kept
	}
}

// redistribute moves the just-visited customer's unsold recommended stock to
// the remaining unvisited customers, ordered by descending priority with the
// engine's lexicographic tie-breaks, capping each increment at the target's
// average quantity per visit.
func (s *Session) redistribute(customer string) *domain.RedistributionResult {
	result := &domain.RedistributionResult{
		Adjustments: make(map[string][]domain.Adjustment),
	}

	byItem := s.items[customer]
	itemCodes := make([]string, 0, len(byItem))
	for item := range byItem {
		itemCodes = append(itemCodes, item)
	}
	sort.Strings(itemCodes)

	custGrants := s.grants[customer]
	if custGrants == nil {
		custGrants = make(map[string][]grant)
		s.grants[customer] = custGrants
	}

	for _, item := range itemCodes {
		st := byItem[item]
		surplus := st.adjusted - st.finalActual
		// on a revisit, grants kept by since-visited targets already count
		// against the surplus, so only the change is redistributed
		for _, g := range custGrants[item] {
			surplus -= g.qty
		}
		if surplus <= 0 {
			continue
		}

		targets := s.eligibleTargets(item)
		moved := 0
		for _, target := range targets {
			if surplus == 0 {
				break
			}
			tgtState := s.items[target][item]
			add := util.MinInt(surplus, tgtState.rec.AvgQtyPerVisit)
			if add <= 0 {
				continue
			}
			tgtState.adjusted += add
			surplus -= add
			moved += add
			custGrants[item] = append(custGrants[item], grant{target: target, qty: add})
			result.Adjustments[item] = append(result.Adjustments[item], domain.Adjustment{
				CustomerCode: target, ItemCode: item, Qty: add,
			})
		}

		if moved > 0 {
			result.Count++
			result.Qty += moved
		}
		if surplus > 0 {
			result.ItemsNotRedistributed = append(result.ItemsNotRedistributed, item)
		}
	}

	return result
}

// eligibleTargets returns the unvisited roster customers holding a live
// recommendation for the item, by descending priority then customer code.
func (s *Session) eligibleTargets(item string) []string {
	type scored struct {
		customer string
		priority float64
	}
	var out []scored
	for _, customer := range s.roster {
		if s.visits[customer] != nil {
			continue
		}
		if st := s.items[customer][item]; st != nil {
			out = append(out, scored{customer: customer, priority: st.rec.PriorityScore})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].customer < out[j].customer
	})
	targets := make([]string, len(out))
	for i, sc := range out {
		targets[i] = sc.customer
	}
	return targets
}

// customerCounters computes the per-customer counter block and score.
func (s *Session) customerCounters(customer string) (domain.SessionCounters, float64) {
	var c domain.SessionCounters
	for _, st := range s.items[customer] {
		c.SKUsRecommended++
		c.QtyRecommended += st.adjusted
		if st.hasActual {
			c.QtyActual += st.finalActual
			if st.finalActual > 0 {
				c.SKUsSold++
			}
		}
	}
	for _, grantList := range s.grants[customer] {
		granted := 0
		for _, g := range grantList {
			granted += g.qty
		}
		if granted > 0 {
			c.RedistributionCnt++
			c.RedistributionQty += granted
		}
	}
	score := s.scoring.Score(c.SKUsSold, c.SKUsRecommended, c.QtyActual, c.QtyRecommended)
	return c, score
}

// SetCustomerNarrative attaches an opaque narrative to a visited customer.
func (s *Session) SetCustomerNarrative(customer, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	visit := s.visits[customer]
	if visit == nil {
		return errors.Wrapf(domain.ErrNotVisited, "customer %s", customer)
	}
	visit.narrative = text
	return nil
}

// SetRouteNarrative attaches the opaque route narrative.
func (s *Session) SetRouteNarrative(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrative = text
}

// Snapshot renders the current session state for persistence or the wire.
// Item details cover visited customers only; session counters are the sums
// of the per-customer counters.
func (s *Session) Snapshot() *domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() *domain.SessionSnapshot {
	snap := &domain.SessionSnapshot{
		SessionID:     s.id,
		RouteCode:     s.route,
		Date:          s.date,
		Status:        s.status,
		RecordVersion: s.recordVersion,
		Narrative:     s.narrative,
		StartedAt:     s.startedAt,
		CompletedAt:   s.completed,
	}
	snap.Counters.CustomersPlanned = len(s.roster)
	snap.Counters.CustomersVisited = len(s.visitOrder)

	var scoreSum float64
	for _, customer := range s.visitOrder {
		visit := s.visits[customer]
		counters, score := s.customerCounters(customer)
		scoreSum += score

		snap.Counters.SKUsRecommended += counters.SKUsRecommended
		snap.Counters.SKUsSold += counters.SKUsSold
		snap.Counters.QtyRecommended += counters.QtyRecommended
		snap.Counters.QtyActual += counters.QtyActual
		snap.Counters.RedistributionCnt += counters.RedistributionCnt
		snap.Counters.RedistributionQty += counters.RedistributionQty

		snap.Visits = append(snap.Visits, domain.VisitRecord{
			CustomerCode:     customer,
			VisitSequence:    visit.sequence,
			VisitTimestamp:   visit.timestamp,
			Counters:         counters,
			PerformanceScore: score,
			PerformanceLabel: domain.PerformanceLabel(score),
			Narrative:        visit.narrative,
		})

		byItem := s.items[customer]
		itemCodes := make([]string, 0, len(byItem))
		for item := range byItem {
			itemCodes = append(itemCodes, item)
		}
		sort.Strings(itemCodes)
		for _, item := range itemCodes {
			st := byItem[item]
			snap.Items = append(snap.Items, domain.ItemDetail{
				CustomerCode:             customer,
				ItemCode:                 item,
				OriginalRecommendedQty:   st.rec.RecommendedQty,
				AdjustedRecommendedQty:   st.adjusted,
				RecommendationAdjustment: st.adjusted - st.rec.RecommendedQty,
				OriginalActualQty:        st.originalActual,
				FinalActualQty:           st.finalActual,
				ActualAdjustment:         st.finalActual - st.originalActual,
				WasManuallyEdited:        visit.edited,
				WasItemSold:              st.finalActual > 0,
				Tier:                     st.rec.Tier,
				PriorityScore:            st.rec.PriorityScore,
				VanInventoryQty:          st.rec.VanLoad,
				DaysSinceLastPurchase:    st.rec.DaysSinceLastPurchase,
				PurchaseCycleDays:        st.rec.PurchaseCycleDays,
				PurchaseFrequencyPct:     st.rec.FrequencyPct,
			})
		}
	}

	if len(s.visitOrder) > 0 {
		snap.PerformanceScore = util.Round1(scoreSum / float64(len(s.visitOrder)))
	}
	snap.PerformanceLabel = domain.PerformanceLabel(snap.PerformanceScore)
	return snap
}

// Save completes the session and persists it in one transaction, bumping the
// record version under optimistic locking. On ErrVersionConflict nothing is
// mutated and the session stays ACTIVE for the caller to reload.
func (s *Session) Save(ctx context.Context, store domain.SessionStore, now time.Time) (*domain.SessionSnapshot, error) {
	if !s.mu.TryLock() {
		return nil, errors.Wrapf(domain.ErrBusy, "save in flight for session %s", s.id)
	}
	defer s.mu.Unlock()

	if s.readOnly {
		return nil, domain.ErrReadOnlySession
	}

	prevStatus, prevCompleted := s.status, s.completed
	s.status = domain.SessionCompleted
	s.completed = &now

	snap := s.snapshotLocked()
	snap.RecordVersion = s.recordVersion + 1

	if err := store.SaveSnapshot(ctx, snap, s.recordVersion); err != nil {
		s.status, s.completed = prevStatus, prevCompleted
		return nil, err
	}

	s.recordVersion = snap.RecordVersion
	s.readOnly = true
	return snap, nil
}

// Abandon discards the live session. Outstanding narrative work for the
// session is cancelled by the orchestrator alongside this call.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = true
	s.status = domain.SessionCompleted
}

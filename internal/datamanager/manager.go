// internal/datamanager/manager.go
package datamanager

import (
	"context"
	"sync"
	"time"

	"github.com/vansales/stockadvisor/internal/database"
	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LoadingStatus reflects the state of the background snapshot load.
type LoadingStatus string

const (
	LoadingInProgress LoadingStatus = "in_progress"
	LoadingComplete   LoadingStatus = "complete"
	LoadingFailed     LoadingStatus = "failed"
)

// Status is the data manager health report.
type Status struct {
	Loading   LoadingStatus  `json:"loading_status"`
	RowCounts map[string]int `json:"row_counts,omitempty"`
	AsOf      *time.Time     `json:"as_of,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// Manager owns the four in-memory input snapshots. The server becomes READY
// immediately; the first load runs on a background task and calls requiring
// a snapshot return ErrDataNotReady until it completes. Refresh rebuilds the
// set off to the side and swaps it atomically, so a reader never mixes
// demand history from one load with a journey plan from another.
type Manager struct {
	db     *database.Manager
	cfg    *types.Config
	logger logging.AdvisorLogger

	mu       sync.RWMutex
	current  *SnapshotSet
	loading  LoadingStatus
	lastErr  error
}

var _ domain.SnapshotProvider = (*Manager)(nil)

// NewManager creates the data manager and schedules the initial background load.
func NewManager(db *database.Manager, cfg *types.Config, logger logging.AdvisorLogger) *Manager {
	m := &Manager{
		db:      db,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "data_manager")),
		loading: LoadingInProgress,
	}
	go m.initialLoad()
	return m
}

func (m *Manager) initialLoad() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := m.Refresh(ctx); err != nil {
		m.logger.Error("Initial snapshot load failed, trying CSV fallback", err)
		if csvErr := m.loadFromCSV(); csvErr != nil {
			m.logger.Error("CSV fallback failed", csvErr)
			m.setFailed(err)
			return
		}
		m.logger.Warn("Serving cold-start CSV snapshots until the warehouse recovers")
	}
}

// Refresh re-runs the loads and atomically swaps the snapshot set. Failed
// loads preserve the last successful set, mark the status failed and return
// the error.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.current == nil {
		m.loading = LoadingInProgress
	}
	m.mu.Unlock()

	start := time.Now()

	history, err := m.loadDemandHistory(ctx)
	if err != nil {
		m.setFailed(err)
		return errors.Wrap(err, "demand history load failed")
	}
	forecast, err := m.loadForecast(ctx)
	if err != nil {
		m.setFailed(err)
		return errors.Wrap(err, "forecast load failed")
	}
	plan, err := m.loadJourneyPlan(ctx)
	if err != nil {
		m.setFailed(err)
		return errors.Wrap(err, "journey plan load failed")
	}

	next := newSnapshotSet(history, forecast, plan, time.Now())

	m.mu.Lock()
	m.current = next
	m.loading = LoadingComplete
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("Snapshots refreshed",
		zap.Int("demand_history_rows", len(history)),
		zap.Int("forecast_rows", len(forecast)),
		zap.Int("journey_plan_rows", len(plan)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (m *Manager) setFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loading = LoadingFailed
	m.lastErr = err
}

// Status reports loading state and per-snapshot row counts.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Loading: m.loading}
	if m.current != nil {
		st.RowCounts = m.current.RowCounts()
		asOf := m.current.AsOf
		st.AsOf = &asOf
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// snapshot returns the current set or ErrDataNotReady.
func (m *Manager) snapshot() (*SnapshotSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, domain.ErrDataNotReady
	}
	return m.current, nil
}

// Roster returns the planned customer roster for (route, date).
func (m *Manager) Roster(route string, date time.Time) ([]domain.JourneyPlanEntry, error) {
	s, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return s.rosterByKey[rosterKey(route, date)], nil
}

// History returns the route's sales history over the configured window.
func (m *Manager) History(route string) ([]domain.SalesFact, error) {
	s, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return s.historyByRoute[route], nil
}

// Forecast returns the per-item forecast for (route, date).
func (m *Manager) Forecast(route string, date time.Time) ([]domain.ForecastRow, error) {
	s, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return s.forecastByKey[rosterKey(route, date)], nil
}

// CustomerHistory returns one customer's purchase facts across routes.
func (m *Manager) CustomerHistory(customer string) ([]domain.SalesFact, error) {
	s, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return s.historyByCust[customer], nil
}

func (m *Manager) loadDemandHistory(ctx context.Context) ([]domain.SalesFact, error) {
	rows, err := m.db.Fetch(ctx, database.QueryDemandHistory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SalesFact
	for rows.Next() {
		var f domain.SalesFact
		if err := rows.Scan(&f.Date, &f.RouteCode, &f.CustomerCode, &f.ItemCode, &f.Quantity, &f.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "failed to scan sales fact")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (m *Manager) loadForecast(ctx context.Context) ([]domain.ForecastRow, error) {
	rows, err := m.db.Fetch(ctx, database.QueryForecast, m.cfg.Recommendation.JourneyWindowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ForecastRow
	for rows.Next() {
		var f domain.ForecastRow
		if err := rows.Scan(&f.Date, &f.RouteCode, &f.ItemCode, &f.PredictedQuantity, &f.PredictionType); err != nil {
			return nil, errors.Wrap(err, "failed to scan forecast row")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (m *Manager) loadJourneyPlan(ctx context.Context) ([]domain.JourneyPlanEntry, error) {
	rows, err := m.db.Fetch(ctx, database.QueryJourneyPlan, m.cfg.Recommendation.JourneyWindowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JourneyPlanEntry
	for rows.Next() {
		var p domain.JourneyPlanEntry
		if err := rows.Scan(&p.RouteCode, &p.CustomerCode, &p.Date, &p.CustomerName); err != nil {
			return nil, errors.Wrap(err, "failed to scan journey plan entry")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// internal/storage/sessions.go
package storage

import (
	"context"
	"time"

	"github.com/vansales/stockadvisor/internal/database"
	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SessionStore persists supervision session snapshots. The session row
// carries record_version; updates match the expected prior version in the
// WHERE clause, so a zero-row update means another writer won.
type SessionStore struct {
	db     *database.Manager
	logger logging.AdvisorLogger
}

var _ domain.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates the store over the warehouse manager.
func NewSessionStore(db *database.Manager, logger logging.AdvisorLogger) *SessionStore {
	return &SessionStore{
		db:     db,
		logger: logger.With(zap.String("component", "session_store")),
	}
}

// SaveSnapshot persists the session row, one visit row per visited customer
// and one item detail per (visited customer, recommended item), all in one
// transaction. expectedVersion 0 means first save (insert, version 1);
// otherwise the row must still carry expectedVersion or the save fails with
// ErrVersionConflict and nothing is mutated.
func (s *SessionStore) SaveSnapshot(ctx context.Context, snap *domain.SessionSnapshot, expectedVersion int) error {
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if expectedVersion == 0 {
			if err := s.insertSession(ctx, tx, snap); err != nil {
				return err
			}
		} else {
			if err := s.updateSession(ctx, tx, snap, expectedVersion); err != nil {
				return err
			}
			// children are rewritten wholesale on update
			if _, err := tx.Exec(ctx, `DELETE FROM supervision_visits WHERE session_id = $1`, snap.SessionID); err != nil {
				return errors.Wrap(err, "failed to clear visit rows")
			}
			if _, err := tx.Exec(ctx, `DELETE FROM supervision_items WHERE session_id = $1`, snap.SessionID); err != nil {
				return errors.Wrap(err, "failed to clear item rows")
			}
		}

		for _, v := range snap.Visits {
			if _, err := tx.Exec(ctx, `
				INSERT INTO supervision_visits
				(session_id, customer_code, visit_sequence, visit_timestamp,
				 skus_recommended, skus_sold, qty_recommended, qty_actual,
				 redistribution_count, redistribution_qty, performance_score, narrative)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				snap.SessionID, v.CustomerCode, v.VisitSequence, v.VisitTimestamp,
				v.Counters.SKUsRecommended, v.Counters.SKUsSold,
				v.Counters.QtyRecommended, v.Counters.QtyActual,
				v.Counters.RedistributionCnt, v.Counters.RedistributionQty,
				v.PerformanceScore, v.Narrative); err != nil {
				return errors.Wrapf(err, "failed to insert visit for %s", v.CustomerCode)
			}
		}

		for _, it := range snap.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO supervision_items
				(session_id, customer_code, item_code,
				 original_recommended_qty, adjusted_recommended_qty, recommendation_adjustment,
				 original_actual_qty, final_actual_qty, actual_adjustment,
				 was_manually_edited, was_item_sold,
				 tier, priority_score, van_inventory_qty,
				 days_since_last_purchase, purchase_cycle_days, purchase_frequency_pct)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
				snap.SessionID, it.CustomerCode, it.ItemCode,
				it.OriginalRecommendedQty, it.AdjustedRecommendedQty, it.RecommendationAdjustment,
				it.OriginalActualQty, it.FinalActualQty, it.ActualAdjustment,
				it.WasManuallyEdited, it.WasItemSold,
				string(it.Tier), it.PriorityScore, it.VanInventoryQty,
				it.DaysSinceLastPurchase, it.PurchaseCycleDays, it.PurchaseFrequencyPct); err != nil {
				return errors.Wrapf(err, "failed to insert item detail %s/%s", it.CustomerCode, it.ItemCode)
			}
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return errors.Wrapf(domain.ErrSaveFailed, "session %s save failed: %v", snap.SessionID, err)
	}

	s.logger.Info("Session saved",
		zap.String("session_id", snap.SessionID),
		zap.Int("visits", len(snap.Visits)),
		zap.Int("items", len(snap.Items)),
		zap.Int("record_version", snap.RecordVersion),
	)
	return nil
}

func (s *SessionStore) insertSession(ctx context.Context, tx pgx.Tx, snap *domain.SessionSnapshot) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO supervision_sessions
		(session_id, route_code, session_date, status,
		 customers_planned, customers_visited, skus_recommended, skus_sold,
		 qty_recommended, qty_actual, redistribution_count, redistribution_qty,
		 performance_score, record_version, narrative, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		snap.SessionID, snap.RouteCode, snap.Date, string(snap.Status),
		snap.Counters.CustomersPlanned, snap.Counters.CustomersVisited,
		snap.Counters.SKUsRecommended, snap.Counters.SKUsSold,
		snap.Counters.QtyRecommended, snap.Counters.QtyActual,
		snap.Counters.RedistributionCnt, snap.Counters.RedistributionQty,
		snap.PerformanceScore, snap.RecordVersion, snap.Narrative,
		snap.StartedAt, snap.CompletedAt)
	return errors.Wrap(err, "failed to insert session row")
}

func (s *SessionStore) updateSession(ctx context.Context, tx pgx.Tx, snap *domain.SessionSnapshot, expectedVersion int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE supervision_sessions SET
			status = $1,
			customers_planned = $2, customers_visited = $3,
			skus_recommended = $4, skus_sold = $5,
			qty_recommended = $6, qty_actual = $7,
			redistribution_count = $8, redistribution_qty = $9,
			performance_score = $10, record_version = $11,
			narrative = $12, completed_at = $13
		WHERE session_id = $14 AND record_version = $15`,
		string(snap.Status),
		snap.Counters.CustomersPlanned, snap.Counters.CustomersVisited,
		snap.Counters.SKUsRecommended, snap.Counters.SKUsSold,
		snap.Counters.QtyRecommended, snap.Counters.QtyActual,
		snap.Counters.RedistributionCnt, snap.Counters.RedistributionQty,
		snap.PerformanceScore, snap.RecordVersion, snap.Narrative, snap.CompletedAt,
		snap.SessionID, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "failed to update session row")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrVersionConflict,
			"session %s no longer at version %d", snap.SessionID, expectedVersion)
	}
	return nil
}

// LoadSnapshot reads the saved session for (route, date) with all children,
// or nil when none exists.
func (s *SessionStore) LoadSnapshot(ctx context.Context, route string, date time.Time) (*domain.SessionSnapshot, error) {
	snap := &domain.SessionSnapshot{}
	var status string
	err := s.db.Pool().QueryRow(ctx, `
		SELECT session_id, route_code, session_date, status,
		       customers_planned, customers_visited, skus_recommended, skus_sold,
		       qty_recommended, qty_actual, redistribution_count, redistribution_qty,
		       performance_score, record_version, COALESCE(narrative, ''), started_at, completed_at
		FROM supervision_sessions
		WHERE route_code = $1 AND session_date = $2`,
		route, date).Scan(
		&snap.SessionID, &snap.RouteCode, &snap.Date, &status,
		&snap.Counters.CustomersPlanned, &snap.Counters.CustomersVisited,
		&snap.Counters.SKUsRecommended, &snap.Counters.SKUsSold,
		&snap.Counters.QtyRecommended, &snap.Counters.QtyActual,
		&snap.Counters.RedistributionCnt, &snap.Counters.RedistributionQty,
		&snap.PerformanceScore, &snap.RecordVersion, &snap.Narrative,
		&snap.StartedAt, &snap.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(domain.ErrStorageError, "session read failed: %v", err)
	}
	snap.Status = domain.SessionStatus(status)
	snap.PerformanceLabel = domain.PerformanceLabel(snap.PerformanceScore)

	if err := s.loadVisits(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SessionStore) loadVisits(ctx context.Context, snap *domain.SessionSnapshot) error {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT customer_code, visit_sequence, visit_timestamp,
		       skus_recommended, skus_sold, qty_recommended, qty_actual,
		       redistribution_count, redistribution_qty, performance_score, COALESCE(narrative, '')
		FROM supervision_visits
		WHERE session_id = $1
		ORDER BY visit_sequence`, snap.SessionID)
	if err != nil {
		return errors.Wrapf(domain.ErrStorageError, "visit read failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.VisitRecord
		if err := rows.Scan(&v.CustomerCode, &v.VisitSequence, &v.VisitTimestamp,
			&v.Counters.SKUsRecommended, &v.Counters.SKUsSold,
			&v.Counters.QtyRecommended, &v.Counters.QtyActual,
			&v.Counters.RedistributionCnt, &v.Counters.RedistributionQty,
			&v.PerformanceScore, &v.Narrative); err != nil {
			return errors.Wrapf(domain.ErrStorageError, "visit scan failed: %v", err)
		}
		v.PerformanceLabel = domain.PerformanceLabel(v.PerformanceScore)
		snap.Visits = append(snap.Visits, v)
	}
	return rows.Err()
}

func (s *SessionStore) loadItems(ctx context.Context, snap *domain.SessionSnapshot) error {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT customer_code, item_code,
		       original_recommended_qty, adjusted_recommended_qty, recommendation_adjustment,
		       original_actual_qty, final_actual_qty, actual_adjustment,
		       was_manually_edited, was_item_sold,
		       tier, priority_score, van_inventory_qty,
		       days_since_last_purchase, purchase_cycle_days, purchase_frequency_pct
		FROM supervision_items
		WHERE session_id = $1
		ORDER BY customer_code, item_code`, snap.SessionID)
	if err != nil {
		return errors.Wrapf(domain.ErrStorageError, "item detail read failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.ItemDetail
		var tier string
		if err := rows.Scan(&it.CustomerCode, &it.ItemCode,
			&it.OriginalRecommendedQty, &it.AdjustedRecommendedQty, &it.RecommendationAdjustment,
			&it.OriginalActualQty, &it.FinalActualQty, &it.ActualAdjustment,
			&it.WasManuallyEdited, &it.WasItemSold,
			&tier, &it.PriorityScore, &it.VanInventoryQty,
			&it.DaysSinceLastPurchase, &it.PurchaseCycleDays, &it.PurchaseFrequencyPct); err != nil {
			return errors.Wrapf(domain.ErrStorageError, "item detail scan failed: %v", err)
		}
		it.Tier = domain.Tier(tier)
		snap.Items = append(snap.Items, it)
	}
	return rows.Err()
}

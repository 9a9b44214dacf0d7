// internal/storage/recommendations.go
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

// RecommendationStore persists generated recommendation rows. Save is a
// transactional delete-then-insert for the whole (date, route) set, which
// also makes duplicate writes from a racing replica harmless.
type RecommendationStore struct {
	db     *database.Manager
	logger logging.AdvisorLogger
}

var _ domain.RecommendationStore = (*RecommendationStore)(nil)

// NewRecommendationStore creates the store over the warehouse manager.
func NewRecommendationStore(db *database.Manager, logger logging.AdvisorLogger) *RecommendationStore {
	return &RecommendationStore{
		db:     db,
		logger: logger.With(zap.String("component", "recommendation_store")),
	}
}

// Get reads all rows for (date, route), ordered exactly as the engine emits
// them: priority descending, then customer, then item. Returns an empty set
// when nothing has been generated.
func (s *RecommendationStore) Get(ctx context.Context, date time.Time, route string) ([]domain.Recommendation, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT rec_date, route_code, customer_code, item_code, recommended_qty, tier,
		       van_load, priority_score, avg_qty_per_visit, days_since_last_purchase,
		       purchase_cycle_days, frequency_pct, generated_at, generated_by
		FROM recommendations
		WHERE rec_date = $1 AND route_code = $2
		ORDER BY priority_score DESC, customer_code, item_code`,
		date, route)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrStorageError, "failed to read recommendations: %v", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var r domain.Recommendation
		var tier string
		if err := rows.Scan(&r.Date, &r.RouteCode, &r.CustomerCode, &r.ItemCode,
			&r.RecommendedQty, &tier, &r.VanLoad, &r.PriorityScore, &r.AvgQtyPerVisit,
			&r.DaysSinceLastPurchase, &r.PurchaseCycleDays, &r.FrequencyPct,
			&r.GeneratedAt, &r.GeneratedBy); err != nil {
			return nil, errors.Wrapf(domain.ErrStorageError, "failed to scan recommendation: %v", err)
		}
		r.Tier = domain.Tier(tier)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(domain.ErrStorageError, "recommendation read failed: %v", err)
	}
	return out, nil
}

// Save replaces the whole recommendation set for (date, route) in one
// transaction. Either all rows land or none; prior rows for the key are
// logically replaced.
func (s *RecommendationStore) Save(ctx context.Context, date time.Time, route string, recs []domain.Recommendation) error {
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM recommendations WHERE rec_date = $1 AND route_code = $2`,
			date, route); err != nil {
			return errors.Wrap(err, "failed to clear prior rows")
		}

		for _, r := range recs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO recommendations
				(rec_date, route_code, customer_code, item_code, recommended_qty, tier,
				 van_load, priority_score, avg_qty_per_visit, days_since_last_purchase,
				 purchase_cycle_days, frequency_pct, generated_at, generated_by)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				r.Date, r.RouteCode, r.CustomerCode, r.ItemCode, r.RecommendedQty,
				string(r.Tier), r.VanLoad, r.PriorityScore, r.AvgQtyPerVisit,
				r.DaysSinceLastPurchase, r.PurchaseCycleDays, r.FrequencyPct,
				r.GeneratedAt, r.GeneratedBy); err != nil {
				return errors.Wrapf(err, "failed to insert row for %s/%s", r.CustomerCode, r.ItemCode)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(domain.ErrStorageError, "save of %d rows for %s on %s failed: %v",
			len(recs), route, domain.DateKey(date), err)
	}

	s.logger.Info("Recommendations saved",
		zap.String("route", route),
		zap.String("date", domain.DateKey(date)),
		zap.Int("rows", len(recs)),
	)
	return nil
}

// FilterOptions returns the distinct routes for the date, the customers for
// the given route, and the items for the given customer. Customers are listed
// only when a route is given, items only when both route and customer are.
func (s *RecommendationStore) FilterOptions(ctx context.Context, date time.Time, route, customer string) (*domain.FilterOptions, error) {
	opts := &domain.FilterOptions{}

	routes, err := s.distinct(ctx,
		`SELECT DISTINCT route_code FROM recommendations WHERE rec_date = $1 ORDER BY route_code`,
		date)
	if err != nil {
		return nil, err
	}
	opts.Routes = routes

	if route != "" {
		customers, err := s.distinct(ctx,
			`SELECT DISTINCT customer_code FROM recommendations WHERE rec_date = $1 AND route_code = $2 ORDER BY customer_code`,
			date, route)
		if err != nil {
			return nil, err
		}
		opts.Customers = customers
	}

	if route != "" && customer != "" {
		items, err := s.distinct(ctx,
			`SELECT DISTINCT item_code FROM recommendations WHERE rec_date = $1 AND route_code = $2 AND customer_code = $3 ORDER BY item_code`,
			date, route, customer)
		if err != nil {
			return nil, err
		}
		opts.Items = items
	}

	return opts, nil
}

func (s *RecommendationStore) distinct(ctx context.Context, sql string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Pool().Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrStorageError, "filter query failed: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrapf(domain.ErrStorageError, "filter scan failed: %v", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CleanupOld physically evicts recommendation rows older than retentionDays.
func (s *RecommendationStore) CleanupOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	deleted, err := s.db.Execute(ctx, database.QueryRetentionSweep, retentionDays)
	if err != nil {
		return 0, errors.Wrap(err, "retention sweep failed")
	}
	if deleted > 0 {
		s.logger.Info("Evicted old recommendation rows",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", retentionDays),
		)
	}
	return deleted, nil
}

// internal/storage/schema.go
package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the recommendations and supervision tables and their
// indexes if missing. The supervision children cascade-delete with their
// parent session.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS recommendations (
			id BIGSERIAL PRIMARY KEY,
			rec_date DATE NOT NULL,
			route_code VARCHAR(50) NOT NULL,
			customer_code VARCHAR(50) NOT NULL,
			item_code VARCHAR(50) NOT NULL,
			recommended_qty INTEGER NOT NULL CHECK (recommended_qty >= 0),
			tier VARCHAR(20) NOT NULL,
			van_load INTEGER NOT NULL CHECK (van_load >= 0),
			priority_score DOUBLE PRECISION NOT NULL,
			avg_qty_per_visit INTEGER NOT NULL,
			days_since_last_purchase INTEGER NOT NULL,
			purchase_cycle_days DOUBLE PRECISION NOT NULL,
			frequency_pct DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			generated_by VARCHAR(100) NOT NULL,
			UNIQUE (rec_date, route_code, customer_code, item_code)
		)`,

		`CREATE TABLE IF NOT EXISTS supervision_sessions (
			session_id VARCHAR(120) PRIMARY KEY,
			route_code VARCHAR(50) NOT NULL,
			session_date DATE NOT NULL,
			status VARCHAR(20) NOT NULL,
			customers_planned INTEGER NOT NULL DEFAULT 0,
			customers_visited INTEGER NOT NULL DEFAULT 0,
			skus_recommended INTEGER NOT NULL DEFAULT 0,
			skus_sold INTEGER NOT NULL DEFAULT 0,
			qty_recommended INTEGER NOT NULL DEFAULT 0,
			qty_actual INTEGER NOT NULL DEFAULT 0,
			redistribution_count INTEGER NOT NULL DEFAULT 0,
			redistribution_qty INTEGER NOT NULL DEFAULT 0,
			performance_score DECIMAL(5,1) NOT NULL DEFAULT 0,
			record_version INTEGER NOT NULL DEFAULT 1 CHECK (record_version >= 1),
			narrative TEXT,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			UNIQUE (route_code, session_date)
		)`,

		`CREATE TABLE IF NOT EXISTS supervision_visits (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(120) NOT NULL REFERENCES supervision_sessions(session_id) ON DELETE CASCADE,
			customer_code VARCHAR(50) NOT NULL,
			visit_sequence INTEGER NOT NULL CHECK (visit_sequence >= 1),
			visit_timestamp TIMESTAMPTZ NOT NULL,
			skus_recommended INTEGER NOT NULL DEFAULT 0,
			skus_sold INTEGER NOT NULL DEFAULT 0,
			qty_recommended INTEGER NOT NULL DEFAULT 0,
			qty_actual INTEGER NOT NULL DEFAULT 0,
			redistribution_count INTEGER NOT NULL DEFAULT 0,
			redistribution_qty INTEGER NOT NULL DEFAULT 0,
			performance_score DECIMAL(5,1) NOT NULL DEFAULT 0,
			narrative TEXT,
			UNIQUE (session_id, customer_code)
		)`,

		`CREATE TABLE IF NOT EXISTS supervision_items (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(120) NOT NULL REFERENCES supervision_sessions(session_id) ON DELETE CASCADE,
			customer_code VARCHAR(50) NOT NULL,
			item_code VARCHAR(50) NOT NULL,
			original_recommended_qty INTEGER NOT NULL,
			adjusted_recommended_qty INTEGER NOT NULL,
			recommendation_adjustment INTEGER NOT NULL,
			original_actual_qty INTEGER NOT NULL,
			final_actual_qty INTEGER NOT NULL,
			actual_adjustment INTEGER NOT NULL,
			was_manually_edited BOOLEAN NOT NULL DEFAULT FALSE,
			was_item_sold BOOLEAN NOT NULL DEFAULT FALSE,
			tier VARCHAR(20) NOT NULL,
			priority_score DOUBLE PRECISION NOT NULL,
			van_inventory_qty INTEGER NOT NULL,
			days_since_last_purchase INTEGER NOT NULL,
			purchase_cycle_days DOUBLE PRECISION NOT NULL,
			purchase_frequency_pct DOUBLE PRECISION NOT NULL,
			UNIQUE (session_id, customer_code, item_code)
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_recommendations_date_route ON recommendations(rec_date, route_code)`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_customer_date ON recommendations(customer_code, rec_date)`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_sessions_route_date ON supervision_sessions(route_code, session_date)`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_visits_session ON supervision_visits(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_items_session ON supervision_items(session_id)`,
	}

	for _, schema := range schemas {
		if _, err := pool.Exec(ctx, schema); err != nil {
			return errors.Wrap(err, "failed to create table")
		}
	}
	for _, index := range indexes {
		if _, err := pool.Exec(ctx, index); err != nil {
			return errors.Wrap(err, "failed to create index")
		}
	}
	return nil
}

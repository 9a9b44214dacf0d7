// internal/database/postgres.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates the warehouse connection pool. The hard cap is the base
// pool size plus the configured overflow; pgx validates connections with its
// periodic health check before handing them out.
func NewPool(ctx context.Context, cfg *types.Config) (*pgxpool.Pool, error) {
	maxConns := cfg.Database.PoolSize + cfg.Database.PoolOverflow

	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%d dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d pool_max_conn_lifetime=1h pool_max_conn_idle_time=30m pool_health_check_period=1m connect_timeout=10",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Dbname, cfg.Database.Sslmode,
		maxConns, cfg.Database.PoolSize,
	)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	return pool, nil
}

package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Manager provides robust warehouse connection management: a bounded pgx
// pool, acquisition metrics, periodic health checks, and named-query
// execution through the template registry.
type Manager struct {
	pool      *pgxpool.Pool
	cfg       *types.Config
	templates *TemplateRegistry
	logger    logging.AdvisorLogger

	checkoutTimeout time.Duration

	// Connection tracking
	activeConnections  int64
	connectionAttempts int64
	connectionFailures int64

	health *healthChecker
	mutex  sync.RWMutex
}

// Health is the pool health report exposed by the service health endpoint.
type Health struct {
	PoolSize int32 `json:"pool_size"`
	InUse    int32 `json:"in_use"`
	Idle     int32 `json:"idle"`
	Healthy  bool  `json:"healthy"`
}

type healthChecker struct {
	manager          *Manager
	interval         time.Duration
	stop             chan struct{}
	logger           logging.AdvisorLogger
	consecutiveFails int64
}

// NewManager creates a warehouse manager over an established pool.
func NewManager(pool *pgxpool.Pool, cfg *types.Config, logger logging.AdvisorLogger) (*Manager, error) {
	if pool == nil {
		return nil, errors.New("connection pool cannot be nil")
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	templates, err := LoadTemplates(cfg.Recommendation.HistoryDays)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load query templates")
	}

	m := &Manager{
		pool:            pool,
		cfg:             cfg,
		templates:       templates,
		logger:          logger,
		checkoutTimeout: cfg.QueryTimeoutDuration(),
	}

	m.health = &healthChecker{
		manager:  m,
		interval: time.Minute,
		stop:     make(chan struct{}),
		logger:   logger.With(zap.String("component", "health_checker")),
	}
	m.health.start()

	return m, nil
}

// Fetch executes a named, versioned query template and returns the rowset.
// Pool exhaustion within the configured wait surfaces ErrBackendUnavailable.
func (m *Manager) Fetch(ctx context.Context, queryName string, params ...interface{}) (pgx.Rows, error) {
	tmpl, err := m.templates.Get(queryName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.checkoutTimeout)

	atomic.AddInt64(&m.connectionAttempts, 1)
	start := time.Now()

	rows, err := m.pool.Query(ctx, tmpl.SQL, params...)
	if err != nil {
		timedOut := ctx.Err() != nil
		cancel()
		atomic.AddInt64(&m.connectionFailures, 1)
		if timedOut {
			return nil, errors.Wrapf(domain.ErrBackendUnavailable, "query %s timed out after %s", queryName, time.Since(start))
		}
		return nil, errors.Wrapf(err, "query %s failed", queryName)
	}

	m.logSlowAcquire(queryName, time.Since(start))
	// the timeout context stays live while the caller reads the rows
	return cancelOnCloseRows{Rows: rows, cancel: cancel}, nil
}

// cancelOnCloseRows releases the query's timeout context when the rows close.
type cancelOnCloseRows struct {
	pgx.Rows
	cancel context.CancelFunc
}

func (r cancelOnCloseRows) Close() { r.Rows.Close(); r.cancel() }

// Execute runs a named statement template and returns the affected row count.
func (m *Manager) Execute(ctx context.Context, queryName string, params ...interface{}) (int64, error) {
	tmpl, err := m.templates.Get(queryName)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.checkoutTimeout)
	defer cancel()

	tag, err := m.pool.Exec(ctx, tmpl.SQL, params...)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.Wrapf(domain.ErrBackendUnavailable, "statement %s timed out", queryName)
		}
		return 0, errors.Wrapf(err, "statement %s failed", queryName)
	}
	return tag.RowsAffected(), nil
}

// Pool exposes the underlying pool to the persistence layers that manage
// their own transactions.
func (m *Manager) Pool() *pgxpool.Pool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.pool
}

// WithTransaction executes fn within a transaction, rolling back on error
// or panic.
func (m *Manager) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	conn, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer m.release(conn)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			m.logger.Error("Failed to rollback transaction", rollbackErr, zap.Error(err))
		}
		return err
	}

	return tx.Commit(ctx)
}

// Health reports pool state for the service health endpoint.
func (m *Manager) Health() Health {
	stat := m.pool.Stat()
	return Health{
		PoolSize: stat.TotalConns(),
		InUse:    stat.AcquiredConns(),
		Idle:     stat.IdleConns(),
		Healthy:  atomic.LoadInt64(&m.health.consecutiveFails) == 0,
	}
}

// Close stops health monitoring and closes the pool.
func (m *Manager) Close() {
	m.health.stopMonitoring()

	m.mutex.Lock()
	pool := m.pool
	m.pool = nil
	m.mutex.Unlock()

	if pool != nil {
		pool.Close()
		m.logger.Info("Warehouse connection pool closed")
	}
}

// acquire checks a connection out with the bounded wait. Exhaustion maps to
// ErrBackendUnavailable so callers can distinguish transient from permanent.
func (m *Manager) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.checkoutTimeout)
	defer cancel()

	atomic.AddInt64(&m.connectionAttempts, 1)
	start := time.Now()

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		atomic.AddInt64(&m.connectionFailures, 1)
		if ctx.Err() != nil {
			return nil, errors.Wrapf(domain.ErrBackendUnavailable,
				"connection checkout exhausted after %s", time.Since(start))
		}
		return nil, errors.Wrap(err, "failed to acquire connection")
	}

	atomic.AddInt64(&m.activeConnections, 1)
	m.logSlowAcquire("acquire", time.Since(start))
	return conn, nil
}

func (m *Manager) release(conn *pgxpool.Conn) {
	if conn != nil {
		conn.Release()
		atomic.AddInt64(&m.activeConnections, -1)
	}
}

func (m *Manager) logSlowAcquire(op string, d time.Duration) {
	if d > 100*time.Millisecond {
		m.logger.Warn("Slow warehouse operation",
			zap.String("operation", op),
			zap.Duration("elapsed", d),
		)
	}
}

func (hc *healthChecker) start() {
	go func() {
		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				hc.check()
			case <-hc.stop:
				return
			}
		}
	}()
}

func (hc *healthChecker) stopMonitoring() {
	close(hc.stop)
}

func (hc *healthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	hc.manager.mutex.RLock()
	pool := hc.manager.pool
	hc.manager.mutex.RUnlock()
	if pool == nil {
		return
	}

	if err := pool.Ping(ctx); err != nil {
		fails := atomic.AddInt64(&hc.consecutiveFails, 1)
		hc.logger.Warn("Warehouse health check failed",
			zap.Error(err),
			zap.Duration("response_time", time.Since(start)),
			zap.Int64("consecutive_failures", fails),
		)
		return
	}
	atomic.StoreInt64(&hc.consecutiveFails, 0)
}

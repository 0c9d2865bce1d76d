package perfcore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/quantflow/perfcore/config"
	"github.com/quantflow/perfcore/models"
)

// BatchStatement is one statement of a BatchQuery call.
type BatchStatement struct {
	SQL  string
	Args []any
}

// BatchResult carries the rows of one batched statement.
type BatchResult struct {
	Rows     [][]any
	RowCount int
}

// DBPool is the connection pool engine over a PostgreSQL backing store.
// Connection-level failures are counted and logged but never halt the pool;
// query-level failures propagate to the caller after the connection is
// released.
type DBPool struct {
	cfg  config.DBConfig
	pool *pgxpool.Pool

	metrics *models.DBMetrics
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	ring     []models.QueryMetric
	ringNext int
	health   models.HealthStatus

	stop      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewDBPool connects the pool and starts the periodic health probe.
func NewDBPool(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*DBPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid db config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	p := &DBPool{
		cfg:     cfg,
		pool:    pool,
		metrics: models.NewDBMetrics(),
		logger:  logger,
		now:     time.Now,
		ring:    make([]models.QueryMetric, 0, cfg.MetricsWindow),
		stop:    make(chan struct{}),
	}

	go p.healthLoop()
	return p, nil
}

// Query executes one statement under the configured statement timeout and
// returns the result rows as value slices. The connection is acquired from
// the pool and released on every exit path.
func (p *DBPool) Query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
	defer cancel()

	start := p.now()
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.recordMetric(sql, p.now().Sub(start), 0, err)
		return nil, fmt.Errorf("query failed: %w", err)
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			p.recordMetric(sql, p.now().Sub(start), len(out), err)
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		out = append(out, values)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		p.recordMetric(sql, p.now().Sub(start), len(out), err)
		return nil, fmt.Errorf("query failed: %w", err)
	}

	p.recordMetric(sql, p.now().Sub(start), len(out), nil)
	return out, nil
}

// Transaction runs fn inside a transaction: commit on success, rollback on
// any failure from fn, connection released afterwards in every case. The
// original error from fn is re-raised after rollback.
func (p *DBPool) Transaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if p.isClosed() {
		return ErrPoolClosed
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.countConnError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	p.metrics.Transactions.Inc()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		p.metrics.Rollbacks.Inc()
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		p.metrics.Rollbacks.Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BatchQuery sends all statements over a single pooled connection and
// returns per-statement results. The connection is released once, after the
// whole batch completes or fails.
func (p *DBPool) BatchQuery(ctx context.Context, stmts []BatchStatement) ([]BatchResult, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if len(stmts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, stmt := range stmts {
		batch.Queue(stmt.SQL, stmt.Args...)
	}

	start := p.now()
	br := p.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	results := make([]BatchResult, 0, len(stmts))
	for _, stmt := range stmts {
		stmtStart := p.now()
		rows, err := br.Query()
		if err != nil {
			p.recordMetric(stmt.SQL, p.now().Sub(stmtStart), 0, err)
			return nil, fmt.Errorf("batch statement failed: %w", err)
		}

		var out [][]any
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				rows.Close()
				p.recordMetric(stmt.SQL, p.now().Sub(stmtStart), len(out), err)
				return nil, fmt.Errorf("failed to read batch row: %w", err)
			}
			out = append(out, values)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			p.recordMetric(stmt.SQL, p.now().Sub(stmtStart), len(out), err)
			return nil, fmt.Errorf("batch statement failed: %w", err)
		}

		p.recordMetric(stmt.SQL, p.now().Sub(stmtStart), len(out), nil)
		results = append(results, BatchResult{Rows: out, RowCount: len(out)})
	}

	p.logger.Debug("batch executed",
		zap.Int("statements", len(stmts)),
		zap.Duration("duration", p.now().Sub(start)))
	return results, nil
}

// HealthCheck probes connectivity with a minimal statement and reports the
// measured latency. It also runs automatically on the configured interval.
func (p *DBPool) HealthCheck(ctx context.Context) models.HealthStatus {
	p.metrics.HealthChecks.Inc()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	start := p.now()
	var one int
	err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	status := models.HealthStatus{
		Healthy:   err == nil,
		Latency:   p.now().Sub(start),
		CheckedAt: p.now(),
	}
	if err != nil {
		status.Error = err.Error()
		p.countConnError(err)
	}

	p.mu.Lock()
	p.health = status
	p.mu.Unlock()
	return status
}

// GetStats snapshots pool occupancy and counters.
func (p *DBPool) GetStats() models.PoolStats {
	stats := models.PoolStats{
		Queries:          p.metrics.Queries.Load(),
		Failures:         p.metrics.Failures.Load(),
		SlowQueries:      p.metrics.SlowQueries.Load(),
		Transactions:     p.metrics.Transactions.Load(),
		Rollbacks:        p.metrics.Rollbacks.Load(),
		ConnectionErrors: p.metrics.ConnectionErrors.Load(),
	}
	if p.pool != nil {
		s := p.pool.Stat()
		stats.TotalConns = s.TotalConns()
		stats.ActiveConns = s.AcquiredConns()
		stats.IdleConns = s.IdleConns()
		stats.WaitingAcquires = s.EmptyAcquireCount()
	}
	return stats
}

// GetSlowQueries returns up to limit of the most recent slow queries.
func (p *DBPool) GetSlowQueries(limit int) []models.QueryMetric {
	metrics := p.recentMetrics()
	slow := make([]models.QueryMetric, 0, limit)
	for i := len(metrics) - 1; i >= 0 && len(slow) < limit; i-- {
		if metrics[i].Slow {
			slow = append(slow, metrics[i])
		}
	}
	return slow
}

// GetQueryMetrics returns up to limit of the most recent query metrics,
// newest first.
func (p *DBPool) GetQueryMetrics(limit int) []models.QueryMetric {
	metrics := p.recentMetrics()
	if limit > len(metrics) {
		limit = len(metrics)
	}
	out := make([]models.QueryMetric, 0, limit)
	for i := len(metrics) - 1; i >= len(metrics)-limit; i-- {
		out = append(out, metrics[i])
	}
	return out
}

// Close stops the health probe and closes the pool.
func (p *DBPool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stop)
		if p.pool != nil {
			p.pool.Close()
		}
	})
}

func (p *DBPool) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := p.HealthCheck(context.Background())
			if !status.Healthy {
				p.logger.Warn("health check failed",
					zap.String("error", status.Error),
					zap.Duration("latency", status.Latency))
			}
		case <-p.stop:
			return
		}
	}
}

// recordMetric appends one QueryMetric to the bounded ring buffer and flags
// slow queries.
func (p *DBPool) recordMetric(sql string, duration time.Duration, rowCount int, err error) {
	p.metrics.Queries.Inc()
	if err != nil {
		p.metrics.Failures.Inc()
		p.countConnError(err)
	}

	slow := duration >= p.cfg.SlowQueryThreshold
	if slow {
		p.metrics.SlowQueries.Inc()
		p.logger.Warn("slow query",
			zap.String("query", truncateQuery(sql)),
			zap.Duration("duration", duration),
			zap.Duration("threshold", p.cfg.SlowQueryThreshold))
	}

	metric := models.QueryMetric{
		Query:     truncateQuery(sql),
		Duration:  duration,
		Success:   err == nil,
		Slow:      slow,
		RowCount:  rowCount,
		Timestamp: p.now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ring) < p.cfg.MetricsWindow {
		p.ring = append(p.ring, metric)
		return
	}
	p.ring[p.ringNext] = metric
	p.ringNext = (p.ringNext + 1) % p.cfg.MetricsWindow
}

// recentMetrics returns the ring contents in chronological order.
func (p *DBPool) recentMetrics() []models.QueryMetric {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.ring) < p.cfg.MetricsWindow {
		return append([]models.QueryMetric(nil), p.ring...)
	}
	out := make([]models.QueryMetric, 0, len(p.ring))
	out = append(out, p.ring[p.ringNext:]...)
	out = append(out, p.ring[:p.ringNext]...)
	return out
}

// countConnError classifies connection-level failures (refused, timed out,
// unreachable) separately from query-level failures.
func (p *DBPool) countConnError(err error) {
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		p.metrics.ConnectionErrors.Inc()
		p.logger.Warn("connection error", zap.Error(err))
	}
}

func (p *DBPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

const maxQueryTextLen = 120

func truncateQuery(sql string) string {
	if len(sql) <= maxQueryTextLen {
		return sql
	}
	return sql[:maxQueryTextLen] + "..."
}

// Package storage provides the PostgreSQL storage layer for Zure.
//
// It manages connection pooling via pgxpool, schema migrations, and query
// methods for agent run events, behavior profiles, baselines, and drift
// detections.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/zure/internal/telemetry"
)

// DB wraps a pgxpool.Pool and exposes query methods for all tables.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// RegisterPoolMetrics exposes connection pool gauges on the global meter.
// Call after telemetry initialization so the instruments land on the real
// provider rather than the no-op default.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("zure/storage")

	total, errT := meter.Int64ObservableGauge("zure.db.pool.total_conns",
		otelmetric.WithDescription("Total connections in the pool"))
	idle, errI := meter.Int64ObservableGauge("zure.db.pool.idle_conns",
		otelmetric.WithDescription("Idle connections in the pool"))
	acquired, errA := meter.Int64ObservableGauge("zure.db.pool.acquired_conns",
		otelmetric.WithDescription("Connections currently checked out"))
	if errT != nil || errI != nil || errA != nil {
		db.logger.Warn("pool metrics instrument creation failed",
			"total_err", errT, "idle_err", errI, "acquired_err", errA)
		return
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o otelmetric.Observer) error {
		st := db.pool.Stat()
		o.ObserveInt64(total, int64(st.TotalConns()))
		o.ObserveInt64(idle, int64(st.IdleConns()))
		o.ObserveInt64(acquired, int64(st.AcquiredConns()))
		return nil
	}, total, idle, acquired)
	if err != nil {
		db.logger.Warn("pool metrics callback registration failed", "error", err)
	}
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

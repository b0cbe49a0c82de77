package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/zure/internal/model"
)

const driftColumns = `drift_id, baseline_id, agent_id, agent_version, environment, drift_type,
	metric, baseline_value, observed_value, delta, delta_percent, significance,
	test_method, severity, detected_at, observation_window_start, observation_window_end,
	observation_sample_size, resolved_at`

// InsertDriftEvents persists a batch of drift events from one detection pass
// in a single transaction. Inserting no events is a no-op.
func (db *DB) InsertDriftEvents(ctx context.Context, events []model.BehaviorDrift) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin insert drift: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, d := range events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO behavior_drift (`+driftColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			d.DriftID, d.BaselineID, d.AgentID, d.AgentVersion, d.Environment, string(d.DriftType),
			d.Metric, d.BaselineValue, d.ObservedValue, d.Delta, d.DeltaPercent, d.Significance,
			d.TestMethod, string(d.Severity), d.DetectedAt, d.ObservationWindowStart, d.ObservationWindowEnd,
			d.ObservationSampleSize, d.ResolvedAt,
		); err != nil {
			return fmt.Errorf("storage: insert drift event %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit insert drift: %w", err)
	}
	return nil
}

// GetDrift retrieves a drift event by ID.
func (db *DB) GetDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+driftColumns+` FROM behavior_drift WHERE drift_id = $1`, driftID,
	)
	d, err := scanDrift(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorDrift{}, ErrNotFound
		}
		return model.BehaviorDrift{}, fmt.Errorf("storage: get drift: %w", err)
	}
	return d, nil
}

// ListDrift returns drift events matching the filters, newest first, plus
// the total count before pagination.
func (db *DB) ListDrift(ctx context.Context, f model.DriftFilters, limit, offset int) ([]model.BehaviorDrift, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	where, args := buildDriftWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM behavior_drift`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count drift: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT `+driftColumns+` FROM behavior_drift%s ORDER BY detected_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list drift: %w", err)
	}
	defer rows.Close()

	var events []model.BehaviorDrift
	for rows.Next() {
		d, err := scanDrift(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan drift: %w", err)
		}
		events = append(events, d)
	}
	return events, total, rows.Err()
}

// ResolveDrift stamps resolved_at on an unresolved drift event. A missing
// event returns ErrNotFound; resolving twice returns ErrConflict.
func (db *DB) ResolveDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE behavior_drift SET resolved_at = $2
		 WHERE drift_id = $1 AND resolved_at IS NULL
		 RETURNING `+driftColumns,
		driftID, time.Now().UTC(),
	)
	d, err := scanDrift(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.BehaviorDrift{}, fmt.Errorf("storage: resolve drift: %w", err)
	}

	// No unresolved row matched: either absent or already resolved.
	if _, getErr := db.GetDrift(ctx, driftID); getErr != nil {
		return model.BehaviorDrift{}, getErr
	}
	return model.BehaviorDrift{}, ErrConflict
}

// DriftTimeline returns chartable points for one agent, ordered by
// detection time ascending.
func (db *DB) DriftTimeline(ctx context.Context, f model.DriftFilters) ([]model.DriftTimelinePoint, error) {
	where, args := buildDriftWhereClause(f, 1)

	rows, err := db.pool.Query(ctx,
		`SELECT detected_at, metric, observed_value, drift_id, severity
		 FROM behavior_drift`+where+` ORDER BY detected_at`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: drift timeline: %w", err)
	}
	defer rows.Close()

	points := []model.DriftTimelinePoint{}
	for rows.Next() {
		var p model.DriftTimelinePoint
		if err := rows.Scan(&p.Timestamp, &p.Metric, &p.Value, &p.DriftID, &p.Severity); err != nil {
			return nil, fmt.Errorf("storage: scan timeline point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DriftSummary aggregates drift events detected at or after cutoff,
// optionally restricted to one environment.
func (db *DB) DriftSummary(ctx context.Context, environment string, cutoff time.Time) (model.DriftSummary, error) {
	where := ` WHERE detected_at >= $1`
	args := []any{cutoff}
	if environment != "" {
		where += ` AND environment = $2`
		args = append(args, environment)
	}

	summary := model.DriftSummary{
		DriftBySeverity: map[string]int{},
		DriftByType:     map[string]int{},
	}

	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE resolved_at IS NULL),
		        COUNT(DISTINCT agent_id)
		 FROM behavior_drift`+where, args...,
	).Scan(&summary.TotalDriftEvents, &summary.UnresolvedDriftEvents, &summary.AgentsWithDrift)
	if err != nil {
		return model.DriftSummary{}, fmt.Errorf("storage: drift summary totals: %w", err)
	}

	if err := db.countDriftGroups(ctx, `severity`, where, args, summary.DriftBySeverity); err != nil {
		return model.DriftSummary{}, err
	}
	if err := db.countDriftGroups(ctx, `drift_type`, where, args, summary.DriftByType); err != nil {
		return model.DriftSummary{}, err
	}
	return summary, nil
}

func (db *DB) countDriftGroups(ctx context.Context, column, where string, args []any, out map[string]int) error {
	rows, err := db.pool.Query(ctx,
		`SELECT `+column+`, COUNT(*) FROM behavior_drift`+where+` GROUP BY `+column, args...,
	)
	if err != nil {
		return fmt.Errorf("storage: drift summary by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("storage: scan drift group: %w", err)
		}
		out[key] = count
	}
	return rows.Err()
}

func buildDriftWhereClause(f model.DriftFilters, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	if f.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", idx))
		args = append(args, f.AgentID)
		idx++
	}
	if f.AgentVersion != "" {
		conditions = append(conditions, fmt.Sprintf("agent_version = $%d", idx))
		args = append(args, f.AgentVersion)
		idx++
	}
	if f.Environment != "" {
		conditions = append(conditions, fmt.Sprintf("environment = $%d", idx))
		args = append(args, f.Environment)
		idx++
	}
	if f.DriftType != "" {
		conditions = append(conditions, fmt.Sprintf("drift_type = $%d", idx))
		args = append(args, f.DriftType)
		idx++
	}
	if f.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", idx))
		args = append(args, f.Severity)
		idx++
	}
	if f.Resolved != nil {
		if *f.Resolved {
			conditions = append(conditions, "resolved_at IS NOT NULL")
		} else {
			conditions = append(conditions, "resolved_at IS NULL")
		}
	}
	if f.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("detected_at >= $%d", idx))
		args = append(args, *f.StartTime)
		idx++
	}
	if f.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("detected_at <= $%d", idx))
		args = append(args, *f.EndTime)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanDrift(row pgx.Row) (model.BehaviorDrift, error) {
	var d model.BehaviorDrift
	err := row.Scan(
		&d.DriftID, &d.BaselineID, &d.AgentID, &d.AgentVersion, &d.Environment, &d.DriftType,
		&d.Metric, &d.BaselineValue, &d.ObservedValue, &d.Delta, &d.DeltaPercent, &d.Significance,
		&d.TestMethod, &d.Severity, &d.DetectedAt, &d.ObservationWindowStart, &d.ObservationWindowEnd,
		&d.ObservationSampleSize, &d.ResolvedAt,
	)
	return d, err
}

package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/zure/internal/model"
)

// windowFilter binds the aggregation queries below to one agent key and one
// half-open observation window [start, end).
const windowFilter = `agent_id = $1 AND agent_version = $2 AND environment = $3
	AND started_at >= $4 AND started_at < $5`

// CountRuns counts runs for an agent key whose started_at falls within the
// half-open window.
func (db *DB) CountRuns(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_runs WHERE `+windowFilter,
		agentID, agentVersion, environment, windowStart, windowEnd,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count runs in window: %w", err)
	}
	return count, nil
}

// DecisionCounts aggregates decision records for runs in the window, grouped
// by decision_type then selected option.
func (db *DB) DecisionCounts(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (map[string]map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT d.decision_type, d.selected, COUNT(*)
		 FROM agent_decisions d
		 JOIN agent_runs r ON d.run_id = r.run_id
		 WHERE r.`+windowFilter+`
		 GROUP BY d.decision_type, d.selected`,
		agentID, agentVersion, environment, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: decision counts: %w", err)
	}
	defer rows.Close()

	return scanGroupedCounts(rows)
}

// SignalCounts aggregates quality-signal records for runs in the window,
// grouped by signal_type then signal_code.
func (db *DB) SignalCounts(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (map[string]map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.signal_type, s.signal_code, COUNT(*)
		 FROM agent_quality_signals s
		 JOIN agent_runs r ON s.run_id = r.run_id
		 WHERE r.`+windowFilter+`
		 GROUP BY s.signal_type, s.signal_code`,
		agentID, agentVersion, environment, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: signal counts: %w", err)
	}
	defer rows.Close()

	return scanGroupedCounts(rows)
}

// RunDurationsMS returns end-to-end durations in milliseconds for completed
// runs in the window, sorted ascending.
func (db *DB) RunDurationsMS(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) ([]float64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT EXTRACT(EPOCH FROM (ended_at - started_at)) * 1000
		 FROM agent_runs
		 WHERE `+windowFilter+` AND ended_at IS NOT NULL
		 ORDER BY 1`,
		agentID, agentVersion, environment, windowStart, windowEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: run durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("storage: scan duration: %w", err)
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

// RunStats aggregates run outcomes, step latency, and failure breakdowns for
// the stats endpoint.
func (db *DB) RunStats(ctx context.Context, f model.RunFilters) (model.StatsResponse, error) {
	where, args := buildRunWhereClause(f, "", 1)
	joinWhere, _ := buildRunWhereClause(f, "r.", 1)

	stats := model.StatsResponse{
		FailureBreakdown:  map[string]int{},
		StepTypeBreakdown: map[string]int{},
	}

	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'failure') FROM agent_runs`+where,
		args...,
	).Scan(&stats.TotalRuns, &stats.TotalFailures)
	if err != nil {
		return model.StatsResponse{}, fmt.Errorf("storage: run stats totals: %w", err)
	}
	if stats.TotalRuns > 0 {
		rate := float64(stats.TotalRuns-stats.TotalFailures) / float64(stats.TotalRuns) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}

	var avgLatency float64
	err = db.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(s.latency_ms), 0)
		 FROM agent_steps s JOIN agent_runs r ON s.run_id = r.run_id`+joinWhere,
		args...,
	).Scan(&avgLatency)
	if err != nil {
		return model.StatsResponse{}, fmt.Errorf("storage: run stats latency: %w", err)
	}
	stats.AvgLatencyMS = math.Round(avgLatency*100) / 100

	if err := db.scanBreakdown(ctx,
		`SELECT f.failure_type || '/' || f.failure_code, COUNT(*)
		 FROM agent_failures f JOIN agent_runs r ON f.run_id = r.run_id`+joinWhere+`
		 GROUP BY f.failure_type, f.failure_code`,
		args, stats.FailureBreakdown,
	); err != nil {
		return model.StatsResponse{}, fmt.Errorf("storage: failure breakdown: %w", err)
	}

	if err := db.scanBreakdown(ctx,
		`SELECT s.step_type, COUNT(*)
		 FROM agent_steps s JOIN agent_runs r ON s.run_id = r.run_id`+joinWhere+`
		 GROUP BY s.step_type`,
		args, stats.StepTypeBreakdown,
	); err != nil {
		return model.StatsResponse{}, fmt.Errorf("storage: step breakdown: %w", err)
	}

	return stats, nil
}

func (db *DB) scanBreakdown(ctx context.Context, query string, args []any, out map[string]int) error {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		out[key] = count
	}
	return rows.Err()
}

func scanGroupedCounts(rows pgx.Rows) (map[string]map[string]int, error) {
	counts := map[string]map[string]int{}
	for rows.Next() {
		var tag, option string
		var count int
		if err := rows.Scan(&tag, &option, &count); err != nil {
			return nil, fmt.Errorf("storage: scan grouped counts: %w", err)
		}
		inner, ok := counts[tag]
		if !ok {
			inner = map[string]int{}
			counts[tag] = inner
		}
		inner[option] = count
	}
	return counts, rows.Err()
}

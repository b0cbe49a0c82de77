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

// IngestRun persists a complete run with all child records in one
// transaction. run_id is the idempotency key: if a run with the same ID
// already exists, the stored run is returned unchanged with created=false
// and the payload is discarded.
func (db *DB) IngestRun(ctx context.Context, req model.IngestRunRequest) (model.AgentRun, bool, error) {
	now := time.Now().UTC()
	run := model.AgentRun{
		RunID:        req.RunID,
		AgentID:      req.AgentID,
		AgentVersion: req.AgentVersion,
		Environment:  req.Environment,
		Status:       req.Status,
		StartedAt:    req.StartedAt,
		EndedAt:      req.EndedAt,
		CreatedAt:    now,
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.AgentRun{}, false, fmt.Errorf("storage: begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO agent_runs (run_id, agent_id, agent_version, environment, status, started_at, ended_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, run.AgentID, run.AgentVersion, run.Environment,
		string(run.Status), run.StartedAt, run.EndedAt, run.CreatedAt,
	)
	if err != nil {
		return model.AgentRun{}, false, fmt.Errorf("storage: insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := db.getRunRow(ctx, req.RunID)
		if err != nil {
			return model.AgentRun{}, false, err
		}
		return existing, false, nil
	}

	for _, s := range req.Steps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_steps (step_id, run_id, seq, step_type, name, latency_ms, started_at, ended_at, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.StepID, run.RunID, s.Seq, string(s.StepType), s.Name,
			s.LatencyMS, s.StartedAt, s.EndedAt, orEmpty(s.Metadata),
		); err != nil {
			return model.AgentRun{}, false, fmt.Errorf("storage: insert step %d: %w", s.Seq, err)
		}
	}

	if f := req.Failure; f != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_failures (failure_id, run_id, step_id, failure_type, failure_code, message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), run.RunID, f.StepID, string(f.FailureType), f.FailureCode, f.Message, now,
		); err != nil {
			return model.AgentRun{}, false, fmt.Errorf("storage: insert failure: %w", err)
		}
	}

	for i, d := range req.Decisions {
		meta := orEmpty(d.Metadata)
		if len(d.Candidates) > 0 {
			merged := make(map[string]any, len(meta)+1)
			for k, v := range meta {
				merged[k] = v
			}
			merged["candidates"] = d.Candidates
			meta = merged
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_decisions (decision_id, run_id, step_id, decision_type, selected, reason_code, confidence, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			d.DecisionID, run.RunID, d.StepID, d.DecisionType, d.Selected, d.ReasonCode,
			d.Confidence, meta, now,
		); err != nil {
			return model.AgentRun{}, false, fmt.Errorf("storage: insert decision %d: %w", i, err)
		}
	}

	for i, s := range req.Signals {
		if _, err := tx.Exec(ctx,
			`INSERT INTO agent_quality_signals (signal_id, run_id, step_id, signal_type, signal_code, value, weight, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.SignalID, run.RunID, s.StepID, s.SignalType, s.SignalCode,
			s.Value, s.Weight, orEmpty(s.Metadata), now,
		); err != nil {
			return model.AgentRun{}, false, fmt.Errorf("storage: insert signal %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AgentRun{}, false, fmt.Errorf("storage: commit ingest: %w", err)
	}
	return run, true, nil
}

// GetRun retrieves a run with all of its child records.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (model.RunWithChildren, error) {
	run, err := db.getRunRow(ctx, runID)
	if err != nil {
		return model.RunWithChildren{}, err
	}

	out := model.RunWithChildren{
		AgentRun:  run,
		Steps:     []model.AgentStep{},
		Failures:  []model.AgentFailure{},
		Decisions: []model.AgentDecision{},
		Signals:   []model.AgentQualitySignal{},
	}

	if out.Steps, err = db.getRunSteps(ctx, runID); err != nil {
		return model.RunWithChildren{}, err
	}
	if out.Failures, err = db.getRunFailures(ctx, runID); err != nil {
		return model.RunWithChildren{}, err
	}
	if out.Decisions, err = db.getRunDecisions(ctx, runID); err != nil {
		return model.RunWithChildren{}, err
	}
	if out.Signals, err = db.getRunSignals(ctx, runID); err != nil {
		return model.RunWithChildren{}, err
	}
	return out, nil
}

// ListRuns returns runs matching the filters, newest first, plus the total
// count before pagination.
func (db *DB) ListRuns(ctx context.Context, f model.RunFilters, limit, offset int) ([]model.AgentRun, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	where, args := buildRunWhereClause(f, "", 1)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agent_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT run_id, agent_id, agent_version, environment, status, started_at, ended_at, created_at
		 FROM agent_runs%s ORDER BY started_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.AgentRun
	for rows.Next() {
		var r model.AgentRun
		if err := rows.Scan(
			&r.RunID, &r.AgentID, &r.AgentVersion, &r.Environment,
			&r.Status, &r.StartedAt, &r.EndedAt, &r.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

func (db *DB) getRunRow(ctx context.Context, runID uuid.UUID) (model.AgentRun, error) {
	var r model.AgentRun
	err := db.pool.QueryRow(ctx,
		`SELECT run_id, agent_id, agent_version, environment, status, started_at, ended_at, created_at
		 FROM agent_runs WHERE run_id = $1`, runID,
	).Scan(
		&r.RunID, &r.AgentID, &r.AgentVersion, &r.Environment,
		&r.Status, &r.StartedAt, &r.EndedAt, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentRun{}, ErrNotFound
		}
		return model.AgentRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return r, nil
}

func (db *DB) getRunSteps(ctx context.Context, runID uuid.UUID) ([]model.AgentStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT step_id, run_id, seq, step_type, name, latency_ms, started_at, ended_at, metadata
		 FROM agent_steps WHERE run_id = $1 ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get steps: %w", err)
	}
	defer rows.Close()

	steps := []model.AgentStep{}
	for rows.Next() {
		var s model.AgentStep
		if err := rows.Scan(
			&s.StepID, &s.RunID, &s.Seq, &s.StepType, &s.Name,
			&s.LatencyMS, &s.StartedAt, &s.EndedAt, &s.Metadata,
		); err != nil {
			return nil, fmt.Errorf("storage: scan step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (db *DB) getRunFailures(ctx context.Context, runID uuid.UUID) ([]model.AgentFailure, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT failure_id, run_id, step_id, failure_type, failure_code, message, created_at
		 FROM agent_failures WHERE run_id = $1 ORDER BY created_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get failures: %w", err)
	}
	defer rows.Close()

	failures := []model.AgentFailure{}
	for rows.Next() {
		var f model.AgentFailure
		if err := rows.Scan(
			&f.FailureID, &f.RunID, &f.StepID, &f.FailureType,
			&f.FailureCode, &f.Message, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func (db *DB) getRunDecisions(ctx context.Context, runID uuid.UUID) ([]model.AgentDecision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT decision_id, run_id, step_id, decision_type, selected, reason_code, confidence, metadata, created_at
		 FROM agent_decisions WHERE run_id = $1 ORDER BY created_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get decisions: %w", err)
	}
	defer rows.Close()

	decisions := []model.AgentDecision{}
	for rows.Next() {
		var d model.AgentDecision
		if err := rows.Scan(
			&d.DecisionID, &d.RunID, &d.StepID, &d.DecisionType, &d.Selected,
			&d.ReasonCode, &d.Confidence, &d.Metadata, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (db *DB) getRunSignals(ctx context.Context, runID uuid.UUID) ([]model.AgentQualitySignal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT signal_id, run_id, step_id, signal_type, signal_code, value, weight, metadata, created_at
		 FROM agent_quality_signals WHERE run_id = $1 ORDER BY created_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get signals: %w", err)
	}
	defer rows.Close()

	signals := []model.AgentQualitySignal{}
	for rows.Next() {
		var s model.AgentQualitySignal
		if err := rows.Scan(
			&s.SignalID, &s.RunID, &s.StepID, &s.SignalType, &s.SignalCode,
			&s.Value, &s.Weight, &s.Metadata, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// buildRunWhereClause renders run filters as a WHERE clause. prefix
// qualifies column names (e.g. "r.") for joined queries.
func buildRunWhereClause(f model.RunFilters, prefix string, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	if f.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("%sagent_id = $%d", prefix, idx))
		args = append(args, f.AgentID)
		idx++
	}
	if f.AgentVersion != "" {
		conditions = append(conditions, fmt.Sprintf("%sagent_version = $%d", prefix, idx))
		args = append(args, f.AgentVersion)
		idx++
	}
	if f.Environment != "" {
		conditions = append(conditions, fmt.Sprintf("%senvironment = $%d", prefix, idx))
		args = append(args, f.Environment)
		idx++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("%sstatus = $%d", prefix, idx))
		args = append(args, f.Status)
		idx++
	}
	if f.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("%sstarted_at >= $%d", prefix, idx))
		args = append(args, *f.StartTime)
		idx++
	}
	if f.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("%sstarted_at <= $%d", prefix, idx))
		args = append(args, *f.EndTime)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// orEmpty substitutes an empty map for nil metadata so the stored JSONB
// column is always an object.
func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

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

// CreateBaseline inserts a baseline row. When autoActivate is set the new
// baseline becomes the single active baseline for its key within the same
// transaction. A second baseline for the same profile fails with
// ErrConflict.
func (db *DB) CreateBaseline(ctx context.Context, b model.BehaviorBaseline, autoActivate bool) (model.BehaviorBaseline, error) {
	if b.BaselineID == uuid.Nil {
		b.BaselineID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.IsActive = false

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.BehaviorBaseline{}, fmt.Errorf("storage: begin create baseline: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO behavior_baselines
		 (baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		  approved_by, approved_at, description, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.BaselineID, b.ProfileID, b.AgentID, b.AgentVersion, b.Environment, string(b.BaselineType),
		b.ApprovedBy, b.ApprovedAt, b.Description, b.IsActive, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "uq_behavior_baselines_profile") {
			return model.BehaviorBaseline{}, ErrConflict
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: insert baseline: %w", err)
	}

	if autoActivate {
		if err := activateInTx(ctx, tx, &b); err != nil {
			return model.BehaviorBaseline{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.BehaviorBaseline{}, fmt.Errorf("storage: commit create baseline: %w", err)
	}
	return b, nil
}

// ActivateBaseline atomically deactivates whichever baseline is currently
// active for the target's key and activates the target. Concurrent
// activations for the same key are serialized by the partial unique index;
// the loser returns ErrConflict and may be retried.
func (db *DB) ActivateBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.BehaviorBaseline{}, fmt.Errorf("storage: begin activate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := getBaselineInTx(ctx, tx, baselineID)
	if err != nil {
		return model.BehaviorBaseline{}, err
	}

	if !b.IsActive {
		if err := activateInTx(ctx, tx, &b); err != nil {
			return model.BehaviorBaseline{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.BehaviorBaseline{}, fmt.Errorf("storage: commit activate: %w", err)
	}
	return b, nil
}

// activateInTx flips the active flag to b within an open transaction:
// first clearing any active sibling, then marking b active.
func activateInTx(ctx context.Context, tx pgx.Tx, b *model.BehaviorBaseline) error {
	if _, err := tx.Exec(ctx,
		`UPDATE behavior_baselines SET is_active = FALSE
		 WHERE agent_id = $1 AND agent_version = $2 AND environment = $3
		   AND is_active AND baseline_id <> $4`,
		b.AgentID, b.AgentVersion, b.Environment, b.BaselineID,
	); err != nil {
		return fmt.Errorf("storage: deactivate current baseline: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE behavior_baselines SET is_active = TRUE WHERE baseline_id = $1`,
		b.BaselineID,
	); err != nil {
		if isUniqueViolation(err, "uq_behavior_baselines_active") {
			return ErrConflict
		}
		return fmt.Errorf("storage: activate baseline: %w", err)
	}
	b.IsActive = true
	return nil
}

// DeactivateBaseline clears the active flag. Deactivating an inactive
// baseline is a no-op.
func (db *DB) DeactivateBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := db.pool.QueryRow(ctx,
		`UPDATE behavior_baselines SET is_active = FALSE WHERE baseline_id = $1
		 RETURNING baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		           approved_by, approved_at, description, is_active, created_at`,
		baselineID,
	).Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
		&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, ErrNotFound
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: deactivate baseline: %w", err)
	}
	return b, nil
}

// ApproveBaseline records approver identity and timestamp. Approval is an
// idempotent property write: re-approval overwrites the previous record.
func (db *DB) ApproveBaseline(ctx context.Context, baselineID uuid.UUID, approvedBy string) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := db.pool.QueryRow(ctx,
		`UPDATE behavior_baselines SET approved_by = $2, approved_at = $3 WHERE baseline_id = $1
		 RETURNING baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		           approved_by, approved_at, description, is_active, created_at`,
		baselineID, approvedBy, time.Now().UTC(),
	).Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
		&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, ErrNotFound
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: approve baseline: %w", err)
	}
	return b, nil
}

// GetBaseline retrieves a baseline by ID.
func (db *DB) GetBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := db.pool.QueryRow(ctx,
		`SELECT baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		        approved_by, approved_at, description, is_active, created_at
		 FROM behavior_baselines WHERE baseline_id = $1`, baselineID,
	).Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
		&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, ErrNotFound
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: get baseline: %w", err)
	}
	return b, nil
}

func getBaselineInTx(ctx context.Context, tx pgx.Tx, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := tx.QueryRow(ctx,
		`SELECT baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		        approved_by, approved_at, description, is_active, created_at
		 FROM behavior_baselines WHERE baseline_id = $1 FOR UPDATE`, baselineID,
	).Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
		&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, ErrNotFound
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: get baseline for update: %w", err)
	}
	return b, nil
}

// GetActiveBaseline returns the single active baseline for an agent key, or
// ErrNotFound when none is active.
func (db *DB) GetActiveBaseline(ctx context.Context, agentID, agentVersion, environment string) (model.BehaviorBaseline, error) {
	var b model.BehaviorBaseline
	err := db.pool.QueryRow(ctx,
		`SELECT baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		        approved_by, approved_at, description, is_active, created_at
		 FROM behavior_baselines
		 WHERE agent_id = $1 AND agent_version = $2 AND environment = $3 AND is_active`,
		agentID, agentVersion, environment,
	).Scan(
		&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
		&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorBaseline{}, ErrNotFound
		}
		return model.BehaviorBaseline{}, fmt.Errorf("storage: get active baseline: %w", err)
	}
	return b, nil
}

// ListBaselines returns baselines matching the filters, newest first, plus
// the total count before pagination.
func (db *DB) ListBaselines(ctx context.Context, f model.BaselineFilters, limit, offset int) ([]model.BehaviorBaseline, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var conditions []string
	var args []any
	idx := 1
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
	if f.BaselineType != "" {
		conditions = append(conditions, fmt.Sprintf("baseline_type = $%d", idx))
		args = append(args, f.BaselineType)
		idx++
	}
	if f.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *f.IsActive)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM behavior_baselines`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count baselines: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT baseline_id, profile_id, agent_id, agent_version, environment, baseline_type,
		        approved_by, approved_at, description, is_active, created_at
		 FROM behavior_baselines%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list baselines: %w", err)
	}
	defer rows.Close()

	var baselines []model.BehaviorBaseline
	for rows.Next() {
		var b model.BehaviorBaseline
		if err := rows.Scan(
			&b.BaselineID, &b.ProfileID, &b.AgentID, &b.AgentVersion, &b.Environment, &b.BaselineType,
			&b.ApprovedBy, &b.ApprovedAt, &b.Description, &b.IsActive, &b.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan baseline: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, total, rows.Err()
}

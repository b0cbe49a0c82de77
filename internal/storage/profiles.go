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

// CreateProfile persists a built behavior profile. Profiles are immutable;
// there is no update path.
func (db *DB) CreateProfile(ctx context.Context, p model.BehaviorProfile) (model.BehaviorProfile, error) {
	if p.ProfileID == uuid.Nil {
		p.ProfileID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO behavior_profiles
		 (profile_id, agent_id, agent_version, environment, window_start, window_end,
		  sample_size, decision_distributions, signal_distributions, latency_stats, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ProfileID, p.AgentID, p.AgentVersion, p.Environment, p.WindowStart, p.WindowEnd,
		p.SampleSize, p.DecisionDistributions, p.SignalDistributions, p.LatencyStats, p.CreatedAt,
	)
	if err != nil {
		return model.BehaviorProfile{}, fmt.Errorf("storage: create profile: %w", err)
	}
	return p, nil
}

// GetProfile retrieves a profile by ID.
func (db *DB) GetProfile(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error) {
	var p model.BehaviorProfile
	err := db.pool.QueryRow(ctx,
		`SELECT profile_id, agent_id, agent_version, environment, window_start, window_end,
		        sample_size, decision_distributions, signal_distributions, latency_stats, created_at
		 FROM behavior_profiles WHERE profile_id = $1`, profileID,
	).Scan(
		&p.ProfileID, &p.AgentID, &p.AgentVersion, &p.Environment, &p.WindowStart, &p.WindowEnd,
		&p.SampleSize, &p.DecisionDistributions, &p.SignalDistributions, &p.LatencyStats, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BehaviorProfile{}, ErrNotFound
		}
		return model.BehaviorProfile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns profiles matching the filters, newest first, plus the
// total count before pagination.
func (db *DB) ListProfiles(ctx context.Context, f model.ProfileFilters, limit, offset int) ([]model.BehaviorProfile, int, error) {
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
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM behavior_profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count profiles: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT profile_id, agent_id, agent_version, environment, window_start, window_end,
		        sample_size, decision_distributions, signal_distributions, latency_stats, created_at
		 FROM behavior_profiles%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []model.BehaviorProfile
	for rows.Next() {
		var p model.BehaviorProfile
		if err := rows.Scan(
			&p.ProfileID, &p.AgentID, &p.AgentVersion, &p.Environment, &p.WindowStart, &p.WindowEnd,
			&p.SampleSize, &p.DecisionDistributions, &p.SignalDistributions, &p.LatencyStats, &p.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, total, rows.Err()
}

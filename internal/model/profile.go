package model

import (
	"time"

	"github.com/google/uuid"
)

// Distributions maps a tag (decision type or signal type) to the probability
// of each observed option. For every tag the inner values sum to 1.0 (within
// 1e-6) or the inner map is empty.
type Distributions map[string]map[string]float64

// LatencyStats is the latency portion of a behavior profile, computed over
// runs in the window that have both start and end timestamps. All durations
// are milliseconds rounded to 0.01.
type LatencyStats struct {
	MeanRunDurationMS float64 `json:"mean_run_duration_ms"`
	P50RunDurationMS  float64 `json:"p50_run_duration_ms"`
	P95RunDurationMS  float64 `json:"p95_run_duration_ms"`
	P99RunDurationMS  float64 `json:"p99_run_duration_ms"`
	SampleCount       int     `json:"sample_count"`
}

// BehaviorProfile is a statistical snapshot of agent behavior over a time
// window: normalized decision and signal distributions plus latency
// percentiles. Profiles are pure functions of the window and immutable once
// stored.
type BehaviorProfile struct {
	ProfileID             uuid.UUID     `json:"profile_id"`
	AgentID               string        `json:"agent_id"`
	AgentVersion          string        `json:"agent_version"`
	Environment           string        `json:"environment"`
	WindowStart           time.Time     `json:"window_start"`
	WindowEnd             time.Time     `json:"window_end"`
	SampleSize            int           `json:"sample_size"`
	DecisionDistributions Distributions `json:"decision_distributions"`
	SignalDistributions   Distributions `json:"signal_distributions"`
	LatencyStats          LatencyStats  `json:"latency_stats"`
	CreatedAt             time.Time     `json:"created_at"`
}

// BuildProfileRequest is the request body for POST /v1/drift/profiles.
// MinSampleSize of 0 means the configured default.
type BuildProfileRequest struct {
	AgentID       string    `json:"agent_id"`
	AgentVersion  string    `json:"agent_version"`
	Environment   string    `json:"environment,omitempty"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	MinSampleSize int       `json:"min_sample_size,omitempty"`
}

// Validate checks a profile build request.
func (r *BuildProfileRequest) Validate() error {
	if r.AgentID == "" {
		return NewError(ErrCodeSchemaInvalid, "agent_id is required")
	}
	if r.AgentVersion == "" {
		return NewError(ErrCodeSchemaInvalid, "agent_version is required")
	}
	if r.WindowStart.IsZero() || r.WindowEnd.IsZero() {
		return NewError(ErrCodeSchemaInvalid, "window_start and window_end are required")
	}
	if !r.WindowEnd.After(r.WindowStart) {
		return NewError(ErrCodeSchemaInvalid, "window_end must be after window_start")
	}
	if r.MinSampleSize < 0 {
		return NewError(ErrCodeSchemaInvalid, "min_sample_size must be non-negative")
	}
	return nil
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// DriftType names the dimension along which behavior changed.
type DriftType string

const (
	DriftTypeDecision DriftType = "decision"
	DriftTypeSignal   DriftType = "signal"
	DriftTypeLatency  DriftType = "latency"
)

// Severity is a magnitude band for a drift event. It describes how large the
// change is, never whether the change is good or bad.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Test method values recorded on drift events.
const (
	TestMethodChiSquare        = "chi_square"
	TestMethodPercentThreshold = "percent_threshold"
)

// BehaviorDrift is an append-only observation that a metric's observed value
// differs from its baseline value by a statistically and/or practically
// significant margin. Metric is "<tag>.<option>" for distribution drift and
// "mean_run_duration_ms" or "p95_run_duration_ms" for latency drift. Only
// resolved_at is ever updated.
type BehaviorDrift struct {
	DriftID                uuid.UUID  `json:"drift_id"`
	BaselineID             uuid.UUID  `json:"baseline_id"`
	AgentID                string     `json:"agent_id"`
	AgentVersion           string     `json:"agent_version"`
	Environment            string     `json:"environment"`
	DriftType              DriftType  `json:"drift_type"`
	Metric                 string     `json:"metric"`
	BaselineValue          float64    `json:"baseline_value"`
	ObservedValue          float64    `json:"observed_value"`
	Delta                  float64    `json:"delta"`
	DeltaPercent           float64    `json:"delta_percent"`
	Significance           float64    `json:"significance"`
	TestMethod             string     `json:"test_method"`
	Severity               Severity   `json:"severity"`
	DetectedAt             time.Time  `json:"detected_at"`
	ObservationWindowStart time.Time  `json:"observation_window_start"`
	ObservationWindowEnd   time.Time  `json:"observation_window_end"`
	ObservationSampleSize  int        `json:"observation_sample_size"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
}

// DetectDriftRequest is the request body for POST /v1/drift/detect.
// MinSampleSize of 0 means the configured default.
type DetectDriftRequest struct {
	BaselineID    uuid.UUID `json:"baseline_id"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	MinSampleSize int       `json:"min_sample_size,omitempty"`
}

// Validate checks a detect request.
func (r *DetectDriftRequest) Validate() error {
	if r.BaselineID == uuid.Nil {
		return NewError(ErrCodeSchemaInvalid, "baseline_id is required")
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

// DriftTimelinePoint is one chartable point in a drift timeline.
type DriftTimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	DriftID   uuid.UUID `json:"drift_id"`
	Severity  Severity  `json:"severity"`
}

// DriftTimeline is the response for GET /v1/drift/timeline. AgentVersion and
// Environment echo the filter or "all" when unfiltered.
type DriftTimeline struct {
	AgentID      string               `json:"agent_id"`
	AgentVersion string               `json:"agent_version"`
	Environment  string               `json:"environment"`
	Timeline     []DriftTimelinePoint `json:"timeline"`
}

// DriftSummary is the response for GET /v1/drift/summary.
type DriftSummary struct {
	TotalDriftEvents      int            `json:"total_drift_events"`
	UnresolvedDriftEvents int            `json:"unresolved_drift_events"`
	DriftBySeverity       map[string]int `json:"drift_by_severity"`
	DriftByType           map[string]int `json:"drift_by_type"`
	AgentsWithDrift       int            `json:"agents_with_drift"`
}

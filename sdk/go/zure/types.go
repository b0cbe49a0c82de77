package zure

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal outcome of an agent run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusPartial RunStatus = "partial"
)

// StepType categorizes a unit of work within a run.
type StepType string

const (
	StepTypePlan     StepType = "plan"
	StepTypeRetrieve StepType = "retrieve"
	StepTypeTool     StepType = "tool"
	StepTypeRespond  StepType = "respond"
	StepTypeOther    StepType = "other"
)

// FailureType classifies where in the stack a failure originated.
type FailureType string

const (
	FailureTypeTool          FailureType = "tool"
	FailureTypeModel         FailureType = "model"
	FailureTypeRetrieval     FailureType = "retrieval"
	FailureTypeOrchestration FailureType = "orchestration"
)

// IngestRunRequest is the payload for POST /v1/runs: one complete run with
// ordered steps, optional failure classification, and optional decision and
// quality-signal records. run_id is the idempotency key.
type IngestRunRequest struct {
	RunID        uuid.UUID       `json:"run_id"`
	AgentID      string          `json:"agent_id"`
	AgentVersion string          `json:"agent_version"`
	Environment  string          `json:"environment,omitempty"`
	Status       RunStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Steps        []StepInput     `json:"steps"`
	Failure      *FailureInput   `json:"failure,omitempty"`
	Decisions    []DecisionInput `json:"decisions,omitempty"`
	Signals      []SignalInput   `json:"quality_signals,omitempty"`
}

// StepInput is one step in an ingest payload.
type StepInput struct {
	StepID    uuid.UUID      `json:"step_id,omitempty"`
	Seq       int            `json:"seq"`
	StepType  StepType       `json:"step_type"`
	Name      string         `json:"name"`
	LatencyMS int64          `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FailureInput is the failure classification in an ingest payload.
type FailureInput struct {
	StepID      *uuid.UUID  `json:"step_id,omitempty"`
	FailureType FailureType `json:"failure_type"`
	FailureCode string      `json:"failure_code"`
	Message     string      `json:"message"`
}

// DecisionInput is one decision record in an ingest payload.
type DecisionInput struct {
	DecisionID   uuid.UUID      `json:"decision_id,omitempty"`
	StepID       *uuid.UUID     `json:"step_id,omitempty"`
	DecisionType string         `json:"decision_type"`
	Selected     string         `json:"selected"`
	ReasonCode   string         `json:"reason_code"`
	Candidates   []string       `json:"candidates,omitempty"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SignalInput is one quality-signal record in an ingest payload.
type SignalInput struct {
	SignalID   uuid.UUID      `json:"signal_id,omitempty"`
	StepID     *uuid.UUID     `json:"step_id,omitempty"`
	SignalType string         `json:"signal_type"`
	SignalCode string         `json:"signal_code"`
	Value      bool           `json:"value"`
	Weight     *float64       `json:"weight,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Run is a stored agent run as returned by the server.
type Run struct {
	RunID        uuid.UUID  `json:"run_id"`
	AgentID      string     `json:"agent_id"`
	AgentVersion string     `json:"agent_version"`
	Environment  string     `json:"environment"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Step is a stored run step.
type Step struct {
	StepID    uuid.UUID      `json:"step_id"`
	RunID     uuid.UUID      `json:"run_id"`
	Seq       int            `json:"seq"`
	StepType  StepType       `json:"step_type"`
	Name      string         `json:"name"`
	LatencyMS int64          `json:"latency_ms"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Metadata  map[string]any `json:"metadata"`
}

// Failure is a stored failure classification.
type Failure struct {
	FailureID   uuid.UUID   `json:"failure_id"`
	RunID       uuid.UUID   `json:"run_id"`
	StepID      *uuid.UUID  `json:"step_id,omitempty"`
	FailureType FailureType `json:"failure_type"`
	FailureCode string      `json:"failure_code"`
	Message     string      `json:"message"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Decision is a stored decision record.
type Decision struct {
	DecisionID   uuid.UUID      `json:"decision_id"`
	RunID        uuid.UUID      `json:"run_id"`
	StepID       *uuid.UUID     `json:"step_id,omitempty"`
	DecisionType string         `json:"decision_type"`
	Selected     string         `json:"selected"`
	ReasonCode   string         `json:"reason_code"`
	Confidence   *float64       `json:"confidence,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Signal is a stored quality-signal record.
type Signal struct {
	SignalID   uuid.UUID      `json:"signal_id"`
	RunID      uuid.UUID      `json:"run_id"`
	StepID     *uuid.UUID     `json:"step_id,omitempty"`
	SignalType string         `json:"signal_type"`
	SignalCode string         `json:"signal_code"`
	Value      bool           `json:"value"`
	Weight     *float64       `json:"weight,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RunWithChildren bundles a stored run with all of its child records.
type RunWithChildren struct {
	Run
	Steps     []Step     `json:"steps"`
	Failures  []Failure  `json:"failures"`
	Decisions []Decision `json:"decisions"`
	Signals   []Signal   `json:"quality_signals"`
}

// DriftEvent is one detected behavioral drift.
type DriftEvent struct {
	DriftID                uuid.UUID  `json:"drift_id"`
	BaselineID             uuid.UUID  `json:"baseline_id"`
	AgentID                string     `json:"agent_id"`
	AgentVersion           string     `json:"agent_version"`
	Environment            string     `json:"environment"`
	DriftType              string     `json:"drift_type"`
	Metric                 string     `json:"metric"`
	BaselineValue          float64    `json:"baseline_value"`
	ObservedValue          float64    `json:"observed_value"`
	Delta                  float64    `json:"delta"`
	DeltaPercent           float64    `json:"delta_percent"`
	Significance           float64    `json:"significance"`
	TestMethod             string     `json:"test_method"`
	Severity               string     `json:"severity"`
	DetectedAt             time.Time  `json:"detected_at"`
	ObservationWindowStart time.Time  `json:"observation_window_start"`
	ObservationWindowEnd   time.Time  `json:"observation_window_end"`
	ObservationSampleSize  int        `json:"observation_sample_size"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
}

// Baseline is a stored behavior baseline.
type Baseline struct {
	BaselineID   uuid.UUID  `json:"baseline_id"`
	ProfileID    uuid.UUID  `json:"profile_id"`
	AgentID      string     `json:"agent_id"`
	AgentVersion string     `json:"agent_version"`
	Environment  string     `json:"environment"`
	BaselineType string     `json:"baseline_type"`
	IsActive     bool       `json:"is_active"`
	ApprovedBy   *string    `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	Description  *string    `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DriftSummary aggregates drift activity over a trailing window.
type DriftSummary struct {
	TotalDriftEvents      int            `json:"total_drift_events"`
	UnresolvedDriftEvents int            `json:"unresolved_drift_events"`
	DriftBySeverity       map[string]int `json:"drift_by_severity"`
	DriftByType           map[string]int `json:"drift_by_type"`
	AgentsWithDrift       int            `json:"agents_with_drift"`
}

// StatsResponse reports aggregate run statistics.
type StatsResponse struct {
	TotalRuns         int            `json:"total_runs"`
	TotalFailures     int            `json:"total_failures"`
	SuccessRate       float64        `json:"success_rate"`
	AvgLatencyMS      float64        `json:"avg_latency_ms"`
	FailureBreakdown  map[string]int `json:"failure_breakdown"`
	StepTypeBreakdown map[string]int `json:"step_type_breakdown"`
}

// CatalogEntry describes one tag and its legal codes.
type CatalogEntry struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
}

// CatalogResponse is the closed vocabularies accepted at the ingest boundary.
type CatalogResponse struct {
	DecisionTypes []CatalogEntry `json:"decision_types"`
	SignalTypes   []CatalogEntry `json:"signal_types"`
}

// HealthResponse is the server's health status.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

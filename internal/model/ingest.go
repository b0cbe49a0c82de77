package model

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/zure/internal/catalog"
	"github.com/ashita-ai/zure/internal/privacy"
)

// Field length limits for ingest payloads. Oversized fields are rejected at
// the boundary rather than truncated.
const (
	MaxAgentIDLen      = 255
	MaxAgentVersionLen = 100
	MaxEnvironmentLen  = 50
	MaxStepNameLen     = 255
	MaxTagLen          = 100
	MaxSelectedLen     = 200
)

// DefaultEnvironment is applied when an ingest payload omits environment.
const DefaultEnvironment = "production"

// IngestRunRequest is the request body for POST /v1/runs: one complete run
// with ordered steps, optional failure classification, and optional decision
// and quality-signal records. run_id is the idempotency key.
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

// DecisionInput is one decision record in an ingest payload. Candidates, when
// present, are folded into the stored metadata under the "candidates" key.
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

// Normalize fills defaults and generates identifiers the client omitted.
// Call before Validate so generated IDs participate in persistence.
func (r *IngestRunRequest) Normalize() {
	if r.RunID == uuid.Nil {
		r.RunID = uuid.New()
	}
	if r.Environment == "" {
		r.Environment = DefaultEnvironment
	}
	for i := range r.Steps {
		if r.Steps[i].StepID == uuid.Nil {
			r.Steps[i].StepID = uuid.New()
		}
	}
	for i := range r.Decisions {
		if r.Decisions[i].DecisionID == uuid.Nil {
			r.Decisions[i].DecisionID = uuid.New()
		}
	}
	for i := range r.Signals {
		if r.Signals[i].SignalID == uuid.Nil {
			r.Signals[i].SignalID = uuid.New()
		}
	}
}

// Validate enforces the structural and privacy invariants on a complete
// ingest payload. It returns a *Error whose code distinguishes schema
// problems, privacy violations, and a missing failure classification.
func (r *IngestRunRequest) Validate() error {
	if r.AgentID == "" || len(r.AgentID) > MaxAgentIDLen {
		return NewError(ErrCodeSchemaInvalid, "agent_id must be 1-%d characters", MaxAgentIDLen)
	}
	if r.AgentVersion == "" || len(r.AgentVersion) > MaxAgentVersionLen {
		return NewError(ErrCodeSchemaInvalid, "agent_version must be 1-%d characters", MaxAgentVersionLen)
	}
	if len(r.Environment) > MaxEnvironmentLen {
		return NewError(ErrCodeSchemaInvalid, "environment must be at most %d characters", MaxEnvironmentLen)
	}
	if !r.Status.Valid() {
		return NewError(ErrCodeSchemaInvalid, "status %q is not one of success, failure, partial", r.Status)
	}
	if r.StartedAt.IsZero() {
		return NewError(ErrCodeSchemaInvalid, "started_at is required")
	}
	if r.EndedAt != nil && r.EndedAt.Before(r.StartedAt) {
		return NewError(ErrCodeSchemaInvalid, "ended_at must not precede started_at")
	}

	if err := r.validateSteps(); err != nil {
		return err
	}

	if r.Status == RunStatusFailure && r.Failure == nil {
		return NewError(ErrCodeMissingFailure, "failed runs must include a failure classification")
	}
	if r.Failure != nil {
		if err := r.Failure.validate(); err != nil {
			return err
		}
	}

	for i := range r.Decisions {
		if err := r.Decisions[i].validate(); err != nil {
			return err
		}
	}
	for i := range r.Signals {
		if err := r.Signals[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateSteps checks that seq values form exactly 0..N-1 (in any payload
// order) and that each step is individually well-formed.
func (r *IngestRunRequest) validateSteps() error {
	seqs := make([]int, len(r.Steps))
	for i, s := range r.Steps {
		seqs[i] = s.Seq

		if s.Seq < 0 {
			return NewError(ErrCodeSchemaInvalid, "step seq must be non-negative")
		}
		if !s.StepType.Valid() {
			return NewError(ErrCodeSchemaInvalid, "step_type %q is not recognized", s.StepType)
		}
		if s.Name == "" || len(s.Name) > MaxStepNameLen {
			return NewError(ErrCodeSchemaInvalid, "step name must be 1-%d characters", MaxStepNameLen)
		}
		if s.LatencyMS < 0 {
			return NewError(ErrCodeSchemaInvalid, "step latency_ms must be non-negative")
		}
		if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
			return NewError(ErrCodeSchemaInvalid, "step started_at and ended_at are required")
		}
		if s.EndedAt.Before(s.StartedAt) {
			return NewError(ErrCodeSchemaInvalid, "step ended_at must not precede started_at")
		}
		if err := privacy.CheckMetadata(s.Metadata); err != nil {
			return NewError(ErrCodePrivacyViolation, "step %d: %v", s.Seq, err)
		}
	}

	sort.Ints(seqs)
	for i, seq := range seqs {
		if seq != i {
			return NewError(ErrCodeSchemaInvalid, "step seq values must form 0..%d without gaps", len(seqs)-1)
		}
	}
	return nil
}

func (f *FailureInput) validate() error {
	if !f.FailureType.Valid() {
		return NewError(ErrCodeSchemaInvalid, "failure_type %q is not recognized", f.FailureType)
	}
	if f.FailureCode == "" || len(f.FailureCode) > MaxTagLen {
		return NewError(ErrCodeSchemaInvalid, "failure_code must be 1-%d characters", MaxTagLen)
	}
	if f.Message == "" {
		return NewError(ErrCodeSchemaInvalid, "failure message is required")
	}
	if err := privacy.CheckFailureMessage(f.Message); err != nil {
		return NewError(ErrCodePrivacyViolation, "%v", err)
	}
	return nil
}

func (d *DecisionInput) validate() error {
	if len(d.DecisionType) > MaxTagLen || len(d.ReasonCode) > MaxTagLen {
		return NewError(ErrCodeSchemaInvalid, "decision_type and reason_code must be at most %d characters", MaxTagLen)
	}
	if err := catalog.CheckDecision(d.DecisionType, d.ReasonCode); err != nil {
		return NewError(ErrCodeSchemaInvalid, "%v", err)
	}
	if d.Selected == "" || len(d.Selected) > MaxSelectedLen {
		return NewError(ErrCodeSchemaInvalid, "selected must be 1-%d characters", MaxSelectedLen)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return NewError(ErrCodeSchemaInvalid, "confidence must be between 0.0 and 1.0")
	}
	if err := privacy.CheckMetadata(d.Metadata); err != nil {
		return NewError(ErrCodePrivacyViolation, "decision %q: %v", d.DecisionType, err)
	}
	return nil
}

func (s *SignalInput) validate() error {
	if len(s.SignalType) > MaxTagLen || len(s.SignalCode) > MaxTagLen {
		return NewError(ErrCodeSchemaInvalid, "signal_type and signal_code must be at most %d characters", MaxTagLen)
	}
	if err := catalog.CheckSignal(s.SignalType, s.SignalCode); err != nil {
		return NewError(ErrCodeSchemaInvalid, "%v", err)
	}
	if s.Weight != nil && (*s.Weight < 0 || *s.Weight > 1) {
		return NewError(ErrCodeSchemaInvalid, "weight must be between 0.0 and 1.0")
	}
	if err := privacy.CheckMetadata(s.Metadata); err != nil {
		return NewError(ErrCodePrivacyViolation, "signal %q: %v", s.SignalType, err)
	}
	return nil
}

// Package model defines the core domain types for Zure.
//
// Types correspond directly to database tables and API payloads. Events
// (runs and their children) are written once by ingest and never mutated;
// children reference the parent run by identifier only.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the terminal outcome of an agent run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusPartial RunStatus = "partial"
)

// Valid reports whether s is a recognized run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusPartial:
		return true
	}
	return false
}

// StepType categorizes a unit of work within a run.
type StepType string

const (
	StepTypePlan     StepType = "plan"
	StepTypeRetrieve StepType = "retrieve"
	StepTypeTool     StepType = "tool"
	StepTypeRespond  StepType = "respond"
	StepTypeOther    StepType = "other"
)

// Valid reports whether t is a recognized step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypePlan, StepTypeRetrieve, StepTypeTool, StepTypeRespond, StepTypeOther:
		return true
	}
	return false
}

// FailureType classifies where in the stack a failure originated.
type FailureType string

const (
	FailureTypeTool          FailureType = "tool"
	FailureTypeModel         FailureType = "model"
	FailureTypeRetrieval     FailureType = "retrieval"
	FailureTypeOrchestration FailureType = "orchestration"
)

// Valid reports whether t is a recognized failure type.
func (t FailureType) Valid() bool {
	switch t {
	case FailureTypeTool, FailureTypeModel, FailureTypeRetrieval, FailureTypeOrchestration:
		return true
	}
	return false
}

// AgentRun is one end-to-end execution of an agent task.
// Owns its steps, failures, decisions, and quality signals; deleting a run
// cascades to all children.
type AgentRun struct {
	RunID        uuid.UUID  `json:"run_id"`
	AgentID      string     `json:"agent_id"`
	AgentVersion string     `json:"agent_version"`
	Environment  string     `json:"environment"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AgentStep is one unit of work within a run. Each retry is a distinct step.
// Within a run, seq values form 0..N-1 without gaps.
type AgentStep struct {
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

// AgentFailure is a structured failure classification for a run.
type AgentFailure struct {
	FailureID   uuid.UUID   `json:"failure_id"`
	RunID       uuid.UUID   `json:"run_id"`
	StepID      *uuid.UUID  `json:"step_id,omitempty"`
	FailureType FailureType `json:"failure_type"`
	FailureCode string      `json:"failure_code"`
	Message     string      `json:"message"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AgentDecision is a structured record of a choice the agent made, drawn
// from the closed decision catalog.
type AgentDecision struct {
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

// AgentQualitySignal is a boolean observation about run or step quality,
// drawn from the closed signal catalog.
type AgentQualitySignal struct {
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

// RunWithChildren bundles a stored run with all of its child records, as
// returned by the ingest and single-run query endpoints.
type RunWithChildren struct {
	AgentRun
	Steps     []AgentStep          `json:"steps"`
	Failures  []AgentFailure       `json:"failures"`
	Decisions []AgentDecision      `json:"decisions"`
	Signals   []AgentQualitySignal `json:"quality_signals"`
}

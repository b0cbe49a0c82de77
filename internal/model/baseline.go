package model

import (
	"time"

	"github.com/google/uuid"
)

// BaselineType records how a baseline was designated.
type BaselineType string

const (
	BaselineTypeVersion    BaselineType = "version"
	BaselineTypeTimeWindow BaselineType = "time_window"
	BaselineTypeManual     BaselineType = "manual"
)

// Valid reports whether t is a recognized baseline type.
func (t BaselineType) Valid() bool {
	switch t {
	case BaselineTypeVersion, BaselineTypeTimeWindow, BaselineTypeManual:
		return true
	}
	return false
}

// BehaviorBaseline designates a stored profile as the drift-comparison
// reference for its (agent_id, agent_version, environment) key. Immutable
// except is_active, approved_by, and approved_at; at most one baseline per
// key is active at a time.
type BehaviorBaseline struct {
	BaselineID   uuid.UUID    `json:"baseline_id"`
	ProfileID    uuid.UUID    `json:"profile_id"`
	AgentID      string       `json:"agent_id"`
	AgentVersion string       `json:"agent_version"`
	Environment  string       `json:"environment"`
	BaselineType BaselineType `json:"baseline_type"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	Description  *string      `json:"description,omitempty"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CreateBaselineRequest is the request body for POST /v1/drift/baselines.
// AgentID, AgentVersion, and Environment default to the referenced profile's
// key when omitted.
type CreateBaselineRequest struct {
	ProfileID    uuid.UUID    `json:"profile_id"`
	AgentID      string       `json:"agent_id,omitempty"`
	AgentVersion string       `json:"agent_version,omitempty"`
	Environment  string       `json:"environment,omitempty"`
	BaselineType BaselineType `json:"baseline_type"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	Description  *string      `json:"description,omitempty"`
	AutoActivate bool         `json:"auto_activate,omitempty"`
}

// ApproveBaselineRequest is the request body for
// POST /v1/drift/baselines/{id}/approve.
type ApproveBaselineRequest struct {
	ApprovedBy string `json:"approved_by"`
}

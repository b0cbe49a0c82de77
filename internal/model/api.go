package model

import (
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health. Status is "healthy" or
// "degraded"; Postgres reports the store ping result.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// StatsResponse is the response for GET /v1/stats. FailureBreakdown keys are
// "<failure_type>/<failure_code>"; StepTypeBreakdown keys are step types.
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

// CatalogResponse is the response for GET /v1/catalog: the closed
// vocabularies accepted at the ingest boundary.
type CatalogResponse struct {
	DecisionTypes []CatalogEntry `json:"decision_types"`
	SignalTypes   []CatalogEntry `json:"signal_types"`
}

// RunFilters are the query-surface filters over stored runs.
type RunFilters struct {
	AgentID      string
	AgentVersion string
	Environment  string
	Status       string
	StartTime    *time.Time
	EndTime      *time.Time
}

// DriftFilters are the query-surface filters over drift events.
type DriftFilters struct {
	AgentID      string
	AgentVersion string
	Environment  string
	DriftType    string
	Severity     string
	Resolved     *bool
	StartTime    *time.Time
	EndTime      *time.Time
}

// ProfileFilters are the query-surface filters over behavior profiles.
type ProfileFilters struct {
	AgentID      string
	AgentVersion string
	Environment  string
}

// BaselineFilters are the query-surface filters over baselines.
type BaselineFilters struct {
	AgentID      string
	AgentVersion string
	Environment  string
	BaselineType string
	IsActive     *bool
}

package zure

import (
	"fmt"
	"sort"
	"strings"
)

// Field length limits enforced at the server boundary. The SDK applies the
// same limits at capture time so bad payloads fail fast, before the network.
const (
	maxAgentIDLen      = 255
	maxAgentVersionLen = 100
	maxEnvironmentLen  = 50
	maxStepNameLen     = 255
	maxTagLen          = 100
	maxSelectedLen     = 200

	maxMetadataStringLen = 100
)

// forbiddenMetadataKeys are metadata keys that may carry model text. The
// platform records structured tags and counts only; matched
// case-insensitively against the whole key.
var forbiddenMetadataKeys = map[string]bool{
	"prompt":           true,
	"response":         true,
	"reasoning":        true,
	"thought":          true,
	"message":          true,
	"content":          true,
	"text":             true,
	"output":           true,
	"input":            true,
	"chain_of_thought": true,
	"explanation":      true,
	"rationale":        true,
}

// credentialSubstrings are matched case-insensitively anywhere inside
// failure messages.
var credentialSubstrings = []string{"password", "api_key", "token", "secret"}

// reasonCodes maps each decision type to its legal reason codes. This is the
// client-side copy of the server catalog; GET /v1/catalog returns the
// authoritative version.
var reasonCodes = map[string]map[string]bool{
	"tool_selection": {
		"fresh_data_required":    true,
		"cached_data_sufficient": true,
		"tool_unavailable":       true,
		"cost_optimization":      true,
		"latency_optimization":   true,
		"accuracy_required":      true,
	},
	"retrieval_strategy": {
		"semantic_search_preferred": true,
		"keyword_match_sufficient":  true,
		"hybrid_approach_needed":    true,
		"filter_applied":            true,
		"rerank_required":           true,
	},
	"response_mode": {
		"streaming_requested": true,
		"batch_preferred":     true,
		"format_constraint":   true,
		"length_constraint":   true,
	},
	"retry_strategy": {
		"transient_error_detected": true,
		"rate_limit_encountered":   true,
		"no_retry_terminal_error":  true,
		"retry_budget_exhausted":   true,
		"backoff_required":         true,
	},
	"orchestration_path": {
		"sequential_required": true,
		"parallel_preferred":  true,
		"conditional_branch":  true,
		"early_exit":          true,
		"fallback_path":       true,
	},
}

// signalCodes maps each quality-signal type to its legal signal codes.
var signalCodes = map[string]map[string]bool{
	"schema_valid": {
		"full_match":        true,
		"partial_match":     true,
		"validation_failed": true,
		"no_schema_defined": true,
	},
	"empty_retrieval": {
		"no_results":   true,
		"filtered_out": true,
		"index_empty":  true,
	},
	"tool_success": {
		"first_attempt": true,
		"after_retry":   true,
		"fallback_used": true,
	},
	"tool_failure": {
		"timeout":               true,
		"invalid_input":         true,
		"unavailable":           true,
		"rate_limited":          true,
		"authentication_failed": true,
	},
	"retry_occurred": {
		"single_retry":        true,
		"multiple_retries":    true,
		"max_retries_reached": true,
	},
	"latency_threshold": {
		"under_threshold":        true,
		"exceeded_threshold":     true,
		"significantly_exceeded": true,
	},
	"token_usage": {
		"low_usage":        true,
		"moderate_usage":   true,
		"high_usage":       true,
		"limit_approached": true,
	},
}

// checkMetadata validates a metadata map against the privacy rules:
// no forbidden keys, primitive scalar values only, string values at most
// maxMetadataStringLen characters. The offending value is never echoed back.
func checkMetadata(meta map[string]any) error {
	for key, value := range meta {
		if forbiddenMetadataKeys[strings.ToLower(key)] {
			return fmt.Errorf("metadata key %q may contain sensitive data and is not allowed", key)
		}
		switch v := value.(type) {
		case nil, bool, int, int32, int64, float32, float64:
		case string:
			if len(v) > maxMetadataStringLen {
				return fmt.Errorf("metadata value for %q exceeds %d characters", key, maxMetadataStringLen)
			}
		default:
			return fmt.Errorf("metadata value for %q must be a primitive scalar", key)
		}
	}
	return nil
}

func checkFailureMessage(msg string) error {
	lower := strings.ToLower(msg)
	for _, sub := range credentialSubstrings {
		if strings.Contains(lower, sub) {
			return fmt.Errorf("failure message contains forbidden keyword %q", sub)
		}
	}
	return nil
}

func checkDecisionTag(decisionType, reasonCode string) error {
	codes, ok := reasonCodes[decisionType]
	if !ok {
		return fmt.Errorf("unknown decision_type %q", decisionType)
	}
	if !codes[reasonCode] {
		return fmt.Errorf("reason_code %q is not valid for decision_type %q", reasonCode, decisionType)
	}
	return nil
}

func checkSignalTag(signalType, signalCode string) error {
	codes, ok := signalCodes[signalType]
	if !ok {
		return fmt.Errorf("unknown signal_type %q", signalType)
	}
	if !codes[signalCode] {
		return fmt.Errorf("signal_code %q is not valid for signal_type %q", signalCode, signalType)
	}
	return nil
}

func validStatus(s RunStatus) bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusPartial:
		return true
	}
	return false
}

func validStepType(t StepType) bool {
	switch t {
	case StepTypePlan, StepTypeRetrieve, StepTypeTool, StepTypeRespond, StepTypeOther:
		return true
	}
	return false
}

func validFailureType(t FailureType) bool {
	switch t {
	case FailureTypeTool, FailureTypeModel, FailureTypeRetrieval, FailureTypeOrchestration:
		return true
	}
	return false
}

// Validate enforces the structural and privacy invariants on a complete
// ingest payload, mirroring the server boundary so a payload that passes
// here is accepted remotely (idempotent duplicates aside).
func (r *IngestRunRequest) Validate() error {
	if r.AgentID == "" || len(r.AgentID) > maxAgentIDLen {
		return fmt.Errorf("zure: agent_id must be 1-%d characters", maxAgentIDLen)
	}
	if r.AgentVersion == "" || len(r.AgentVersion) > maxAgentVersionLen {
		return fmt.Errorf("zure: agent_version must be 1-%d characters", maxAgentVersionLen)
	}
	if len(r.Environment) > maxEnvironmentLen {
		return fmt.Errorf("zure: environment must be at most %d characters", maxEnvironmentLen)
	}
	if !validStatus(r.Status) {
		return fmt.Errorf("zure: status %q is not one of success, failure, partial", r.Status)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("zure: started_at is required")
	}
	if r.EndedAt != nil && r.EndedAt.Before(r.StartedAt) {
		return fmt.Errorf("zure: ended_at must not precede started_at")
	}

	if err := r.validateSteps(); err != nil {
		return err
	}

	if r.Status == RunStatusFailure && r.Failure == nil {
		return fmt.Errorf("zure: failed runs must include a failure classification")
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

func (r *IngestRunRequest) validateSteps() error {
	seqs := make([]int, len(r.Steps))
	for i, s := range r.Steps {
		seqs[i] = s.Seq

		if s.Seq < 0 {
			return fmt.Errorf("zure: step seq must be non-negative")
		}
		if !validStepType(s.StepType) {
			return fmt.Errorf("zure: step_type %q is not recognized", s.StepType)
		}
		if s.Name == "" || len(s.Name) > maxStepNameLen {
			return fmt.Errorf("zure: step name must be 1-%d characters", maxStepNameLen)
		}
		if s.LatencyMS < 0 {
			return fmt.Errorf("zure: step latency_ms must be non-negative")
		}
		if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
			return fmt.Errorf("zure: step started_at and ended_at are required")
		}
		if s.EndedAt.Before(s.StartedAt) {
			return fmt.Errorf("zure: step ended_at must not precede started_at")
		}
		if err := checkMetadata(s.Metadata); err != nil {
			return fmt.Errorf("zure: step %d: %w", s.Seq, err)
		}
	}

	sort.Ints(seqs)
	for i, seq := range seqs {
		if seq != i {
			return fmt.Errorf("zure: step seq values must form 0..%d without gaps", len(seqs)-1)
		}
	}
	return nil
}

func (f *FailureInput) validate() error {
	if !validFailureType(f.FailureType) {
		return fmt.Errorf("zure: failure_type %q is not recognized", f.FailureType)
	}
	if f.FailureCode == "" || len(f.FailureCode) > maxTagLen {
		return fmt.Errorf("zure: failure_code must be 1-%d characters", maxTagLen)
	}
	if f.Message == "" {
		return fmt.Errorf("zure: failure message is required")
	}
	if err := checkFailureMessage(f.Message); err != nil {
		return fmt.Errorf("zure: %w", err)
	}
	return nil
}

func (d *DecisionInput) validate() error {
	if len(d.DecisionType) > maxTagLen || len(d.ReasonCode) > maxTagLen {
		return fmt.Errorf("zure: decision_type and reason_code must be at most %d characters", maxTagLen)
	}
	if err := checkDecisionTag(d.DecisionType, d.ReasonCode); err != nil {
		return fmt.Errorf("zure: %w", err)
	}
	if d.Selected == "" || len(d.Selected) > maxSelectedLen {
		return fmt.Errorf("zure: selected must be 1-%d characters", maxSelectedLen)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("zure: confidence must be between 0.0 and 1.0")
	}
	if err := checkMetadata(d.Metadata); err != nil {
		return fmt.Errorf("zure: decision %q: %w", d.DecisionType, err)
	}
	return nil
}

func (s *SignalInput) validate() error {
	if len(s.SignalType) > maxTagLen || len(s.SignalCode) > maxTagLen {
		return fmt.Errorf("zure: signal_type and signal_code must be at most %d characters", maxTagLen)
	}
	if err := checkSignalTag(s.SignalType, s.SignalCode); err != nil {
		return fmt.Errorf("zure: %w", err)
	}
	if s.Weight != nil && (*s.Weight < 0 || *s.Weight > 1) {
		return fmt.Errorf("zure: weight must be between 0.0 and 1.0")
	}
	if err := checkMetadata(s.Metadata); err != nil {
		return fmt.Errorf("zure: signal %q: %w", s.SignalType, err)
	}
	return nil
}

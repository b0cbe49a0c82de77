// Package catalog defines the closed vocabularies for agent decisions and
// quality signals. Tags outside these sets are rejected at the ingest
// boundary; the aggregation pipeline assumes every stored tag is recognized.
package catalog

import (
	"fmt"
	"sort"
)

// reasonCodes maps each decision type to its legal reason codes.
var reasonCodes = map[string]map[string]bool{
	"tool_selection": {
		"fresh_data_required":     true,
		"cached_data_sufficient":  true,
		"tool_unavailable":        true,
		"cost_optimization":       true,
		"latency_optimization":    true,
		"accuracy_required":       true,
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

// CheckDecision validates a (decision_type, reason_code) pair against the
// catalog. Unknown tags are rejected, never silently grouped.
func CheckDecision(decisionType, reasonCode string) error {
	codes, ok := reasonCodes[decisionType]
	if !ok {
		return fmt.Errorf("unknown decision_type %q", decisionType)
	}
	if !codes[reasonCode] {
		return fmt.Errorf("reason_code %q is not valid for decision_type %q", reasonCode, decisionType)
	}
	return nil
}

// CheckSignal validates a (signal_type, signal_code) pair against the catalog.
func CheckSignal(signalType, signalCode string) error {
	codes, ok := signalCodes[signalType]
	if !ok {
		return fmt.Errorf("unknown signal_type %q", signalType)
	}
	if !codes[signalCode] {
		return fmt.Errorf("signal_code %q is not valid for signal_type %q", signalCode, signalType)
	}
	return nil
}

// DecisionTypes returns the recognized decision types in sorted order.
func DecisionTypes() []string {
	return sortedKeys(reasonCodes)
}

// SignalTypes returns the recognized signal types in sorted order.
func SignalTypes() []string {
	return sortedKeys(signalCodes)
}

// ReasonCodes returns the legal reason codes for a decision type in sorted
// order, or nil for an unknown type.
func ReasonCodes(decisionType string) []string {
	codes, ok := reasonCodes[decisionType]
	if !ok {
		return nil
	}
	return sortedSet(codes)
}

// SignalCodes returns the legal signal codes for a signal type in sorted
// order, or nil for an unknown type.
func SignalCodes(signalType string) []string {
	codes, ok := signalCodes[signalType]
	if !ok {
		return nil
	}
	return sortedSet(codes)
}

func sortedKeys(m map[string]map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]bool) []string {
	vals := make([]string, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Strings(vals)
	return vals
}

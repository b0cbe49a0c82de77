// Package privacy enforces the content rules that keep prompt/response text
// and credentials out of the store. The platform records structured tags and
// counts only; anything that could carry free-form model text or secrets is
// rejected at the boundary.
package privacy

import (
	"fmt"
	"strings"
)

// MaxMetadataStringLen caps string values inside metadata maps.
const MaxMetadataStringLen = 100

// MaxDescriptionLen caps baseline descriptions.
const MaxDescriptionLen = 200

// forbiddenKeys are metadata keys that may carry model text. Matched
// case-insensitively against the whole key.
var forbiddenKeys = map[string]bool{
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

// CheckMetadata validates a metadata map against the privacy rules:
// no forbidden keys, primitive scalar values only, string values at most
// MaxMetadataStringLen characters. The offending value is never echoed back.
func CheckMetadata(meta map[string]any) error {
	for key, value := range meta {
		if forbiddenKeys[strings.ToLower(key)] {
			return fmt.Errorf("metadata key %q may contain sensitive data and is not allowed", key)
		}
		switch v := value.(type) {
		case nil, bool, int, int32, int64, float32, float64:
			// Primitive scalars are fine. JSON decoding yields float64 for
			// all numbers; the integer cases cover values built in-process.
		case string:
			if len(v) > MaxMetadataStringLen {
				return fmt.Errorf("metadata value for %q exceeds %d characters", key, MaxMetadataStringLen)
			}
		default:
			return fmt.Errorf("metadata value for %q must be a primitive scalar", key)
		}
	}
	return nil
}

// CheckFailureMessage rejects failure messages that contain credential
// keywords anywhere in the string.
func CheckFailureMessage(msg string) error {
	lower := strings.ToLower(msg)
	for _, sub := range credentialSubstrings {
		if strings.Contains(lower, sub) {
			return fmt.Errorf("failure message contains forbidden keyword %q", sub)
		}
	}
	return nil
}

// CheckDescription validates a baseline description: it must not contain any
// forbidden content keyword as a substring and must not exceed
// MaxDescriptionLen characters.
func CheckDescription(desc string) error {
	lower := strings.ToLower(desc)
	for key := range forbiddenKeys {
		if strings.Contains(lower, key) {
			return fmt.Errorf("description contains forbidden keyword %q", key)
		}
	}
	if len(desc) > MaxDescriptionLen {
		return fmt.Errorf("description too long (max %d characters)", MaxDescriptionLen)
	}
	return nil
}

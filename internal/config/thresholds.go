package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DriftGate is the significance gate for one drift kind: a p-value ceiling
// and a minimum absolute delta percent. A PValue of 1.0 means the kind runs
// no statistical test and only the magnitude gate applies.
type DriftGate struct {
	PValue          float64 `yaml:"p_value"`
	MinDeltaPercent float64 `yaml:"min_delta_percent"`
}

// SeverityBands holds the |delta percent| edges between severity levels:
// at most Low is "low", at most Medium is "medium", above Medium is "high".
type SeverityBands struct {
	Low    float64 `yaml:"low"`
	Medium float64 `yaml:"medium"`
}

// Thresholds is the drift-detection threshold document. It is loaded once at
// engine construction and treated as immutable afterwards.
type Thresholds struct {
	Decision DriftGate     `yaml:"decision"`
	Signal   DriftGate     `yaml:"signal"`
	Latency  DriftGate     `yaml:"latency"`
	Severity SeverityBands `yaml:"severity"`
}

// DefaultThresholds returns the built-in thresholds used when no override
// file is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Decision: DriftGate{PValue: 0.05, MinDeltaPercent: 10},
		Signal:   DriftGate{PValue: 0.05, MinDeltaPercent: 15},
		Latency:  DriftGate{PValue: 1.0, MinDeltaPercent: 20},
		Severity: SeverityBands{Low: 15, Medium: 30},
	}
}

// LoadThresholds reads the YAML threshold file at path and merges it over
// the defaults, so a partial document overrides only the values it names.
// An empty path returns the defaults unchanged.
func LoadThresholds(path string) (Thresholds, error) {
	defaults := DefaultThresholds()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, fmt.Errorf("config: read thresholds file: %w", err)
	}

	var loaded Thresholds
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Thresholds{}, fmt.Errorf("config: parse thresholds file: %w", err)
	}
	if err := mergo.Merge(&loaded, defaults); err != nil {
		return Thresholds{}, fmt.Errorf("config: merge threshold defaults: %w", err)
	}

	if err := loaded.validate(); err != nil {
		return Thresholds{}, err
	}
	return loaded, nil
}

func (t Thresholds) validate() error {
	for kind, gate := range map[string]DriftGate{"decision": t.Decision, "signal": t.Signal, "latency": t.Latency} {
		if gate.PValue <= 0 || gate.PValue > 1 {
			return fmt.Errorf("config: %s p_value must be in (0, 1]", kind)
		}
		if gate.MinDeltaPercent < 0 {
			return fmt.Errorf("config: %s min_delta_percent must not be negative", kind)
		}
	}
	if t.Severity.Low <= 0 || t.Severity.Medium <= t.Severity.Low {
		return fmt.Errorf("config: severity bands must satisfy 0 < low < medium")
	}
	return nil
}

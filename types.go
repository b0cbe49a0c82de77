package zure

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Alert is one formatted drift notification handed to a custom AlertSink.
// The text fields follow the neutral language contract: they report observed
// change and significance without judging it.
type Alert struct {
	DriftID       uuid.UUID
	AgentID       string
	AgentVersion  string
	Environment   string
	DriftType     string
	Metric        string
	BaselineValue float64
	ObservedValue float64
	Delta         float64
	DeltaPercent  float64
	Significance  float64
	Severity      string
	DetectedAt    time.Time

	// Summary is a one-line form for sinks with constrained titles;
	// Text is the full alert body.
	Summary string
	Text    string
}

// AlertSink receives drift alerts alongside the built-in Slack, PagerDuty,
// and webhook sinks. Deliver is called once per drift event with a per-call
// timeout; errors are logged, never retried.
type AlertSink interface {
	Name() string
	Deliver(ctx context.Context, alert Alert) error
}

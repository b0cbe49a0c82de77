// Package alert translates drift events into neutral, observational
// notifications and delivers them to configured sinks.
//
// Language contract: messages say "observed increase", "observed decrease",
// or "no change" and report values, magnitudes, and statistical significance.
// They never judge the change (no better/worse, no regression language) —
// whether a drift is a problem is the operator's call. One structured log
// entry is always written per event; sink delivery is best-effort with a
// per-sink timeout, and failures are logged, never surfaced.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/zure/internal/model"
)

// DefaultDeliveryTimeout bounds each sink's delivery of one event.
const DefaultDeliveryTimeout = 10 * time.Second

// Sink delivers one formatted drift alert to an external system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Message is a formatted drift alert handed to sinks.
type Message struct {
	Drift model.BehaviorDrift
	// Text is the full neutral-language alert body.
	Text string
	// Summary is a one-line form for sinks with constrained titles.
	Summary string
}

// Emitter fans drift events out to its sinks.
type Emitter struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an Emitter. A zero timeout selects DefaultDeliveryTimeout.
// An emitter with no sinks still logs every event.
func New(sinks []Sink, timeout time.Duration, logger *slog.Logger) *Emitter {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Emitter{sinks: sinks, timeout: timeout, logger: logger}
}

// Notify logs and delivers every event. Sinks run concurrently per event;
// each gets its own timeout, and one sink's failure never blocks another.
// Notify returns when all deliveries have finished or timed out.
func (e *Emitter) Notify(ctx context.Context, events []model.BehaviorDrift) {
	for _, d := range events {
		msg := Format(d)

		e.logger.Info("behavioral drift detected",
			"drift_id", d.DriftID,
			"agent_id", d.AgentID,
			"agent_version", d.AgentVersion,
			"environment", d.Environment,
			"drift_type", d.DriftType,
			"metric", d.Metric,
			"baseline_value", d.BaselineValue,
			"observed_value", d.ObservedValue,
			"delta_percent", d.DeltaPercent,
			"significance", d.Significance,
			"severity", d.Severity,
		)

		g, gctx := errgroup.WithContext(ctx)
		for _, sink := range e.sinks {
			g.Go(func() error {
				sctx, cancel := context.WithTimeout(gctx, e.timeout)
				defer cancel()
				if err := sink.Deliver(sctx, msg); err != nil {
					e.logger.Warn("alert delivery failed",
						"sink", sink.Name(),
						"drift_id", d.DriftID,
						"code", model.ErrCodeTransportFailure,
						"error", err,
					)
				}
				// Failures stay inside the sink; never cancel siblings.
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Format renders one drift event as a neutral observational message.
func Format(d model.BehaviorDrift) Message {
	verb := "no change"
	switch {
	case d.Delta > 0:
		verb = "observed increase"
	case d.Delta < 0:
		verb = "observed decrease"
	}

	baselineVal, observedVal := formatValue(d, d.BaselineValue), formatValue(d, d.ObservedValue)

	summary := fmt.Sprintf("Behavioral drift detected: %s v%s - %s", d.AgentID, d.AgentVersion, d.Metric)
	text := fmt.Sprintf(
		"Behavioral drift detected\n\n"+
			"Agent: %s v%s (%s)\n"+
			"Metric: %s\n"+
			"Change: %s from %s to %s (%+.1f%%)\n"+
			"Severity: %s\n\n"+
			"Baseline: %s\n"+
			"Statistical significance: p=%.4f\n"+
			"Test method: %s\n"+
			"Detected: %s\n\n"+
			"Observation window: %s to %s (%d runs)\n",
		d.AgentID, d.AgentVersion, d.Environment,
		d.Metric,
		verb, baselineVal, observedVal, d.DeltaPercent,
		d.Severity,
		d.BaselineID,
		d.Significance,
		d.TestMethod,
		d.DetectedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		d.ObservationWindowStart.UTC().Format("2006-01-02 15:04"),
		d.ObservationWindowEnd.UTC().Format("2006-01-02 15:04"),
		d.ObservationSampleSize,
	)

	return Message{Drift: d, Text: text, Summary: summary}
}

// formatValue renders distribution values as percentages and latency values
// as milliseconds.
func formatValue(d model.BehaviorDrift, v float64) string {
	if d.DriftType == model.DriftTypeLatency {
		return fmt.Sprintf("%.2fms", v)
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ashita-ai/zure/internal/model"
)

// pagerDutyEventsURL is the PagerDuty Events API v2 enqueue endpoint.
const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// pdSeverity maps drift severity bands to PagerDuty event severities.
var pdSeverity = map[model.Severity]string{
	model.SeverityLow:    "info",
	model.SeverityMedium: "warning",
	model.SeverityHigh:   "error",
}

// PagerDutySink triggers PagerDuty events for drift alerts via Events API v2.
type PagerDutySink struct {
	routingKey string
	endpoint   string
	client     *http.Client
}

// NewPagerDutySink creates a PagerDuty sink. client may be nil for
// http.DefaultClient; request deadlines come from the emitter's per-sink
// context.
func NewPagerDutySink(routingKey string, client *http.Client) *PagerDutySink {
	if client == nil {
		client = http.DefaultClient
	}
	return &PagerDutySink{routingKey: routingKey, endpoint: pagerDutyEventsURL, client: client}
}

// NewPagerDutySinkWithEndpoint targets a custom endpoint, for tests.
func NewPagerDutySinkWithEndpoint(routingKey, endpoint string, client *http.Client) *PagerDutySink {
	s := NewPagerDutySink(routingKey, client)
	s.endpoint = endpoint
	return s
}

func (s *PagerDutySink) Name() string { return "pagerduty" }

// Deliver enqueues one trigger event.
func (s *PagerDutySink) Deliver(ctx context.Context, msg Message) error {
	d := msg.Drift

	sev, ok := pdSeverity[d.Severity]
	if !ok {
		sev = "info"
	}
	event := map[string]any{
		"routing_key":  s.routingKey,
		"event_action": "trigger",
		"dedup_key":    d.DriftID.String(),
		"payload": map[string]any{
			"summary":  msg.Summary,
			"severity": sev,
			"source":   "zure",
			"custom_details": map[string]any{
				"agent_id":       d.AgentID,
				"agent_version":  d.AgentVersion,
				"environment":    d.Environment,
				"metric":         d.Metric,
				"baseline_value": d.BaselineValue,
				"observed_value": d.ObservedValue,
				"delta_percent":  d.DeltaPercent,
				"significance":   d.Significance,
				"baseline_id":    d.BaselineID.String(),
				"drift_id":       d.DriftID.String(),
			},
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("enqueue event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

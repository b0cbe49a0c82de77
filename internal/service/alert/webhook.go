package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSink POSTs drift alerts as JSON to an arbitrary endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a generic webhook sink. client may be nil for
// http.DefaultClient.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client}
}

func (s *WebhookSink) Name() string { return "webhook" }

// webhookPayload is the wire shape posted to generic webhook consumers.
type webhookPayload struct {
	EventType              string    `json:"event_type"`
	DriftID                string    `json:"drift_id"`
	AgentID                string    `json:"agent_id"`
	AgentVersion           string    `json:"agent_version"`
	Environment            string    `json:"environment"`
	DriftType              string    `json:"drift_type"`
	Metric                 string    `json:"metric"`
	BaselineValue          float64   `json:"baseline_value"`
	ObservedValue          float64   `json:"observed_value"`
	Delta                  float64   `json:"delta"`
	DeltaPercent           float64   `json:"delta_percent"`
	Significance           float64   `json:"significance"`
	TestMethod             string    `json:"test_method"`
	Severity               string    `json:"severity"`
	BaselineID             string    `json:"baseline_id"`
	DetectedAt             time.Time `json:"detected_at"`
	ObservationWindowStart time.Time `json:"observation_window_start"`
	ObservationWindowEnd   time.Time `json:"observation_window_end"`
	ObservationSampleSize  int       `json:"observation_sample_size"`
	Message                string    `json:"message"`
}

// Deliver posts one alert.
func (s *WebhookSink) Deliver(ctx context.Context, msg Message) error {
	d := msg.Drift
	payload := webhookPayload{
		EventType:              "behavioral_drift",
		DriftID:                d.DriftID.String(),
		AgentID:                d.AgentID,
		AgentVersion:           d.AgentVersion,
		Environment:            d.Environment,
		DriftType:              string(d.DriftType),
		Metric:                 d.Metric,
		BaselineValue:          d.BaselineValue,
		ObservedValue:          d.ObservedValue,
		Delta:                  d.Delta,
		DeltaPercent:           d.DeltaPercent,
		Significance:           d.Significance,
		TestMethod:             d.TestMethod,
		Severity:               string(d.Severity),
		BaselineID:             d.BaselineID.String(),
		DetectedAt:             d.DetectedAt,
		ObservationWindowStart: d.ObservationWindowStart,
		ObservationWindowEnd:   d.ObservationWindowEnd,
		ObservationSampleSize:  d.ObservationSampleSize,
		Message:                msg.Text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alert: unexpected status %d", resp.StatusCode)
	}
	return nil
}

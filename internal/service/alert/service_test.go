package alert

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/zure/internal/model"
)

func sampleDrift() model.BehaviorDrift {
	start := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	return model.BehaviorDrift{
		DriftID:                uuid.New(),
		BaselineID:             uuid.New(),
		AgentID:                "support-agent",
		AgentVersion:           "2.1.0",
		Environment:            "production",
		DriftType:              model.DriftTypeDecision,
		Metric:                 "tool_selection.api",
		BaselineValue:          0.65,
		ObservedValue:          0.40,
		Delta:                  -0.25,
		DeltaPercent:           -38.46,
		Significance:           0.0012,
		TestMethod:             model.TestMethodChiSquare,
		Severity:               model.SeverityHigh,
		DetectedAt:             start.Add(25 * time.Hour),
		ObservationWindowStart: start,
		ObservationWindowEnd:   start.Add(24 * time.Hour),
		ObservationSampleSize:  100,
	}
}

func TestFormatNeutralLanguage(t *testing.T) {
	t.Parallel()

	msg := Format(sampleDrift())

	assert.Contains(t, msg.Text, "observed decrease")
	assert.Contains(t, msg.Text, "from 65.00% to 40.00%")
	assert.Contains(t, msg.Text, "(-38.5%)")
	assert.Contains(t, msg.Text, "Statistical significance: p=0.0012")
	assert.Contains(t, msg.Text, "(100 runs)")
	assert.Contains(t, msg.Summary, "support-agent v2.1.0 - tool_selection.api")

	// The vocabulary contract: observational, never judgmental.
	lower := strings.ToLower(msg.Text)
	for _, forbidden := range []string{"better", "worse", "correct", "incorrect", "regression", "degraded"} {
		assert.NotContains(t, lower, forbidden)
	}
}

func TestFormatDirectionAndUnits(t *testing.T) {
	t.Parallel()

	up := sampleDrift()
	up.Delta = 0.25
	assert.Contains(t, Format(up).Text, "observed increase")

	flat := sampleDrift()
	flat.Delta = 0
	assert.Contains(t, Format(flat).Text, "no change")

	latency := sampleDrift()
	latency.DriftType = model.DriftTypeLatency
	latency.Metric = "p95_run_duration_ms"
	latency.BaselineValue = 2000
	latency.ObservedValue = 3500
	latency.Delta = 1500
	latency.DeltaPercent = 75
	assert.Contains(t, Format(latency).Text, "from 2000.00ms to 3500.00ms")
}

// recordingSink captures deliveries; failingSink always errors.
type recordingSink struct {
	name     string
	messages []Message
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Deliver(_ context.Context, msg Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }

func (failingSink) Deliver(context.Context, Message) error {
	return errors.New("connection refused")
}

func TestNotifyDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	emitter := New([]Sink{a, b}, time.Second, slog.Default())

	emitter.Notify(context.Background(), []model.BehaviorDrift{sampleDrift(), sampleDrift()})

	assert.Len(t, a.messages, 2)
	assert.Len(t, b.messages, 2)
}

func TestNotifySinkFailureIsIsolated(t *testing.T) {
	t.Parallel()

	ok := &recordingSink{name: "ok"}
	emitter := New([]Sink{failingSink{}, ok}, time.Second, slog.Default())

	// Must not panic or error; the healthy sink still receives the event.
	emitter.Notify(context.Background(), []model.BehaviorDrift{sampleDrift()})
	assert.Len(t, ok.messages, 1)
}

func TestNotifyWithoutSinks(t *testing.T) {
	t.Parallel()

	emitter := New(nil, 0, slog.Default())
	emitter.Notify(context.Background(), []model.BehaviorDrift{sampleDrift()})
}

func TestWebhookSinkPosts(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := sampleDrift()
	sink := NewWebhookSink(srv.URL, srv.Client())
	require.NoError(t, sink.Deliver(context.Background(), Format(d)))

	assert.Equal(t, "behavioral_drift", got.EventType)
	assert.Equal(t, d.DriftID.String(), got.DriftID)
	assert.Equal(t, "tool_selection.api", got.Metric)
	assert.Equal(t, "high", got.Severity)
}

func TestWebhookSinkStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, srv.Client())
	err := sink.Deliver(context.Background(), Format(sampleDrift()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPagerDutySinkSeverityMapping(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := sampleDrift()
	d.Severity = model.SeverityMedium
	sink := NewPagerDutySinkWithEndpoint("rk-test", srv.URL, srv.Client())
	require.NoError(t, sink.Deliver(context.Background(), Format(d)))

	assert.Equal(t, "rk-test", got["routing_key"])
	assert.Equal(t, "trigger", got["event_action"])
	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "warning", payload["severity"])
}

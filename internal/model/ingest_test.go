package model

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIngestRequest() IngestRunRequest {
	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ended := started.Add(4 * time.Second)
	return IngestRunRequest{
		RunID:        uuid.New(),
		AgentID:      "support-agent",
		AgentVersion: "2.1.0",
		Environment:  "production",
		Status:       RunStatusSuccess,
		StartedAt:    started,
		EndedAt:      &ended,
		Steps: []StepInput{
			{Seq: 0, StepType: StepTypePlan, Name: "plan", LatencyMS: 120, StartedAt: started, EndedAt: started.Add(time.Second)},
			{Seq: 1, StepType: StepTypeTool, Name: "search", LatencyMS: 800, StartedAt: started.Add(time.Second), EndedAt: started.Add(2 * time.Second)},
			{Seq: 2, StepType: StepTypeRespond, Name: "respond", LatencyMS: 500, StartedAt: started.Add(2 * time.Second), EndedAt: ended},
		},
		Decisions: []DecisionInput{
			{DecisionType: "tool_selection", Selected: "api", ReasonCode: "fresh_data_required"},
		},
		Signals: []SignalInput{
			{SignalType: "tool_success", SignalCode: "first_attempt", Value: true},
		},
	}
}

func TestIngestValidateAccepts(t *testing.T) {
	req := validIngestRequest()
	req.Normalize()
	require.NoError(t, req.Validate())
}

func TestIngestValidateEmptySteps(t *testing.T) {
	req := validIngestRequest()
	req.Steps = nil
	assert.NoError(t, req.Validate())
}

func TestIngestValidateStepSequence(t *testing.T) {
	req := validIngestRequest()
	req.Steps[2].Seq = 3 // [0,1,3] has a gap
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeSchemaInvalid, CodeOf(err))

	// Order within the payload does not matter, only the set of values.
	req = validIngestRequest()
	req.Steps[0].Seq = 2
	req.Steps[2].Seq = 0
	assert.NoError(t, req.Validate())
}

func TestIngestValidateMissingFailure(t *testing.T) {
	req := validIngestRequest()
	req.Status = RunStatusFailure
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeMissingFailure, CodeOf(err))

	req.Failure = &FailureInput{
		FailureType: FailureTypeTool,
		FailureCode: "timeout",
		Message:     "tool timed out after 30s",
	}
	assert.NoError(t, req.Validate())
}

func TestIngestValidatePrivacy(t *testing.T) {
	req := validIngestRequest()
	req.Steps[0].Metadata = map[string]any{"Prompt": "hi"}
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodePrivacyViolation, CodeOf(err))

	req = validIngestRequest()
	req.Decisions[0].Metadata = map[string]any{"note": strings.Repeat("a", 101)}
	err = req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodePrivacyViolation, CodeOf(err))

	req = validIngestRequest()
	req.Decisions[0].Metadata = map[string]any{"note": strings.Repeat("a", 100)}
	assert.NoError(t, req.Validate())

	req = validIngestRequest()
	req.Status = RunStatusFailure
	req.Failure = &FailureInput{
		FailureType: FailureTypeTool,
		FailureCode: "auth",
		Message:     "request rejected: bad api_key",
	}
	err = req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodePrivacyViolation, CodeOf(err))
}

func TestIngestValidateConfidenceBounds(t *testing.T) {
	for _, c := range []float64{0.0, 0.5, 1.0} {
		req := validIngestRequest()
		req.Decisions[0].Confidence = &c
		assert.NoError(t, req.Validate(), "confidence %v", c)
	}
	for _, c := range []float64{-0.0001, 1.0001} {
		req := validIngestRequest()
		req.Decisions[0].Confidence = &c
		err := req.Validate()
		require.Error(t, err, "confidence %v", c)
		assert.Equal(t, ErrCodeSchemaInvalid, CodeOf(err))
	}
}

func TestIngestValidateWeightBounds(t *testing.T) {
	w := 1.0001
	req := validIngestRequest()
	req.Signals[0].Weight = &w
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeSchemaInvalid, CodeOf(err))
}

func TestIngestValidateCatalog(t *testing.T) {
	req := validIngestRequest()
	req.Decisions[0].DecisionType = "vibes"
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeSchemaInvalid, CodeOf(err))

	req = validIngestRequest()
	req.Decisions[0].ReasonCode = "no_results" // legal code, wrong type
	assert.Error(t, req.Validate())

	req = validIngestRequest()
	req.Signals[0].SignalCode = "fresh_data_required"
	assert.Error(t, req.Validate())
}

func TestIngestValidateTimestamps(t *testing.T) {
	req := validIngestRequest()
	before := req.StartedAt.Add(-time.Second)
	req.EndedAt = &before
	err := req.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeSchemaInvalid, CodeOf(err))

	req = validIngestRequest()
	req.Steps[1].EndedAt = req.Steps[1].StartedAt.Add(-time.Millisecond)
	assert.Error(t, req.Validate())
}

func TestIngestNormalize(t *testing.T) {
	req := validIngestRequest()
	req.RunID = uuid.Nil
	req.Environment = ""
	req.Steps[0].StepID = uuid.Nil
	req.Normalize()

	assert.NotEqual(t, uuid.Nil, req.RunID)
	assert.Equal(t, DefaultEnvironment, req.Environment)
	assert.NotEqual(t, uuid.Nil, req.Steps[0].StepID)
	for _, d := range req.Decisions {
		assert.NotEqual(t, uuid.Nil, d.DecisionID)
	}
	for _, s := range req.Signals {
		assert.NotEqual(t, uuid.Nil, s.SignalID)
	}
}

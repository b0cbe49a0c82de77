package mcp

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/zure/internal/config"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
	"github.com/ashita-ai/zure/internal/testutil"
)

var (
	testDB      *storage.DB
	profileSvc  *profile.Service
	baselineSvc *baseline.Service
	driftSvc    *drift.Service
	testServer  *Server
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	logger := testutil.TestLogger()
	profileSvc = profile.New(testDB, 5, logger)
	baselineSvc = baseline.New(testDB, logger)
	driftSvc = drift.New(testDB, profileSvc, nil, config.DefaultThresholds(), logger)
	testServer = New(profileSvc, baselineSvc, driftSvc, logger)

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// toolText extracts the first TextContent text from a CallToolResult.
func toolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent in tool result")
	return ""
}

// seedRuns ingests n runs for agentID inside the window, choosing tool "api"
// for the first apiCount and "database" for the rest.
func seedRuns(t *testing.T, agentID string, windowStart time.Time, n, apiCount int) {
	t.Helper()
	for i := 0; i < n; i++ {
		started := windowStart.Add(time.Duration(i) * time.Second)
		ended := started.Add(2 * time.Second)
		req := model.IngestRunRequest{
			RunID:        uuid.New(),
			AgentID:      agentID,
			AgentVersion: "1.0.0",
			Environment:  "production",
			Status:       model.RunStatusSuccess,
			StartedAt:    started,
			EndedAt:      &ended,
			Steps: []model.StepInput{
				{Seq: 0, StepType: model.StepTypeTool, Name: "fetch", LatencyMS: 300, StartedAt: started, EndedAt: ended},
			},
			Decisions: []model.DecisionInput{
				{DecisionType: "tool_selection", Selected: "api", ReasonCode: "fresh_data_required"},
			},
		}
		if i >= apiCount {
			req.Decisions[0].Selected = "database"
			req.Decisions[0].ReasonCode = "cached_data_sufficient"
		}
		req.Normalize()
		require.NoError(t, req.Validate())
		_, _, err := testDB.IngestRun(context.Background(), req)
		require.NoError(t, err)
	}
}

func TestHandleBuildProfilePreview(t *testing.T) {
	ctx := context.Background()
	agentID := "mcp-preview-" + uuid.New().String()[:8]
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seedRuns(t, agentID, base, 8, 6)

	result, err := testServer.handleBuildProfile(ctx, toolRequest("build_profile", map[string]any{
		"agent_id":      agentID,
		"agent_version": "1.0.0",
		"window_start":  base.Format(time.RFC3339),
		"window_end":    base.Add(time.Hour).Format(time.RFC3339),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "build preview should succeed: %s", toolText(t, result))

	var p model.BehaviorProfile
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &p))
	assert.Equal(t, agentID, p.AgentID)
	assert.Equal(t, 8, p.SampleSize)
	assert.InDelta(t, 0.75, p.DecisionDistributions["tool_selection"]["api"], 0.001)

	// Preview must not persist anything.
	_, total, err := profileSvc.List(ctx, model.ProfileFilters{AgentID: agentID}, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHandleBuildProfileErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		errText string
	}{
		{
			name: "bad window_start",
			args: map[string]any{
				"agent_id": "a", "agent_version": "1",
				"window_start": "yesterday", "window_end": time.Now().Format(time.RFC3339),
			},
			errText: "window_start must be RFC3339",
		},
		{
			name: "missing agent_id",
			args: map[string]any{
				"agent_version": "1",
				"window_start":  "2026-07-01T00:00:00Z", "window_end": "2026-07-02T00:00:00Z",
			},
			errText: "agent_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := testServer.handleBuildProfile(ctx, toolRequest("build_profile", tt.args))
			require.NoError(t, err, "handler returns tool errors, not go errors")
			require.True(t, result.IsError)
			assert.Contains(t, toolText(t, result), tt.errText)
		})
	}
}

func TestHandleGetActiveBaseline(t *testing.T) {
	ctx := context.Background()
	agentID := "mcp-baseline-" + uuid.New().String()[:8]
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	seedRuns(t, agentID, base, 8, 6)

	p, err := profileSvc.BuildAndStore(ctx, model.BuildProfileRequest{
		AgentID:      agentID,
		AgentVersion: "1.0.0",
		Environment:  "production",
		WindowStart:  base,
		WindowEnd:    base.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = baselineSvc.Create(ctx, model.CreateBaselineRequest{
		ProfileID:    p.ProfileID,
		BaselineType: model.BaselineTypeManual,
		AutoActivate: true,
	})
	require.NoError(t, err)

	result, err := testServer.handleGetActiveBaseline(ctx, toolRequest("get_active_baseline", map[string]any{
		"agent_id":      agentID,
		"agent_version": "1.0.0",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var b model.BehaviorBaseline
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &b))
	assert.Equal(t, agentID, b.AgentID)
	assert.True(t, b.IsActive)

	t.Run("missing args", func(t *testing.T) {
		result, err := testServer.handleGetActiveBaseline(ctx, toolRequest("get_active_baseline", map[string]any{
			"agent_id": agentID,
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)
		assert.Contains(t, toolText(t, result), "agent_version")
	})

	t.Run("unknown agent", func(t *testing.T) {
		result, err := testServer.handleGetActiveBaseline(ctx, toolRequest("get_active_baseline", map[string]any{
			"agent_id":      "nobody",
			"agent_version": "9.9.9",
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)
	})
}

func TestHandleListDriftAndSummary(t *testing.T) {
	ctx := context.Background()
	agentID := "mcp-drift-" + uuid.New().String()[:8]
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	// Baseline window heavily favors "api"; observation window flips it.
	seedRuns(t, agentID, base, 10, 8)
	seedRuns(t, agentID, base.Add(24*time.Hour), 10, 2)

	p, err := profileSvc.BuildAndStore(ctx, model.BuildProfileRequest{
		AgentID:      agentID,
		AgentVersion: "1.0.0",
		Environment:  "production",
		WindowStart:  base,
		WindowEnd:    base.Add(time.Hour),
	})
	require.NoError(t, err)

	b, err := baselineSvc.Create(ctx, model.CreateBaselineRequest{
		ProfileID:    p.ProfileID,
		BaselineType: model.BaselineTypeManual,
		AutoActivate: true,
	})
	require.NoError(t, err)

	events, err := driftSvc.Detect(ctx, model.DetectDriftRequest{
		BaselineID:  b.BaselineID,
		WindowStart: base.Add(24 * time.Hour),
		WindowEnd:   base.Add(25 * time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, events, "flipped distribution must drift")

	t.Run("list_drift", func(t *testing.T) {
		result, err := testServer.handleListDrift(ctx, toolRequest("list_drift", map[string]any{
			"agent_id":        agentID,
			"unresolved_only": true,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, toolText(t, result))

		var resp struct {
			Events []model.BehaviorDrift `json:"events"`
			Total  int                   `json:"total"`
		}
		require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
		assert.GreaterOrEqual(t, resp.Total, len(events))
		require.NotEmpty(t, resp.Events)
		assert.Equal(t, agentID, resp.Events[0].AgentID)
	})

	t.Run("drift_summary", func(t *testing.T) {
		result, err := testServer.handleDriftSummary(ctx, toolRequest("drift_summary", map[string]any{
			"days": 3650,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError, toolText(t, result))

		var summary model.DriftSummary
		require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &summary))
		assert.GreaterOrEqual(t, summary.TotalDriftEvents, len(events))
	})

	t.Run("summary rejects non-positive days", func(t *testing.T) {
		result, err := testServer.handleDriftSummary(ctx, toolRequest("drift_summary", map[string]any{
			"days": 0,
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)
	})
}

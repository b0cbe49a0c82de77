package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/zure/internal/auth"
	"github.com/ashita-ai/zure/internal/config"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/server"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
	"github.com/ashita-ai/zure/internal/testutil"
)

var (
	testDB  *storage.DB
	testSrv *server.Server
	jwtMgr  *auth.JWTManager
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	jwtMgr, err = auth.NewJWTManager("server-test-secret", time.Hour)
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	hash, err := auth.HashAPIKey("ingest-key")
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	keyring, err := auth.ParseKeyring("ingest-agent:" + hash + ":ingest")
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	logger := testutil.TestLogger()
	profileSvc := profile.New(testDB, 100, logger)
	baselineSvc := baseline.New(testDB, logger)
	driftSvc := drift.New(testDB, profileSvc, nil, config.DefaultThresholds(), logger)

	testSrv = server.New(server.ServerConfig{
		DB:                  testDB,
		JWTMgr:              jwtMgr,
		Keyring:             keyring,
		ProfileSvc:          profileSvc,
		BaselineSvc:         baselineSvc,
		DriftSvc:            driftSvc,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func token(t *testing.T, role model.Role) string {
	t.Helper()
	tok, _, err := jwtMgr.IssueToken("test-"+string(role), role)
	require.NoError(t, err)
	return tok
}

// doJSON sends a request through the full middleware chain and returns the
// recorder. body may be nil.
func doJSON(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	testSrv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	return envelope.Error.Code
}

func ingestPayload(agentID string, started time.Time) model.IngestRunRequest {
	ended := started.Add(2 * time.Second)
	return model.IngestRunRequest{
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
}

// seedRuns ingests n runs directly, choosing tool "api" for the first apiCount
// and "database" for the rest, with started_at inside the given window.
func seedRuns(t *testing.T, agentID string, windowStart time.Time, n, apiCount int) {
	t.Helper()
	for i := 0; i < n; i++ {
		req := ingestPayload(agentID, windowStart.Add(time.Duration(i)*time.Second))
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

func TestHealth(t *testing.T) {
	rec := doJSON(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeData[model.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Postgres)
}

func TestAuthToken(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		rec := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
			AgentID: "ingest-agent", APIKey: "ingest-key",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeData[model.AuthTokenResponse](t, rec)
		assert.NotEmpty(t, resp.Token)
		assert.True(t, resp.ExpiresAt.After(time.Now()))

		// The issued token carries the ingest role: it can submit runs but
		// not read them.
		ingest := doJSON(t, http.MethodPost, "/v1/runs", resp.Token,
			ingestPayload("auth-roundtrip-agent", time.Now().UTC().Add(-time.Minute)))
		assert.Equal(t, http.StatusCreated, ingest.Code)
		read := doJSON(t, http.MethodGet, "/v1/runs", resp.Token, nil)
		assert.Equal(t, http.StatusForbidden, read.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{
			AgentID: "ingest-agent", APIKey: "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := doJSON(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthRequired(t *testing.T) {
	rec := doJSON(t, http.MethodGet, "/v1/runs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))

	rec = doJSON(t, http.MethodGet, "/v1/runs", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleEnforcement(t *testing.T) {
	// reader cannot use admin-only drift writes.
	rec := doJSON(t, http.MethodPost, "/v1/drift/detect", token(t, model.RoleReader), model.DetectDriftRequest{
		BaselineID:  uuid.New(),
		WindowStart: time.Now().Add(-time.Hour),
		WindowEnd:   time.Now(),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))
}

func TestIngestIdempotent(t *testing.T) {
	payload := ingestPayload("idempotent-agent", time.Now().UTC().Add(-time.Minute))
	ingestTok := token(t, model.RoleIngest)

	first := doJSON(t, http.MethodPost, "/v1/runs", ingestTok, payload)
	require.Equal(t, http.StatusCreated, first.Code)
	firstRun := decodeData[model.AgentRun](t, first)
	assert.Equal(t, payload.RunID, firstRun.RunID)

	second := doJSON(t, http.MethodPost, "/v1/runs", ingestTok, payload)
	require.Equal(t, http.StatusOK, second.Code)
	secondRun := decodeData[model.AgentRun](t, second)
	assert.Equal(t, firstRun.RunID, secondRun.RunID)
	// created_at survives the round trip modulo timestamp precision.
	assert.WithinDuration(t, firstRun.CreatedAt, secondRun.CreatedAt, time.Millisecond)
}

func TestIngestRejectsPrivacyViolation(t *testing.T) {
	payload := ingestPayload("privacy-agent", time.Now().UTC().Add(-time.Minute))
	payload.Steps[0].Metadata = map[string]any{"Prompt": "summarize the ticket"}

	rec := doJSON(t, http.MethodPost, "/v1/runs", token(t, model.RoleIngest), payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodePrivacyViolation, errorCode(t, rec))

	// Nothing was stored.
	get := doJSON(t, http.MethodGet, "/v1/runs/"+payload.RunID.String(), token(t, model.RoleReader), nil)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestIngestRejectsMissingFailure(t *testing.T) {
	payload := ingestPayload("missing-failure-agent", time.Now().UTC().Add(-time.Minute))
	payload.Status = model.RunStatusFailure
	payload.Failure = nil

	rec := doJSON(t, http.MethodPost, "/v1/runs", token(t, model.RoleIngest), payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeMissingFailure, errorCode(t, rec))
}

func TestGetRunChildren(t *testing.T) {
	payload := ingestPayload("children-agent", time.Now().UTC().Add(-time.Minute))
	require.Equal(t, http.StatusCreated,
		doJSON(t, http.MethodPost, "/v1/runs", token(t, model.RoleIngest), payload).Code)

	readerTok := token(t, model.RoleReader)
	get := doJSON(t, http.MethodGet, "/v1/runs/"+payload.RunID.String(), readerTok, nil)
	require.Equal(t, http.StatusOK, get.Code)
	run := decodeData[model.RunWithChildren](t, get)
	assert.Len(t, run.Steps, 1)
	assert.Len(t, run.Decisions, 1)

	steps := doJSON(t, http.MethodGet, "/v1/runs/"+payload.RunID.String()+"/steps", readerTok, nil)
	require.Equal(t, http.StatusOK, steps.Code)
	assert.Len(t, decodeData[[]model.AgentStep](t, steps), 1)

	failures := doJSON(t, http.MethodGet, "/v1/runs/"+payload.RunID.String()+"/failures", readerTok, nil)
	require.Equal(t, http.StatusOK, failures.Code)
	assert.Empty(t, decodeData[[]model.AgentFailure](t, failures))
}

func TestCatalog(t *testing.T) {
	rec := doJSON(t, http.MethodGet, "/v1/catalog", token(t, model.RoleReader), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeData[model.CatalogResponse](t, rec)
	types := make([]string, 0, len(resp.DecisionTypes))
	for _, e := range resp.DecisionTypes {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, "tool_selection")
	assert.Contains(t, types, "retry_strategy")
	assert.NotEmpty(t, resp.SignalTypes)
}

func TestDriftWorkflow(t *testing.T) {
	const agentID = "drift-workflow-agent"
	adminTok := token(t, model.RoleAdmin)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	baselineWindow := base
	observedWindow := base.Add(24 * time.Hour)

	// Baseline window: 80% api / 20% database. Observed: inverted.
	seedRuns(t, agentID, baselineWindow, 10, 8)
	seedRuns(t, agentID, observedWindow, 10, 2)

	// Build the baseline profile.
	buildRec := doJSON(t, http.MethodPost, "/v1/drift/profiles", adminTok, model.BuildProfileRequest{
		AgentID:       agentID,
		AgentVersion:  "1.0.0",
		Environment:   "production",
		WindowStart:   baselineWindow,
		WindowEnd:     baselineWindow.Add(time.Hour),
		MinSampleSize: 5,
	})
	require.Equal(t, http.StatusCreated, buildRec.Code)
	baselineProfile := decodeData[model.BehaviorProfile](t, buildRec)
	assert.Equal(t, 10, baselineProfile.SampleSize)
	assert.InDelta(t, 0.8, baselineProfile.DecisionDistributions["tool_selection"]["api"], 1e-9)

	// Promote it to an active baseline.
	createRec := doJSON(t, http.MethodPost, "/v1/drift/baselines", adminTok, model.CreateBaselineRequest{
		ProfileID:    baselineProfile.ProfileID,
		BaselineType: model.BaselineTypeManual,
		AutoActivate: true,
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	b := decodeData[model.BehaviorBaseline](t, createRec)
	assert.True(t, b.IsActive)
	assert.Equal(t, agentID, b.AgentID)

	// The active lookup finds it.
	activeRec := doJSON(t, http.MethodGet,
		fmt.Sprintf("/v1/drift/baselines/active?agent_id=%s&agent_version=1.0.0&environment=production", agentID),
		token(t, model.RoleReader), nil)
	require.Equal(t, http.StatusOK, activeRec.Code)
	assert.Equal(t, b.BaselineID, decodeData[model.BehaviorBaseline](t, activeRec).BaselineID)

	// Detect over the shifted window.
	detectRec := doJSON(t, http.MethodPost, "/v1/drift/detect", adminTok, model.DetectDriftRequest{
		BaselineID:    b.BaselineID,
		WindowStart:   observedWindow,
		WindowEnd:     observedWindow.Add(time.Hour),
		MinSampleSize: 5,
	})
	require.Equal(t, http.StatusOK, detectRec.Code)
	events := decodeData[[]model.BehaviorDrift](t, detectRec)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, b.BaselineID, e.BaselineID)
		assert.Equal(t, 10, e.ObservationSampleSize)
	}

	// Detection windows without enough runs fail with 422.
	insufficientRec := doJSON(t, http.MethodPost, "/v1/drift/detect", adminTok, model.DetectDriftRequest{
		BaselineID:    b.BaselineID,
		WindowStart:   base.Add(90 * 24 * time.Hour),
		WindowEnd:     base.Add(91 * 24 * time.Hour),
		MinSampleSize: 5,
	})
	require.Equal(t, http.StatusUnprocessableEntity, insufficientRec.Code)
	assert.Equal(t, model.ErrCodeInsufficientData, errorCode(t, insufficientRec))

	// Resolving twice conflicts.
	resolveURL := "/v1/drift/" + events[0].DriftID.String() + "/resolve"
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, resolveURL, adminTok, nil).Code)
	conflictRec := doJSON(t, http.MethodPost, resolveURL, adminTok, nil)
	require.Equal(t, http.StatusConflict, conflictRec.Code)
	assert.Equal(t, model.ErrCodeIntegrityConflict, errorCode(t, conflictRec))

	// Summary and timeline reflect the events.
	summaryRec := doJSON(t, http.MethodGet, "/v1/drift/summary?days=3650", token(t, model.RoleReader), nil)
	require.Equal(t, http.StatusOK, summaryRec.Code)
	summary := decodeData[model.DriftSummary](t, summaryRec)
	assert.GreaterOrEqual(t, summary.TotalDriftEvents, len(events))

	timelineRec := doJSON(t, http.MethodGet, "/v1/drift/timeline?agent_id="+agentID, token(t, model.RoleReader), nil)
	require.Equal(t, http.StatusOK, timelineRec.Code)
	timeline := decodeData[model.DriftTimeline](t, timelineRec)
	assert.Equal(t, agentID, timeline.AgentID)
	assert.NotEmpty(t, timeline.Timeline)
}

func TestBaselineValidation(t *testing.T) {
	adminTok := token(t, model.RoleAdmin)

	t.Run("unknown baseline type", func(t *testing.T) {
		rec := doJSON(t, http.MethodPost, "/v1/drift/baselines", adminTok, map[string]any{
			"profile_id":    uuid.New().String(),
			"baseline_type": "golden",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.ErrCodeInvalidBaselineType, errorCode(t, rec))
	})

	t.Run("unknown profile", func(t *testing.T) {
		rec := doJSON(t, http.MethodPost, "/v1/drift/baselines", adminTok, model.CreateBaselineRequest{
			ProfileID:    uuid.New(),
			BaselineType: model.BaselineTypeManual,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("forbidden description keyword", func(t *testing.T) {
		desc := "captures the prompt behavior"
		rec := doJSON(t, http.MethodPost, "/v1/drift/baselines", adminTok, model.CreateBaselineRequest{
			ProfileID:    uuid.New(),
			BaselineType: model.BaselineTypeManual,
			Description:  &desc,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.ErrCodeDescriptionRejected, errorCode(t, rec))
	})
}

func TestProfileBuildInsufficientData(t *testing.T) {
	rec := doJSON(t, http.MethodPost, "/v1/drift/profiles", token(t, model.RoleAdmin), model.BuildProfileRequest{
		AgentID:      "nonexistent-agent",
		AgentVersion: "9.9.9",
		WindowStart:  time.Now().Add(-time.Hour),
		WindowEnd:    time.Now(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, model.ErrCodeInsufficientData, errorCode(t, rec))
}

func TestUnknownFieldRejected(t *testing.T) {
	rec := doJSON(t, http.MethodPost, "/v1/drift/detect", token(t, model.RoleAdmin), map[string]any{
		"baseline_id": uuid.New().String(),
		"surprise":    true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeSchemaInvalid, errorCode(t, rec))
}

func TestRequestIDPropagation(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-request-id")
	rec := httptest.NewRecorder()
	testSrv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "fixed-request-id", rec.Header().Get("X-Request-ID"))

	var envelope model.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, "fixed-request-id", envelope.Meta.RequestID)
}

package zure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Zure API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		AgentID: "test-agent",
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func validIngestRequest() IngestRunRequest {
	started := time.Now().UTC().Add(-time.Minute)
	ended := started.Add(30 * time.Second)
	return IngestRunRequest{
		RunID:        uuid.New(),
		AgentID:      "checkout-agent",
		AgentVersion: "1.4.0",
		Status:       RunStatusSuccess,
		StartedAt:    started,
		EndedAt:      &ended,
		Steps: []StepInput{
			{
				Seq:       0,
				StepType:  StepTypePlan,
				Name:      "plan_checkout",
				LatencyMS: 120,
				StartedAt: started,
				EndedAt:   started.Add(120 * time.Millisecond),
			},
			{
				Seq:       1,
				StepType:  StepTypeTool,
				Name:      "payment_api",
				LatencyMS: 850,
				StartedAt: started.Add(time.Second),
				EndedAt:   started.Add(time.Second + 850*time.Millisecond),
			},
		},
		Decisions: []DecisionInput{
			{
				DecisionType: "tool_selection",
				Selected:     "payment_api",
				ReasonCode:   "fresh_data_required",
			},
		},
		Signals: []SignalInput{
			{
				SignalType: "tool_success",
				SignalCode: "first_attempt",
				Value:      true,
			},
		},
	}
}

func TestIngestRunSubmitsPayload(t *testing.T) {
	var received IngestRunRequest
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "SCHEMA_INVALID", "message": err.Error()},
				})
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": Run{
					RunID:        received.RunID,
					AgentID:      received.AgentID,
					AgentVersion: received.AgentVersion,
					Environment:  "production",
					Status:       received.Status,
					StartedAt:    received.StartedAt,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	req := validIngestRequest()
	run, err := client.IngestRun(context.Background(), req)
	if err != nil {
		t.Fatalf("IngestRun failed: %v", err)
	}
	if run.RunID != req.RunID {
		t.Errorf("expected run_id %s, got %s", req.RunID, run.RunID)
	}
	if len(received.Steps) != 2 {
		t.Fatalf("expected 2 steps on the wire, got %d", len(received.Steps))
	}
	if len(received.Signals) != 1 {
		t.Errorf("expected quality_signals on the wire, got %d", len(received.Signals))
	}
}

func TestIngestRunValidatesBeforeSending(t *testing.T) {
	var calls atomic.Int64
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusCreated, map[string]any{"data": Run{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	req := validIngestRequest()
	req.Decisions[0].ReasonCode = "because_i_felt_like_it"
	if _, err := client.IngestRun(context.Background(), req); err == nil {
		t.Fatal("expected validation error for unknown reason_code")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no HTTP calls for an invalid payload, got %d", calls.Load())
	}
}

func TestListDriftDecodesPage(t *testing.T) {
	driftID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/drift": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("severity") != "high" {
				t.Errorf("expected severity=high, got %q", q.Get("severity"))
			}
			if q.Get("resolved") != "false" {
				t.Errorf("expected resolved=false, got %q", q.Get("resolved"))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []DriftEvent{
					{
						DriftID:   driftID,
						AgentID:   "checkout-agent",
						DriftType: "decision_drift",
						Metric:    "tool_selection",
						Severity:  "high",
					},
				},
				"total":    12,
				"has_more": true,
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resolved := false
	page, err := client.ListDrift(context.Background(), &ListDriftOptions{
		Severity: "high",
		Resolved: &resolved,
		Limit:    1,
	})
	if err != nil {
		t.Fatalf("ListDrift failed: %v", err)
	}
	if page.Total != 12 || !page.HasMore {
		t.Errorf("expected total=12 has_more=true, got total=%d has_more=%v", page.Total, page.HasMore)
	}
	if len(page.Events) != 1 || page.Events[0].DriftID != driftID {
		t.Fatalf("unexpected events page: %+v", page.Events)
	}
}

func TestGetActiveBaseline(t *testing.T) {
	baselineID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/drift/baselines/active": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("agent_id") != "checkout-agent" || q.Get("agent_version") != "1.4.0" {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"code": "NOT_FOUND", "message": "no active baseline"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": Baseline{
					BaselineID:   baselineID,
					AgentID:      "checkout-agent",
					AgentVersion: "1.4.0",
					Environment:  "production",
					IsActive:     true,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	b, err := client.GetActiveBaseline(context.Background(), "checkout-agent", "1.4.0", "")
	if err != nil {
		t.Fatalf("GetActiveBaseline failed: %v", err)
	}
	if b.BaselineID != baselineID || !b.IsActive {
		t.Errorf("unexpected baseline: %+v", b)
	}

	_, err = client.GetActiveBaseline(context.Background(), "unknown-agent", "0.0.1", "")
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
}

func TestDriftSummaryQuery(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/drift/summary": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("days") != "30" {
				t.Errorf("expected days=30, got %q", r.URL.Query().Get("days"))
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": DriftSummary{
					TotalDriftEvents:      4,
					UnresolvedDriftEvents: 2,
					DriftBySeverity:       map[string]int{"high": 1, "medium": 3},
					AgentsWithDrift:       1,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	summary, err := client.DriftSummary(context.Background(), "", 30)
	if err != nil {
		t.Fatalf("DriftSummary failed: %v", err)
	}
	if summary.TotalDriftEvents != 4 || summary.DriftBySeverity["high"] != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestErrorHelpers(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/runs/{run_id}": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": map[string]any{"code": "INSUFFICIENT_DATA", "message": "window below minimum"},
			})
		},
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"code": "PRIVACY_VIOLATION", "message": "forbidden metadata key"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.GetRun(context.Background(), uuid.New())
	if !IsInsufficientData(err) {
		t.Errorf("expected IsInsufficientData, got %v", err)
	}

	_, err = client.IngestRun(context.Background(), validIngestRequest())
	if !IsPrivacyViolation(err) {
		t.Errorf("expected IsPrivacyViolation, got %v", err)
	}
}

func TestTokenRefreshOnExpiry(t *testing.T) {
	var authCalls atomic.Int64
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			// Expires immediately so every request refreshes.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "short-lived",
					"expires_at": time.Now().Format(time.RFC3339),
				},
			})
		},
		"GET /v1/catalog": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": CatalogResponse{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.Catalog(context.Background()); err != nil {
			t.Fatalf("Catalog failed: %v", err)
		}
	}
	if authCalls.Load() != 3 {
		t.Errorf("expected 3 token refreshes, got %d", authCalls.Load())
	}
}

func TestHealthWithoutAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad key"},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "healthy", Version: "0.1.0", Postgres: "connected"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %q", health.Status)
	}
}

func TestNewClientRequiresConfig(t *testing.T) {
	cases := []Config{
		{AgentID: "a", APIKey: "k"},
		{BaseURL: "http://localhost", APIKey: "k"},
		{BaseURL: "http://localhost", AgentID: "a"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Errorf("expected error for config %+v", cfg)
		}
	}
}

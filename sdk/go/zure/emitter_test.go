package zure

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEmitterFlushesQueuedRuns(t *testing.T) {
	var mu sync.Mutex
	var seen []uuid.UUID
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			var req IngestRunRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode ingest body: %v", err)
			}
			mu.Lock()
			seen = append(seen, req.RunID)
			mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{"data": Run{RunID: req.RunID}})
		},
	})
	defer srv.Close()

	emitter := NewEmitter(newTestClient(t, srv.URL), EmitterConfig{QueueSize: 8})

	want := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		run := validIngestRequest()
		want[run.RunID] = true
		if !emitter.Emit(run) {
			t.Fatalf("Emit %d rejected with room in the queue", i)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Fatalf("expected 5 ingested runs, got %d", len(seen))
	}
	for _, id := range seen {
		if !want[id] {
			t.Errorf("unexpected run %s ingested", id)
		}
	}
	if emitter.Dropped() != 0 {
		t.Errorf("expected no drops, got %d", emitter.Dropped())
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			<-release
			writeJSON(w, http.StatusCreated, map[string]any{"data": Run{}})
		},
	})
	defer srv.Close()

	emitter := NewEmitter(newTestClient(t, srv.URL), EmitterConfig{QueueSize: 2})

	// One run blocks in-flight; two fill the queue. Give the flush
	// goroutine a moment to pick up the first.
	if !emitter.Emit(validIngestRequest()) {
		t.Fatal("first Emit rejected")
	}
	time.Sleep(50 * time.Millisecond)
	emitter.Emit(validIngestRequest())
	emitter.Emit(validIngestRequest())

	dropped := 0
	for i := 0; i < 4; i++ {
		if !emitter.Emit(validIngestRequest()) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("expected overflow drops with a full queue")
	}
	if emitter.Dropped() != int64(dropped) {
		t.Errorf("Dropped() = %d, want %d", emitter.Dropped(), dropped)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}

func TestEmitterRejectsAfterDrain(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{"data": Run{}})
		},
	})
	defer srv.Close()

	emitter := NewEmitter(newTestClient(t, srv.URL), EmitterConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	if emitter.Emit(validIngestRequest()) {
		t.Error("Emit after Drain should be rejected")
	}
	if emitter.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", emitter.Dropped())
	}

	// Second Drain is a no-op.
	if err := emitter.Drain(ctx); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}
}

func TestEmitterReportsIngestErrors(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"code": "RATE_LIMITED", "message": "slow down"},
			})
		},
	})
	defer srv.Close()

	errCh := make(chan error, 1)
	emitter := NewEmitter(newTestClient(t, srv.URL), EmitterConfig{
		OnError: func(_ IngestRunRequest, err error) { errCh <- err },
	})

	emitter.Emit(validIngestRequest())

	select {
	case err := <-errCh:
		if !IsRateLimited(err) {
			t.Errorf("expected rate-limit error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = emitter.Drain(ctx)
}

func TestEmitRecorderInfersStatus(t *testing.T) {
	var mu sync.Mutex
	var statuses []RunStatus
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/runs": func(w http.ResponseWriter, r *http.Request) {
			var req IngestRunRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			statuses = append(statuses, req.Status)
			mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{"data": Run{RunID: req.RunID}})
		},
	})
	defer srv.Close()

	emitter := NewEmitter(newTestClient(t, srv.URL), EmitterConfig{})

	ok := NewRun("checkout-agent", "1.4.0")
	ok.StartStep(StepTypePlan, "plan").End()
	if queued, err := emitter.EmitRecorder(ok); err != nil || !queued {
		t.Fatalf("EmitRecorder(ok) = %v, %v", queued, err)
	}

	failed := NewRun("checkout-agent", "1.4.0")
	failed.StartStep(StepTypeTool, "payment_api").End()
	failed.Fail(FailureTypeTool, "timeout", "payment gateway timed out")
	if queued, err := emitter.EmitRecorder(failed); err != nil || !queued {
		t.Fatalf("EmitRecorder(failed) = %v, %v", queued, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(statuses))
	}
	got := map[RunStatus]bool{statuses[0]: true, statuses[1]: true}
	if !got[RunStatusSuccess] || !got[RunStatusFailure] {
		t.Errorf("expected one success and one failure, got %v", statuses)
	}
}

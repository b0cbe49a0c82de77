package server

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/telemetry"
)

var ingestMeter = telemetry.Meter("zure/ingest")

// recordIngestMetric bumps the ingested or rejected counter (best-effort).
func recordIngestMetric(r *http.Request, name string, attrs ...attribute.KeyValue) {
	if counter, err := ingestMeter.Int64Counter(name); err == nil {
		counter.Add(r.Context(), 1, otelmetric.WithAttributes(attrs...))
	}
}

// HandleIngestRun handles POST /v1/runs: one complete run with children,
// written in a single transaction. Idempotent by run_id — a duplicate returns
// the stored run with 200 instead of 201.
func (h *Handlers) HandleIngestRun(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRunRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		recordIngestMetric(r, "zure.runs.rejected",
			attribute.String("zure.reject_code", model.CodeOf(err)))
		h.writeServiceError(w, r, err)
		return
	}

	run, created, err := h.db.IngestRun(r.Context(), req)
	if err != nil {
		recordIngestMetric(r, "zure.runs.rejected",
			attribute.String("zure.reject_code", model.ErrCodeInternalError))
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		recordIngestMetric(r, "zure.runs.ingested",
			attribute.String("zure.agent_id", run.AgentID),
			attribute.String("zure.environment", run.Environment))
	}
	writeJSON(w, r, status, run)
}

// HandleListRuns handles GET /v1/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	f, err := runFiltersFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	limit, offset := queryLimit(r), queryOffset(r)
	runs, total, err := h.db.ListRuns(r.Context(), f, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, runs, total, limit, offset)
}

// HandleGetRun handles GET /v1/runs/{run_id}: the run with all children.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	run, err := h.db.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleGetRunSteps handles GET /v1/runs/{run_id}/steps.
func (h *Handlers) HandleGetRunSteps(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	run, err := h.db.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run.Steps)
}

// HandleGetRunFailures handles GET /v1/runs/{run_id}/failures.
func (h *Handlers) HandleGetRunFailures(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	run, err := h.db.GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run.Failures)
}

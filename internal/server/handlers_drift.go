package server

import (
	"net/http"
	"strconv"

	"github.com/ashita-ai/zure/internal/model"
)

// --- Profiles ---

// HandleBuildProfile handles POST /v1/drift/profiles: builds a behavior
// profile over the requested window and persists it.
func (h *Handlers) HandleBuildProfile(w http.ResponseWriter, r *http.Request) {
	var req model.BuildProfileRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Environment == "" {
		req.Environment = model.DefaultEnvironment
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	p, err := h.profileSvc.BuildAndStore(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

// HandleListProfiles handles GET /v1/drift/profiles.
func (h *Handlers) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.ProfileFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
		Environment:  q.Get("environment"),
	}

	limit, offset := queryLimit(r), queryOffset(r)
	profiles, total, err := h.profileSvc.List(r.Context(), f, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, profiles, total, limit, offset)
}

// HandleGetProfile handles GET /v1/drift/profiles/{profile_id}.
func (h *Handlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID, err := pathUUID(r, "profile_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	p, err := h.profileSvc.Get(r.Context(), profileID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// --- Baselines ---

// HandleCreateBaseline handles POST /v1/drift/baselines.
func (h *Handlers) HandleCreateBaseline(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBaselineRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	b, err := h.baselineSvc.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, b)
}

// HandleListBaselines handles GET /v1/drift/baselines.
func (h *Handlers) HandleListBaselines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.BaselineFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
		Environment:  q.Get("environment"),
		BaselineType: q.Get("baseline_type"),
	}
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "invalid is_active: "+v)
			return
		}
		f.IsActive = &active
	}

	limit, offset := queryLimit(r), queryOffset(r)
	baselines, total, err := h.baselineSvc.List(r.Context(), f, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, baselines, total, limit, offset)
}

// HandleGetActiveBaseline handles GET /v1/drift/baselines/active.
func (h *Handlers) HandleGetActiveBaseline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID, agentVersion := q.Get("agent_id"), q.Get("agent_version")
	if agentID == "" || agentVersion == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "agent_id and agent_version are required")
		return
	}
	environment := q.Get("environment")
	if environment == "" {
		environment = model.DefaultEnvironment
	}

	b, err := h.baselineSvc.GetActive(r.Context(), agentID, agentVersion, environment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// HandleGetBaseline handles GET /v1/drift/baselines/{baseline_id}.
func (h *Handlers) HandleGetBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := pathUUID(r, "baseline_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	b, err := h.baselineSvc.Get(r.Context(), baselineID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// HandleActivateBaseline handles POST /v1/drift/baselines/{baseline_id}/activate.
func (h *Handlers) HandleActivateBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := pathUUID(r, "baseline_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	b, err := h.baselineSvc.Activate(r.Context(), baselineID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// HandleDeactivateBaseline handles POST /v1/drift/baselines/{baseline_id}/deactivate.
func (h *Handlers) HandleDeactivateBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := pathUUID(r, "baseline_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	b, err := h.baselineSvc.Deactivate(r.Context(), baselineID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// HandleApproveBaseline handles POST /v1/drift/baselines/{baseline_id}/approve.
func (h *Handlers) HandleApproveBaseline(w http.ResponseWriter, r *http.Request) {
	baselineID, err := pathUUID(r, "baseline_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	var req model.ApproveBaselineRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "approved_by is required")
		return
	}

	b, err := h.baselineSvc.Approve(r.Context(), baselineID, req.ApprovedBy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// --- Drift events ---

// HandleDetectDrift handles POST /v1/drift/detect.
func (h *Handlers) HandleDetectDrift(w http.ResponseWriter, r *http.Request) {
	var req model.DetectDriftRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	events, err := h.driftSvc.Detect(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// Detection with no drift is a successful, empty result.
	if events == nil {
		events = []model.BehaviorDrift{}
	}
	writeJSON(w, r, http.StatusOK, events)
}

// HandleListDrift handles GET /v1/drift.
func (h *Handlers) HandleListDrift(w http.ResponseWriter, r *http.Request) {
	f, err := driftFiltersFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	limit, offset := queryLimit(r), queryOffset(r)
	events, total, err := h.driftSvc.List(r.Context(), f, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeList(w, r, events, total, limit, offset)
}

// HandleGetDrift handles GET /v1/drift/{drift_id}.
func (h *Handlers) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	driftID, err := pathUUID(r, "drift_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	d, err := h.driftSvc.Get(r.Context(), driftID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleResolveDrift handles POST /v1/drift/{drift_id}/resolve. Resolving an
// already-resolved event conflicts.
func (h *Handlers) HandleResolveDrift(w http.ResponseWriter, r *http.Request) {
	driftID, err := pathUUID(r, "drift_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	d, err := h.driftSvc.Resolve(r.Context(), driftID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// HandleDriftTimeline handles GET /v1/drift/timeline.
func (h *Handlers) HandleDriftTimeline(w http.ResponseWriter, r *http.Request) {
	f, err := driftFiltersFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}
	if f.AgentID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "agent_id is required")
		return
	}

	timeline, err := h.driftSvc.Timeline(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, timeline)
}

// HandleDriftSummary handles GET /v1/drift/summary?days=N.
func (h *Handlers) HandleDriftSummary(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "days must be positive")
		return
	}

	summary, err := h.driftSvc.Summary(r.Context(), r.URL.Query().Get("environment"), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func driftFiltersFromQuery(r *http.Request) (model.DriftFilters, error) {
	q := r.URL.Query()
	f := model.DriftFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
		Environment:  q.Get("environment"),
		DriftType:    q.Get("drift_type"),
		Severity:     q.Get("severity"),
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return f, model.NewError(model.ErrCodeSchemaInvalid, "invalid resolved: %s", v)
		}
		f.Resolved = &resolved
	}
	var err error
	if f.StartTime, err = queryTime(r, "start_time"); err != nil {
		return f, err
	}
	if f.EndTime, err = queryTime(r, "end_time"); err != nil {
		return f, err
	}
	return f, nil
}

package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/zure/internal/auth"
	"github.com/ashita-ai/zure/internal/catalog"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	keyring             *auth.Keyring
	profileSvc          *profile.Service
	baselineSvc         *baseline.Service
	driftSvc            *drift.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Keyring             *auth.Keyring
	ProfileSvc          *profile.Service
	BaselineSvc         *baseline.Service
	DriftSvc            *drift.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		keyring:             d.Keyring,
		profileSvc:          d.ProfileSvc,
		baselineSvc:         d.BaselineSvc,
		driftSvc:            d.DriftSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges an agent_id + API key
// for a JWT carrying the key's configured role.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, "agent_id and api_key are required")
		return
	}

	role, ok := h.keyring.Verify(req.AgentID, req.APIKey)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.AgentID, role)
	if err != nil {
		h.writeServiceError(w, r, fmt.Errorf("server: issue token: %w", err))
		return
	}

	h.logger.Info("token issued",
		"agent_id", req.AgentID,
		"role", string(role),
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health. A failing store ping reports degraded
// with 503 so load balancers rotate the instance out.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	f, err := runFiltersFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeSchemaInvalid, err.Error())
		return
	}

	stats, err := h.db.RunStats(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleCatalog handles GET /v1/catalog: the closed tag vocabularies, so
// clients can validate before submitting.
func (h *Handlers) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	resp := model.CatalogResponse{}
	for _, dt := range catalog.DecisionTypes() {
		resp.DecisionTypes = append(resp.DecisionTypes, model.CatalogEntry{
			Type:  dt,
			Codes: catalog.ReasonCodes(dt),
		})
	}
	for _, st := range catalog.SignalTypes() {
		resp.SignalTypes = append(resp.SignalTypes, model.CatalogEntry{
			Type:  st,
			Codes: catalog.SignalCodes(st),
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// --- Shared helpers ---

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

// defaultQueryLimit applies when no limit parameter is given.
const defaultQueryLimit = 100

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request) int {
	limit := queryInt(r, "limit", defaultQueryLimit)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2026-01-01T00:00:00Z)", key)
	}
	return &t, nil
}

func runFiltersFromQuery(r *http.Request) (model.RunFilters, error) {
	q := r.URL.Query()
	f := model.RunFilters{
		AgentID:      q.Get("agent_id"),
		AgentVersion: q.Get("agent_version"),
		Environment:  q.Get("environment"),
		Status:       q.Get("status"),
	}
	var err error
	if f.StartTime, err = queryTime(r, "start_time"); err != nil {
		return f, err
	}
	if f.EndTime, err = queryTime(r, "end_time"); err != nil {
		return f, err
	}
	if f.Status != "" && !model.RunStatus(f.Status).Valid() {
		return f, fmt.Errorf("invalid status: %s", f.Status)
	}
	return f, nil
}

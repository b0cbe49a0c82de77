package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/zure/internal/auth"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/ratelimit"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
)

// Server is the Zure HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	Keyring     *auth.Keyring
	ProfileSvc  *profile.Service
	BaselineSvc *baseline.Service
	DriftSvc    *drift.Service
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Keyring:             cfg.Keyring,
		ProfileSvc:          cfg.ProfileSvc,
		BaselineSvc:         cfg.BaselineSvc,
		DriftSvc:            cfg.DriftSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit groups: ingest and query keyed by agent (admin exempt),
	// token exchange keyed by client IP.
	ingestRL := ratelimit.Middleware(cfg.Limiter, agentKeyFunc("ingest:"), reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, agentKeyFunc("query:"), reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, func(r *http.Request) string {
		return "auth:" + ratelimit.IPKeyFunc(r)
	}, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Run ingestion (ingest+, rate limited).
	ingestRole := requireRole(model.RoleIngest)
	mux.Handle("POST /v1/runs", ingestRL(ingestRole(http.HandlerFunc(h.HandleIngestRun))))

	// Query surface (reader+, rate limited).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/runs", queryRL(readRole(http.HandlerFunc(h.HandleListRuns))))
	mux.Handle("GET /v1/runs/{run_id}", queryRL(readRole(http.HandlerFunc(h.HandleGetRun))))
	mux.Handle("GET /v1/runs/{run_id}/steps", queryRL(readRole(http.HandlerFunc(h.HandleGetRunSteps))))
	mux.Handle("GET /v1/runs/{run_id}/failures", queryRL(readRole(http.HandlerFunc(h.HandleGetRunFailures))))
	mux.Handle("GET /v1/stats", queryRL(readRole(http.HandlerFunc(h.HandleStats))))
	mux.Handle("GET /v1/catalog", queryRL(readRole(http.HandlerFunc(h.HandleCatalog))))

	// Drift reads (reader+, rate limited).
	mux.Handle("GET /v1/drift/profiles", queryRL(readRole(http.HandlerFunc(h.HandleListProfiles))))
	mux.Handle("GET /v1/drift/profiles/{profile_id}", queryRL(readRole(http.HandlerFunc(h.HandleGetProfile))))
	mux.Handle("GET /v1/drift/baselines", queryRL(readRole(http.HandlerFunc(h.HandleListBaselines))))
	mux.Handle("GET /v1/drift/baselines/active", queryRL(readRole(http.HandlerFunc(h.HandleGetActiveBaseline))))
	mux.Handle("GET /v1/drift/baselines/{baseline_id}", queryRL(readRole(http.HandlerFunc(h.HandleGetBaseline))))
	mux.Handle("GET /v1/drift", queryRL(readRole(http.HandlerFunc(h.HandleListDrift))))
	mux.Handle("GET /v1/drift/timeline", queryRL(readRole(http.HandlerFunc(h.HandleDriftTimeline))))
	mux.Handle("GET /v1/drift/summary", queryRL(readRole(http.HandlerFunc(h.HandleDriftSummary))))
	mux.Handle("GET /v1/drift/{drift_id}", queryRL(readRole(http.HandlerFunc(h.HandleGetDrift))))

	// Drift writes (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/drift/profiles", adminOnly(http.HandlerFunc(h.HandleBuildProfile)))
	mux.Handle("POST /v1/drift/baselines", adminOnly(http.HandlerFunc(h.HandleCreateBaseline)))
	mux.Handle("POST /v1/drift/baselines/{baseline_id}/activate", adminOnly(http.HandlerFunc(h.HandleActivateBaseline)))
	mux.Handle("POST /v1/drift/baselines/{baseline_id}/deactivate", adminOnly(http.HandlerFunc(h.HandleDeactivateBaseline)))
	mux.Handle("POST /v1/drift/baselines/{baseline_id}/approve", adminOnly(http.HandlerFunc(h.HandleApproveBaseline)))
	mux.Handle("POST /v1/drift/detect", adminOnly(http.HandlerFunc(h.HandleDetectDrift)))
	mux.Handle("POST /v1/drift/{drift_id}/resolve", adminOnly(http.HandlerFunc(h.HandleResolveDrift)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// agentKeyFunc returns a rate-limit key extractor that prefixes the agent ID
// from the request claims with the route group. Admin+ roles are exempt.
func agentKeyFunc(prefix string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			return ""
		}
		if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
			return ""
		}
		return prefix + claims.AgentID
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

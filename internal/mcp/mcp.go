// Package mcp implements the Model Context Protocol server for Zure.
//
// The MCP surface is read-only: it exposes drift events, baselines, and
// profile previews as tools so operator assistants can investigate behavior
// changes without write access. Mutations stay on the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
)

// Server wraps the MCP server with Zure's service layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	profileSvc  *profile.Service
	baselineSvc *baseline.Service
	driftSvc    *drift.Service
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(profileSvc *profile.Service, baselineSvc *baseline.Service, driftSvc *drift.Service, logger *slog.Logger) *Server {
	s := &Server{
		profileSvc:  profileSvc,
		baselineSvc: baselineSvc,
		driftSvc:    driftSvc,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"zure",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// list_drift — recent drift events with filters.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_drift",
			mcplib.WithDescription("List recent behavioral drift events, optionally filtered by agent, environment, type, severity, and resolution state"),
			mcplib.WithString("agent_id", mcplib.Description("Filter by agent identifier")),
			mcplib.WithString("environment", mcplib.Description("Filter by environment")),
			mcplib.WithString("drift_type", mcplib.Description("Filter by drift type: decision, signal, or latency")),
			mcplib.WithString("severity", mcplib.Description("Filter by severity: low, medium, or high")),
			mcplib.WithBoolean("unresolved_only", mcplib.Description("Only return events without a resolution")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return (default 20)")),
		),
		s.handleListDrift,
	)

	// drift_summary — aggregate view over a trailing period.
	s.mcpServer.AddTool(
		mcplib.NewTool("drift_summary",
			mcplib.WithDescription("Summarize drift activity over the last N days: totals by severity and type, number of affected agents"),
			mcplib.WithString("environment", mcplib.Description("Filter by environment")),
			mcplib.WithNumber("days", mcplib.Description("Trailing window in days (default 7)")),
		),
		s.handleDriftSummary,
	)

	// get_active_baseline — the current comparison reference for an agent.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_active_baseline",
			mcplib.WithDescription("Fetch the active behavior baseline for an agent version in an environment"),
			mcplib.WithString("agent_id", mcplib.Description("Agent identifier"), mcplib.Required()),
			mcplib.WithString("agent_version", mcplib.Description("Agent version"), mcplib.Required()),
			mcplib.WithString("environment", mcplib.Description("Environment (default production)")),
		),
		s.handleGetActiveBaseline,
	)

	// build_profile — preview a behavior profile without persisting it.
	s.mcpServer.AddTool(
		mcplib.NewTool("build_profile",
			mcplib.WithDescription("Compute a behavior profile preview (distributions and latency percentiles) over a time window without storing it"),
			mcplib.WithString("agent_id", mcplib.Description("Agent identifier"), mcplib.Required()),
			mcplib.WithString("agent_version", mcplib.Description("Agent version"), mcplib.Required()),
			mcplib.WithString("environment", mcplib.Description("Environment (default production)")),
			mcplib.WithString("window_start", mcplib.Description("Window start, RFC3339"), mcplib.Required()),
			mcplib.WithString("window_end", mcplib.Description("Window end, RFC3339"), mcplib.Required()),
			mcplib.WithNumber("min_sample_size", mcplib.Description("Minimum run count (default from server config)")),
		),
		s.handleBuildProfile,
	)
}

func (s *Server) handleListDrift(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	f := model.DriftFilters{
		AgentID:     request.GetString("agent_id", ""),
		Environment: request.GetString("environment", ""),
		DriftType:   request.GetString("drift_type", ""),
		Severity:    request.GetString("severity", ""),
	}
	if request.GetBool("unresolved_only", false) {
		resolved := false
		f.Resolved = &resolved
	}
	limit := request.GetInt("limit", 20)

	events, total, err := s.driftSvc.List(ctx, f, limit, 0)
	if err != nil {
		return errorResult(fmt.Sprintf("list drift failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"events": events,
		"total":  total,
	})
}

func (s *Server) handleDriftSummary(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	days := request.GetInt("days", 7)
	if days < 1 {
		return errorResult("days must be positive"), nil
	}

	summary, err := s.driftSvc.Summary(ctx, request.GetString("environment", ""), days)
	if err != nil {
		return errorResult(fmt.Sprintf("drift summary failed: %v", err)), nil
	}

	return jsonResult(summary)
}

func (s *Server) handleGetActiveBaseline(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	agentVersion := request.GetString("agent_version", "")
	if agentID == "" || agentVersion == "" {
		return errorResult("agent_id and agent_version are required"), nil
	}
	environment := request.GetString("environment", model.DefaultEnvironment)

	b, err := s.baselineSvc.GetActive(ctx, agentID, agentVersion, environment)
	if err != nil {
		return errorResult(fmt.Sprintf("active baseline lookup failed: %v", err)), nil
	}

	return jsonResult(b)
}

func (s *Server) handleBuildProfile(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	windowStart, err := time.Parse(time.RFC3339, request.GetString("window_start", ""))
	if err != nil {
		return errorResult("window_start must be RFC3339"), nil
	}
	windowEnd, err := time.Parse(time.RFC3339, request.GetString("window_end", ""))
	if err != nil {
		return errorResult("window_end must be RFC3339"), nil
	}

	req := model.BuildProfileRequest{
		AgentID:       request.GetString("agent_id", ""),
		AgentVersion:  request.GetString("agent_version", ""),
		Environment:   request.GetString("environment", model.DefaultEnvironment),
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		MinSampleSize: request.GetInt("min_sample_size", 0),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	// Preview only: Build computes the profile without persisting it.
	p, err := s.profileSvc.Build(ctx, req)
	if err != nil {
		return errorResult(fmt.Sprintf("profile build failed: %v", err)), nil
	}

	return jsonResult(p)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

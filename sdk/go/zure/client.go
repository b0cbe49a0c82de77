package zure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Zure server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID identifies this agent for authentication.
	AgentID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Zure agent-behavior observability API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	agentID  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, AgentID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("zure: BaseURL is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("zure: AgentID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("zure: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		agentID:  cfg.AgentID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.AgentID, cfg.APIKey, httpClient),
	}, nil
}

// AgentID returns the agent identity this client authenticates as.
func (c *Client) AgentID() string {
	return c.agentID
}

// IngestRun submits one complete run. The payload is validated locally
// before the request is made, so privacy and vocabulary violations fail
// without a round trip. Ingestion is idempotent by run_id.
func (c *Client) IngestRun(ctx context.Context, req IngestRunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var resp Run
	if err := c.post(ctx, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun retrieves a run with its steps, failures, decisions, and signals.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*RunWithChildren, error) {
	var resp RunWithChildren
	if err := c.get(ctx, "/v1/runs/"+runID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRunsOptions are optional filters for ListRuns.
type ListRunsOptions struct {
	AgentID      string
	AgentVersion string
	Environment  string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// RunList is a page of runs.
type RunList struct {
	Runs    []Run
	Total   int
	HasMore bool
}

// ListRuns retrieves runs with structured filters and pagination.
func (c *Client) ListRuns(ctx context.Context, opts *ListRunsOptions) (*RunList, error) {
	params := url.Values{}
	if opts != nil {
		setIfNotEmpty(params, "agent_id", opts.AgentID)
		setIfNotEmpty(params, "agent_version", opts.AgentVersion)
		setIfNotEmpty(params, "environment", opts.Environment)
		setIfNotEmpty(params, "status", string(opts.Status))
		setIfNotZero(params, "start_time", opts.StartTime)
		setIfNotZero(params, "end_time", opts.EndTime)
		setPage(params, opts.Limit, opts.Offset)
	}

	var runs []Run
	total, hasMore, err := c.getList(ctx, withQuery("/v1/runs", params), &runs)
	if err != nil {
		return nil, err
	}
	return &RunList{Runs: runs, Total: total, HasMore: hasMore}, nil
}

// Stats retrieves aggregate run statistics, optionally filtered the same
// way as ListRuns (pagination fields are ignored).
func (c *Client) Stats(ctx context.Context, opts *ListRunsOptions) (*StatsResponse, error) {
	params := url.Values{}
	if opts != nil {
		setIfNotEmpty(params, "agent_id", opts.AgentID)
		setIfNotEmpty(params, "agent_version", opts.AgentVersion)
		setIfNotEmpty(params, "environment", opts.Environment)
		setIfNotEmpty(params, "status", string(opts.Status))
		setIfNotZero(params, "start_time", opts.StartTime)
		setIfNotZero(params, "end_time", opts.EndTime)
	}

	var resp StatsResponse
	if err := c.get(ctx, withQuery("/v1/stats", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Catalog retrieves the closed tag vocabularies accepted at the ingest
// boundary. The SDK validates against a built-in copy; this endpoint
// returns the server's authoritative version.
func (c *Client) Catalog(ctx context.Context) (*CatalogResponse, error) {
	var resp CatalogResponse
	if err := c.get(ctx, "/v1/catalog", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDriftOptions are optional filters for ListDrift.
type ListDriftOptions struct {
	AgentID      string
	AgentVersion string
	Environment  string
	DriftType    string
	Severity     string
	Resolved     *bool
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// DriftList is a page of drift events.
type DriftList struct {
	Events  []DriftEvent
	Total   int
	HasMore bool
}

// ListDrift retrieves detected drift events, optionally filtered.
func (c *Client) ListDrift(ctx context.Context, opts *ListDriftOptions) (*DriftList, error) {
	params := url.Values{}
	if opts != nil {
		setIfNotEmpty(params, "agent_id", opts.AgentID)
		setIfNotEmpty(params, "agent_version", opts.AgentVersion)
		setIfNotEmpty(params, "environment", opts.Environment)
		setIfNotEmpty(params, "drift_type", opts.DriftType)
		setIfNotEmpty(params, "severity", opts.Severity)
		if opts.Resolved != nil {
			params.Set("resolved", strconv.FormatBool(*opts.Resolved))
		}
		setIfNotZero(params, "start_time", opts.StartTime)
		setIfNotZero(params, "end_time", opts.EndTime)
		setPage(params, opts.Limit, opts.Offset)
	}

	var events []DriftEvent
	total, hasMore, err := c.getList(ctx, withQuery("/v1/drift", params), &events)
	if err != nil {
		return nil, err
	}
	return &DriftList{Events: events, Total: total, HasMore: hasMore}, nil
}

// GetDrift retrieves a single drift event.
func (c *Client) GetDrift(ctx context.Context, driftID uuid.UUID) (*DriftEvent, error) {
	var resp DriftEvent
	if err := c.get(ctx, "/v1/drift/"+driftID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DriftSummary aggregates drift activity over the trailing number of days
// (default 7), optionally scoped to one environment.
func (c *Client) DriftSummary(ctx context.Context, environment string, days int) (*DriftSummary, error) {
	params := url.Values{}
	setIfNotEmpty(params, "environment", environment)
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}

	var resp DriftSummary
	if err := c.get(ctx, withQuery("/v1/drift/summary", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetActiveBaseline retrieves the active baseline for an agent version.
// environment defaults to "production" server-side when empty.
func (c *Client) GetActiveBaseline(ctx context.Context, agentID, agentVersion, environment string) (*Baseline, error) {
	params := url.Values{}
	params.Set("agent_id", agentID)
	params.Set("agent_version", agentVersion)
	setIfNotEmpty(params, "environment", environment)

	var resp Baseline
	if err := c.get(ctx, withQuery("/v1/drift/baselines/active", params), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Query-string helpers
// ---------------------------------------------------------------------------

func setIfNotEmpty(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func setIfNotZero(params url.Values, key string, t time.Time) {
	if !t.IsZero() {
		params.Set(key, t.UTC().Format(time.RFC3339))
	}
}

func setPage(params url.Values, limit, offset int) {
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// listEnvelope is the server's paginated response wrapper.
type listEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("zure: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("zure: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("zure: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

// getList fetches a paginated endpoint and decodes the data page into dest,
// returning the total count and whether more pages remain.
func (c *Client) getList(ctx context.Context, path string, dest any) (total int, hasMore bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, false, fmt.Errorf("zure: create request: %w", err)
	}

	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("zure: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false, fmt.Errorf("zure: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return 0, false, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	var envelope listEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return 0, false, fmt.Errorf("zure: decode response envelope: %w", err)
	}
	if envelope.Data != nil {
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return 0, false, fmt.Errorf("zure: decode response data: %w", err)
		}
	}
	return envelope.Total, envelope.HasMore, nil
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("zure: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("zure: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("zure: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zure: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("zure: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

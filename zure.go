// Package zure is the public API for embedding the Zure agent-behavior
// observability server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := zure.New(
//	    zure.WithVersion(version),
//	    zure.WithLogger(logger),
//	    zure.WithAlertSink(myTicketingSink{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: zure (root) imports
// internal/*, but internal/* never imports zure (root). Public types (Alert,
// AlertSink) are standalone; the conversion from internal alert messages to
// the public Alert lives here because this is the only file that sees both
// sides of the boundary.
package zure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/zure/internal/auth"
	"github.com/ashita-ai/zure/internal/config"
	"github.com/ashita-ai/zure/internal/mcp"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/ratelimit"
	"github.com/ashita-ai/zure/internal/server"
	"github.com/ashita-ai/zure/internal/service/alert"
	"github.com/ashita-ai/zure/internal/service/baseline"
	"github.com/ashita-ai/zure/internal/service/drift"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
	"github.com/ashita-ai/zure/internal/telemetry"
	"github.com/ashita-ai/zure/migrations"
)

// App is the Zure server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	baselineSvc  *baseline.Service
	driftSvc     *drift.Service
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Zure server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("zure starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	// Run embedded migrations, then any extra filesystems.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Drift thresholds (defaults merged under the optional YAML override).
	thresholds, err := config.LoadThresholds(cfg.ThresholdsPath)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Auth: JWT manager plus the static API keyring for token exchange.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	keyring, err := auth.ParseKeyring(cfg.APIKeys)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	if keyring.Empty() {
		logger.Warn("no API keys configured — POST /auth/token will reject all credentials (set ZURE_API_KEYS)")
	}

	// Services.
	profileSvc := profile.New(db, cfg.MinSampleSize, logger)
	baselineSvc := baseline.New(db, logger)

	emitter := alert.New(buildSinks(cfg, o.alertSinks, logger), cfg.AlertDeliveryTimeout, logger)
	driftSvc := drift.New(db, profileSvc, emitter, thresholds, logger)

	// MCP server (optional read-only tool surface, mounted at /mcp).
	var mcpSrv *mcp.Server
	if cfg.MCPEnabled {
		mcpSrv = mcp.New(profileSvc, baselineSvc, driftSvc, logger)
		logger.Info("mcp: enabled")
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Keyring:             keyring,
		ProfileSvc:          profileSvc,
		BaselineSvc:         baselineSvc,
		DriftSvc:            driftSvc,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	}
	if mcpSrv != nil {
		srvCfg.MCPServer = mcpSrv.MCPServer()
	}
	srv := server.New(srvCfg)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		baselineSvc:  baselineSvc,
		driftSvc:     driftSvc,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background detection loop and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return, Shutdown
// is called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.DetectInterval > 0 {
		go a.detectLoop(ctx)
	} else {
		a.logger.Info("scheduled drift detection: disabled (ZURE_DETECT_INTERVAL=0)")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the rate limiter,
// OTEL providers, and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("zure shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("zure stopped")
	return nil
}

// detectLoop runs scheduled drift detection: every DetectInterval it walks
// all active baselines and detects over the trailing DetectWindow. Windows
// with too few runs are skipped silently — a quiet agent is not an error.
func (a *App) detectLoop(ctx context.Context) {
	a.logger.Info("scheduled drift detection: enabled",
		"interval", a.cfg.DetectInterval, "window", a.cfg.DetectWindow)

	ticker := time.NewTicker(a.cfg.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, a.cfg.DetectInterval)
			a.detectPass(opCtx)
			cancel()
		}
	}
}

// detectPass runs one detection sweep over every active baseline.
func (a *App) detectPass(ctx context.Context) {
	active := true
	filters := model.BaselineFilters{IsActive: &active}
	windowEnd := time.Now().UTC()
	windowStart := windowEnd.Add(-a.cfg.DetectWindow)

	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		baselines, total, err := a.baselineSvc.List(ctx, filters, pageSize, offset)
		if err != nil {
			a.logger.Warn("detection sweep: list baselines failed", "error", err)
			return
		}

		for _, b := range baselines {
			events, err := a.driftSvc.Detect(ctx, model.DetectDriftRequest{
				BaselineID:  b.BaselineID,
				WindowStart: windowStart,
				WindowEnd:   windowEnd,
			})
			switch {
			case err != nil && model.CodeOf(err) == model.ErrCodeInsufficientData:
				a.logger.Debug("detection sweep: window below minimum sample size",
					"baseline_id", b.BaselineID, "agent_id", b.AgentID)
			case err != nil:
				a.logger.Warn("detection sweep: detect failed",
					"baseline_id", b.BaselineID, "agent_id", b.AgentID, "error", err)
			case len(events) > 0:
				a.logger.Info("detection sweep: drift detected",
					"baseline_id", b.BaselineID, "agent_id", b.AgentID, "events", len(events))
			}
		}

		if offset+pageSize >= total {
			return
		}
	}
}

// buildSinks assembles the configured alert sinks plus any registered via
// WithAlertSink.
func buildSinks(cfg config.Config, custom []AlertSink, logger *slog.Logger) []alert.Sink {
	var sinks []alert.Sink

	if cfg.SlackToken != "" {
		sinks = append(sinks, alert.NewSlackSink(cfg.SlackToken, cfg.SlackChannel))
		logger.Info("alert sink: slack", "channel", cfg.SlackChannel)
	}
	if cfg.PagerDutyRoutingKey != "" {
		sinks = append(sinks, alert.NewPagerDutySink(cfg.PagerDutyRoutingKey, nil))
		logger.Info("alert sink: pagerduty")
	}
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.AlertWebhookURL, nil))
		logger.Info("alert sink: webhook", "url", cfg.AlertWebhookURL)
	}
	for _, s := range custom {
		sinks = append(sinks, &sinkAdapter{sink: s})
		logger.Info("alert sink: custom", "name", s.Name())
	}
	if len(sinks) == 0 {
		logger.Info("alert sinks: none configured (drift events are logged only)")
	}
	return sinks
}

// sinkAdapter wraps a public AlertSink to satisfy the internal alert.Sink.
// It converts internal messages to public Alerts at the boundary.
type sinkAdapter struct {
	sink AlertSink
}

func (a *sinkAdapter) Name() string { return a.sink.Name() }

func (a *sinkAdapter) Deliver(ctx context.Context, msg alert.Message) error {
	return a.sink.Deliver(ctx, toPublicAlert(msg))
}

// toPublicAlert converts an internal alert message to the public Alert.
// Lives here because this is the only file that imports both sides of the
// boundary.
func toPublicAlert(msg alert.Message) Alert {
	d := msg.Drift
	return Alert{
		DriftID:       d.DriftID,
		AgentID:       d.AgentID,
		AgentVersion:  d.AgentVersion,
		Environment:   d.Environment,
		DriftType:     string(d.DriftType),
		Metric:        d.Metric,
		BaselineValue: d.BaselineValue,
		ObservedValue: d.ObservedValue,
		Delta:         d.Delta,
		DeltaPercent:  d.DeltaPercent,
		Significance:  d.Significance,
		Severity:      string(d.Severity),
		DetectedAt:    d.DetectedAt,
		Summary:       msg.Summary,
		Text:          msg.Text,
	}
}

// Package drift compares observed behavior profiles against active baselines
// and records statistically significant changes as drift events.
//
// The engine reports change, never quality: a drift event says a metric
// moved, not that the agent got better or worse. Distribution dimensions are
// tested with a chi-square goodness-of-fit; latency dimensions use a plain
// percent threshold.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ashita-ai/zure/internal/config"
	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/service/profile"
	"github.com/ashita-ai/zure/internal/storage"
	"github.com/ashita-ai/zure/internal/telemetry"
)

var meter = telemetry.Meter("zure/drift")

// probabilityScale converts distribution probabilities to pseudo-counts for
// the chi-square test.
const probabilityScale = 1000.0

// Store is the storage surface the engine needs.
type Store interface {
	GetBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error)
	GetProfile(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error)
	InsertDriftEvents(ctx context.Context, events []model.BehaviorDrift) error
	GetDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error)
	ListDrift(ctx context.Context, f model.DriftFilters, limit, offset int) ([]model.BehaviorDrift, int, error)
	ResolveDrift(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error)
	DriftTimeline(ctx context.Context, f model.DriftFilters) ([]model.DriftTimelinePoint, error)
	DriftSummary(ctx context.Context, environment string, cutoff time.Time) (model.DriftSummary, error)
}

// Builder computes the observed profile for the detection window.
type Builder interface {
	Build(ctx context.Context, req model.BuildProfileRequest) (model.BehaviorProfile, error)
}

// Notifier receives persisted drift events for best-effort alerting.
// Delivery failures never affect detection.
type Notifier interface {
	Notify(ctx context.Context, events []model.BehaviorDrift)
}

// Service is the drift detection engine. Thresholds are fixed at
// construction; the engine itself is stateless and safe for concurrent use.
type Service struct {
	store      Store
	builder    Builder
	notifier   Notifier
	thresholds config.Thresholds
	logger     *slog.Logger
}

// New creates a drift engine. notifier may be nil when no alert sinks are
// configured.
func New(store Store, builder Builder, notifier Notifier, thresholds config.Thresholds, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		builder:    builder,
		notifier:   notifier,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Detect builds the observed profile for [windowStart, windowEnd), compares
// it against the baseline's reference profile along every dimension, and
// persists all resulting drift events in one transaction. The returned slice
// is deterministically ordered (decision, signal, latency; tags and options
// sorted) and every event shares one detected_at timestamp.
func (s *Service) Detect(ctx context.Context, req model.DetectDriftRequest) ([]model.BehaviorDrift, error) {
	start := time.Now()
	defer func() {
		if hist, err := meter.Float64Histogram("zure.detect.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()

	b, err := s.store.GetBaseline(ctx, req.BaselineID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.NewError(model.ErrCodeBaselineNotFound, "baseline %s does not exist", req.BaselineID)
		}
		return nil, err
	}

	observed, err := s.builder.Build(ctx, model.BuildProfileRequest{
		AgentID:       b.AgentID,
		AgentVersion:  b.AgentVersion,
		Environment:   b.Environment,
		WindowStart:   req.WindowStart,
		WindowEnd:     req.WindowEnd,
		MinSampleSize: req.MinSampleSize,
	})
	if err != nil {
		return nil, err
	}

	reference, err := s.store.GetProfile(ctx, b.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("drift: load baseline profile %s: %w", b.ProfileID, err)
	}

	detectedAt := time.Now().UTC()
	events := s.Compare(b, reference, observed, detectedAt)

	if len(events) > 0 {
		if err := s.store.InsertDriftEvents(ctx, events); err != nil {
			return nil, err
		}
		if counter, err := meter.Int64Counter("zure.drift.events"); err == nil {
			counter.Add(ctx, int64(len(events)), otelmetric.WithAttributes(
				attribute.String("zure.agent_id", b.AgentID),
				attribute.String("zure.environment", b.Environment),
			))
		}
	}

	s.logger.Info("drift detection complete",
		"baseline_id", b.BaselineID,
		"agent_id", b.AgentID,
		"agent_version", b.AgentVersion,
		"environment", b.Environment,
		"observed_sample_size", observed.SampleSize,
		"events", len(events),
	)

	if s.notifier != nil && len(events) > 0 {
		s.notifier.Notify(ctx, events)
	}
	return events, nil
}

// Compare runs all per-dimension comparisons without touching the store.
// Exposed separately so detection logic is testable as a pure function.
func (s *Service) Compare(b model.BehaviorBaseline, reference, observed model.BehaviorProfile, detectedAt time.Time) []model.BehaviorDrift {
	var events []model.BehaviorDrift
	events = append(events, s.compareDistributions(b, observed, reference.DecisionDistributions, observed.DecisionDistributions, model.DriftTypeDecision, s.thresholds.Decision, detectedAt)...)
	events = append(events, s.compareDistributions(b, observed, reference.SignalDistributions, observed.SignalDistributions, model.DriftTypeSignal, s.thresholds.Signal, detectedAt)...)
	events = append(events, s.compareLatency(b, observed, reference.LatencyStats, observed.LatencyStats, detectedAt)...)
	return events
}

// compareDistributions tests each tag present and non-empty in both profiles:
// one chi-square over the union of options, then one potential drift event
// per option that clears the significance gates.
func (s *Service) compareDistributions(b model.BehaviorBaseline, observed model.BehaviorProfile, baselineDists, observedDists model.Distributions, driftType model.DriftType, gate config.DriftGate, detectedAt time.Time) []model.BehaviorDrift {
	var events []model.BehaviorDrift
	for _, tag := range sortedTags(baselineDists) {
		baseDist := baselineDists[tag]
		obsDist := observedDists[tag]
		if len(baseDist) == 0 || len(obsDist) == 0 {
			continue
		}

		pValue := chiSquarePValue(baseDist, obsDist)

		for _, option := range unionOptions(baseDist, obsDist) {
			baseVal := baseDist[option]
			obsVal := obsDist[option]
			delta := obsVal - baseVal
			deltaPercent := 0.0
			if baseVal > 0 {
				deltaPercent = delta / baseVal * 100
			}
			if !isSignificant(pValue, math.Abs(deltaPercent), gate) {
				continue
			}
			events = append(events, model.BehaviorDrift{
				DriftID:                uuid.New(),
				BaselineID:             b.BaselineID,
				AgentID:                b.AgentID,
				AgentVersion:           b.AgentVersion,
				Environment:            b.Environment,
				DriftType:              driftType,
				Metric:                 tag + "." + option,
				BaselineValue:          baseVal,
				ObservedValue:          obsVal,
				Delta:                  delta,
				DeltaPercent:           deltaPercent,
				Significance:           pValue,
				TestMethod:             model.TestMethodChiSquare,
				Severity:               s.severity(math.Abs(deltaPercent)),
				DetectedAt:             detectedAt,
				ObservationWindowStart: observed.WindowStart,
				ObservationWindowEnd:   observed.WindowEnd,
				ObservationSampleSize:  observed.SampleSize,
			})
		}
	}
	return events
}

// compareLatency applies the percent threshold to the mean and p95 run
// durations. Zero on either side means the dimension is skipped: there is no
// meaningful percent change from or to nothing.
func (s *Service) compareLatency(b model.BehaviorBaseline, observed model.BehaviorProfile, baseline, current model.LatencyStats, detectedAt time.Time) []model.BehaviorDrift {
	metrics := []struct {
		name     string
		baseline float64
		observed float64
	}{
		{"mean_run_duration_ms", baseline.MeanRunDurationMS, current.MeanRunDurationMS},
		{"p95_run_duration_ms", baseline.P95RunDurationMS, current.P95RunDurationMS},
	}

	var events []model.BehaviorDrift
	for _, m := range metrics {
		if m.baseline <= 0 || m.observed <= 0 {
			continue
		}
		delta := m.observed - m.baseline
		deltaPercent := delta / m.baseline * 100
		if !isSignificant(1.0, math.Abs(deltaPercent), s.thresholds.Latency) {
			continue
		}
		events = append(events, model.BehaviorDrift{
			DriftID:                uuid.New(),
			BaselineID:             b.BaselineID,
			AgentID:                b.AgentID,
			AgentVersion:           b.AgentVersion,
			Environment:            b.Environment,
			DriftType:              model.DriftTypeLatency,
			Metric:                 m.name,
			BaselineValue:          m.baseline,
			ObservedValue:          m.observed,
			Delta:                  delta,
			DeltaPercent:           deltaPercent,
			Significance:           1.0,
			TestMethod:             model.TestMethodPercentThreshold,
			Severity:               s.severity(math.Abs(deltaPercent)),
			DetectedAt:             detectedAt,
			ObservationWindowStart: observed.WindowStart,
			ObservationWindowEnd:   observed.WindowEnd,
			ObservationSampleSize:  observed.SampleSize,
		})
	}
	return events
}

// severity bands change magnitude only. Whether a change is good or bad is
// not this system's call.
func (s *Service) severity(absDeltaPercent float64) model.Severity {
	switch {
	case absDeltaPercent <= s.thresholds.Severity.Low:
		return model.SeverityLow
	case absDeltaPercent <= s.thresholds.Severity.Medium:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// isSignificant applies the two gates: the p-value ceiling (skipped when
// p == 1.0, meaning no statistical test ran) and the minimum absolute
// percent change.
func isSignificant(pValue, absDeltaPercent float64, gate config.DriftGate) bool {
	if pValue < 1.0 && pValue > gate.PValue {
		return false
	}
	return absDeltaPercent >= gate.MinDeltaPercent
}

// chiSquarePValue runs a goodness-of-fit test over the union of options,
// treating baseline probabilities scaled by probabilityScale as expected
// frequencies. Fewer than two categories, a zero expected frequency, or a
// non-finite statistic yield p = 1.0 ("no test").
func chiSquarePValue(baseline, observed map[string]float64) float64 {
	options := unionOptions(baseline, observed)
	if len(options) < 2 {
		return 1.0
	}

	stat := 0.0
	for _, option := range options {
		expected := baseline[option] * probabilityScale
		got := observed[option] * probabilityScale
		if expected <= 0 {
			// An option never seen in the baseline makes the statistic
			// blow up toward infinity (p→0). Report p=1.0 instead: a
			// brand-new option is surfaced by the delta gates, not by a
			// significance value the test cannot meaningfully compute.
			return 1.0
		}
		diff := got - expected
		stat += diff * diff / expected
	}
	if math.IsNaN(stat) || math.IsInf(stat, 0) {
		return 1.0
	}

	dist := distuv.ChiSquared{K: float64(len(options) - 1)}
	p := dist.Survival(stat)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 1.0
	}
	return p
}

func sortedTags(dists model.Distributions) []string {
	tags := make([]string, 0, len(dists))
	for tag := range dists {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func unionOptions(a, b map[string]float64) []string {
	seen := map[string]bool{}
	for opt := range a {
		seen[opt] = true
	}
	for opt := range b {
		seen[opt] = true
	}
	options := make([]string, 0, len(seen))
	for opt := range seen {
		options = append(options, opt)
	}
	sort.Strings(options)
	return options
}

// Get returns one drift event by id.
func (s *Service) Get(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	d, err := s.store.GetDrift(ctx, driftID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.BehaviorDrift{}, model.NewError(model.ErrCodeNotFound, "drift event %s does not exist", driftID)
		}
		return model.BehaviorDrift{}, err
	}
	return d, nil
}

// List returns drift events matching the filters, newest first.
func (s *Service) List(ctx context.Context, f model.DriftFilters, limit, offset int) ([]model.BehaviorDrift, int, error) {
	return s.store.ListDrift(ctx, f, limit, offset)
}

// Resolve stamps resolved_at on an unresolved drift event. Resolving twice
// fails with INTEGRITY_CONFLICT.
func (s *Service) Resolve(ctx context.Context, driftID uuid.UUID) (model.BehaviorDrift, error) {
	d, err := s.store.ResolveDrift(ctx, driftID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return model.BehaviorDrift{}, model.NewError(model.ErrCodeNotFound, "drift event %s does not exist", driftID)
		case errors.Is(err, storage.ErrConflict):
			return model.BehaviorDrift{}, model.NewError(model.ErrCodeIntegrityConflict, "drift event %s is already resolved", driftID)
		default:
			return model.BehaviorDrift{}, err
		}
	}
	s.logger.Info("drift event resolved", "drift_id", d.DriftID, "metric", d.Metric)
	return d, nil
}

// Timeline returns chartable drift points for one agent.
func (s *Service) Timeline(ctx context.Context, f model.DriftFilters) (model.DriftTimeline, error) {
	points, err := s.store.DriftTimeline(ctx, f)
	if err != nil {
		return model.DriftTimeline{}, err
	}
	tl := model.DriftTimeline{
		AgentID:      f.AgentID,
		AgentVersion: orAll(f.AgentVersion),
		Environment:  orAll(f.Environment),
		Timeline:     points,
	}
	if tl.Timeline == nil {
		tl.Timeline = []model.DriftTimelinePoint{}
	}
	return tl, nil
}

// Summary aggregates drift activity over the trailing number of days.
func (s *Service) Summary(ctx context.Context, environment string, days int) (model.DriftSummary, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.DriftSummary(ctx, environment, cutoff)
}

func orAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}

var _ Builder = (*profile.Service)(nil)

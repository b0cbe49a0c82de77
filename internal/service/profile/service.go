// Package profile builds statistical behavior profiles from stored decision
// and quality-signal events.
//
// A profile is a pure function of its window: the builder reads the store,
// normalizes grouped counts into probability distributions, and computes
// nearest-rank latency percentiles. Rebuilding over an unchanged store yields
// identical results. The builder never reads prompts, responses, or any other
// free text; it aggregates structured tags and timestamps only.
package profile

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/zure/internal/model"
)

// DefaultMinSampleSize is the run-count floor applied when a request does not
// override it.
const DefaultMinSampleSize = 100

// Store is the slice of the event store the builder reads from and the
// profile persistence it writes through.
type Store interface {
	CountRuns(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (int, error)
	DecisionCounts(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (map[string]map[string]int, error)
	SignalCounts(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) (map[string]map[string]int, error)
	RunDurationsMS(ctx context.Context, agentID, agentVersion, environment string, windowStart, windowEnd time.Time) ([]float64, error)
	CreateProfile(ctx context.Context, p model.BehaviorProfile) (model.BehaviorProfile, error)
	GetProfile(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error)
	ListProfiles(ctx context.Context, f model.ProfileFilters, limit, offset int) ([]model.BehaviorProfile, int, error)
}

// Service aggregates raw events into behavior profiles.
type Service struct {
	store  Store
	logger *slog.Logger

	minSampleSize int
}

// New creates a profile Service. minSampleSize of 0 selects
// DefaultMinSampleSize.
func New(store Store, minSampleSize int, logger *slog.Logger) *Service {
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &Service{
		store:         store,
		logger:        logger,
		minSampleSize: minSampleSize,
	}
}

// Build computes the behavior profile for one agent key over the half-open
// window [window_start, window_end) without persisting it. Fails with
// INSUFFICIENT_DATA when the window holds fewer runs than the minimum sample
// size.
func (s *Service) Build(ctx context.Context, req model.BuildProfileRequest) (model.BehaviorProfile, error) {
	minSample := req.MinSampleSize
	if minSample <= 0 {
		minSample = s.minSampleSize
	}

	sampleSize, err := s.store.CountRuns(ctx, req.AgentID, req.AgentVersion, req.Environment, req.WindowStart, req.WindowEnd)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	if sampleSize < minSample {
		return model.BehaviorProfile{}, model.NewError(model.ErrCodeInsufficientData,
			"window holds %d runs, need at least %d", sampleSize, minSample)
	}

	decisionCounts, err := s.store.DecisionCounts(ctx, req.AgentID, req.AgentVersion, req.Environment, req.WindowStart, req.WindowEnd)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	signalCounts, err := s.store.SignalCounts(ctx, req.AgentID, req.AgentVersion, req.Environment, req.WindowStart, req.WindowEnd)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	durations, err := s.store.RunDurationsMS(ctx, req.AgentID, req.AgentVersion, req.Environment, req.WindowStart, req.WindowEnd)
	if err != nil {
		return model.BehaviorProfile{}, err
	}

	return model.BehaviorProfile{
		ProfileID:             uuid.New(),
		AgentID:               req.AgentID,
		AgentVersion:          req.AgentVersion,
		Environment:           req.Environment,
		WindowStart:           req.WindowStart,
		WindowEnd:             req.WindowEnd,
		SampleSize:            sampleSize,
		DecisionDistributions: Normalize(decisionCounts),
		SignalDistributions:   Normalize(signalCounts),
		LatencyStats:          ComputeLatencyStats(durations),
		CreatedAt:             time.Now().UTC(),
	}, nil
}

// BuildAndStore builds the profile and persists it in one call, as used by
// the HTTP surface and the detection loop.
func (s *Service) BuildAndStore(ctx context.Context, req model.BuildProfileRequest) (model.BehaviorProfile, error) {
	p, err := s.Build(ctx, req)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	stored, err := s.store.CreateProfile(ctx, p)
	if err != nil {
		return model.BehaviorProfile{}, err
	}
	s.logger.Info("profile built",
		"profile_id", stored.ProfileID,
		"agent_id", stored.AgentID,
		"agent_version", stored.AgentVersion,
		"environment", stored.Environment,
		"sample_size", stored.SampleSize,
	)
	return stored, nil
}

// Get returns one stored profile by id.
func (s *Service) Get(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error) {
	return s.store.GetProfile(ctx, profileID)
}

// List returns stored profiles matching the filters, newest first.
func (s *Service) List(ctx context.Context, f model.ProfileFilters, limit, offset int) ([]model.BehaviorProfile, int, error) {
	return s.store.ListProfiles(ctx, f, limit, offset)
}

// Normalize turns grouped counts into per-tag probability distributions.
// For every tag the inner values sum to 1.0; tags whose counts sum to zero
// are omitted entirely so empty distributions never reach the drift tests.
func Normalize(counts map[string]map[string]int) model.Distributions {
	dists := model.Distributions{}
	for tag, options := range counts {
		total := 0
		for _, c := range options {
			total += c
		}
		if total == 0 {
			continue
		}
		inner := make(map[string]float64, len(options))
		for option, c := range options {
			inner[option] = float64(c) / float64(total)
		}
		dists[tag] = inner
	}
	return dists
}

// ComputeLatencyStats computes mean and nearest-rank percentiles over run
// durations in milliseconds. The input need not be sorted. With no samples
// all stats are zero; with one sample every percentile equals it. Values are
// rounded to 0.01 ms.
func ComputeLatencyStats(durations []float64) model.LatencyStats {
	n := len(durations)
	if n == 0 {
		return model.LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, durations)
	sort.Float64s(sorted)

	sum := 0.0
	for _, d := range sorted {
		sum += d
	}

	return model.LatencyStats{
		MeanRunDurationMS: round2(sum / float64(n)),
		P50RunDurationMS:  round2(nearestRank(sorted, 0.50)),
		P95RunDurationMS:  round2(nearestRank(sorted, 0.95)),
		P99RunDurationMS:  round2(nearestRank(sorted, 0.99)),
		SampleCount:       n,
	}
}

// nearestRank picks the percentile value at index floor(n*p), clamped to the
// last element. No interpolation: determinism across rebuilds matters more
// than smoothness here.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

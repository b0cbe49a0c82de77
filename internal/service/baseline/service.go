// Package baseline manages the promotion of behavior profiles to immutable
// drift baselines: create, approve, and the activate/deactivate state
// machine with its one-active-per-key invariant.
package baseline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/zure/internal/model"
	"github.com/ashita-ai/zure/internal/privacy"
	"github.com/ashita-ai/zure/internal/storage"
)

// Store is the storage surface the manager needs.
type Store interface {
	CreateBaseline(ctx context.Context, b model.BehaviorBaseline, autoActivate bool) (model.BehaviorBaseline, error)
	ActivateBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error)
	DeactivateBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error)
	ApproveBaseline(ctx context.Context, baselineID uuid.UUID, approvedBy string) (model.BehaviorBaseline, error)
	GetBaseline(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error)
	GetActiveBaseline(ctx context.Context, agentID, agentVersion, environment string) (model.BehaviorBaseline, error)
	ListBaselines(ctx context.Context, f model.BaselineFilters, limit, offset int) ([]model.BehaviorBaseline, int, error)
	GetProfile(ctx context.Context, profileID uuid.UUID) (model.BehaviorProfile, error)
}

// Service is the baseline manager.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a baseline Service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create promotes a stored profile to a baseline. The baseline starts
// inactive unless auto_activate is set, in which case activation happens in
// the same transaction as the insert. The agent key defaults to the
// referenced profile's key when the request omits it.
func (s *Service) Create(ctx context.Context, req model.CreateBaselineRequest) (model.BehaviorBaseline, error) {
	if !req.BaselineType.Valid() {
		return model.BehaviorBaseline{}, model.NewError(model.ErrCodeInvalidBaselineType,
			"baseline_type %q is not one of version, time_window, manual", req.BaselineType)
	}
	if req.Description != nil {
		if err := privacy.CheckDescription(*req.Description); err != nil {
			return model.BehaviorBaseline{}, model.NewError(model.ErrCodeDescriptionRejected, "%v", err)
		}
	}

	p, err := s.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.BehaviorBaseline{}, model.NewError(model.ErrCodeNotFound,
				"profile %s does not exist", req.ProfileID)
		}
		return model.BehaviorBaseline{}, err
	}

	b := model.BehaviorBaseline{
		BaselineID:   uuid.New(),
		ProfileID:    req.ProfileID,
		AgentID:      firstNonEmpty(req.AgentID, p.AgentID),
		AgentVersion: firstNonEmpty(req.AgentVersion, p.AgentVersion),
		Environment:  firstNonEmpty(req.Environment, p.Environment),
		BaselineType: req.BaselineType,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if req.ApprovedBy != nil && *req.ApprovedBy != "" {
		now := time.Now().UTC()
		b.ApprovedBy = req.ApprovedBy
		b.ApprovedAt = &now
	}

	created, err := s.store.CreateBaseline(ctx, b, req.AutoActivate)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.BehaviorBaseline{}, model.NewError(model.ErrCodeBaselineExists,
				"profile %s already has a baseline", req.ProfileID)
		}
		return model.BehaviorBaseline{}, err
	}

	s.logger.Info("baseline created",
		"baseline_id", created.BaselineID,
		"profile_id", created.ProfileID,
		"agent_id", created.AgentID,
		"baseline_type", created.BaselineType,
		"active", created.IsActive,
	)
	return created, nil
}

// Activate makes the target the single active baseline for its agent key,
// deactivating any sibling in the same transaction. Activating the already
// active baseline is a no-op.
func (s *Service) Activate(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	b, err := s.store.ActivateBaseline(ctx, baselineID)
	if err != nil {
		return model.BehaviorBaseline{}, mapStoreErr(err, baselineID)
	}
	s.logger.Info("baseline activated", "baseline_id", b.BaselineID, "agent_id", b.AgentID, "agent_version", b.AgentVersion, "environment", b.Environment)
	return b, nil
}

// Deactivate clears the active flag; a no-op when already inactive.
func (s *Service) Deactivate(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	b, err := s.store.DeactivateBaseline(ctx, baselineID)
	if err != nil {
		return model.BehaviorBaseline{}, mapStoreErr(err, baselineID)
	}
	s.logger.Info("baseline deactivated", "baseline_id", b.BaselineID)
	return b, nil
}

// Approve records the approver identity and timestamp. Idempotent: a second
// approval overwrites the first.
func (s *Service) Approve(ctx context.Context, baselineID uuid.UUID, approvedBy string) (model.BehaviorBaseline, error) {
	if approvedBy == "" {
		return model.BehaviorBaseline{}, model.NewError(model.ErrCodeSchemaInvalid, "approved_by is required")
	}
	b, err := s.store.ApproveBaseline(ctx, baselineID, approvedBy)
	if err != nil {
		return model.BehaviorBaseline{}, mapStoreErr(err, baselineID)
	}
	s.logger.Info("baseline approved", "baseline_id", b.BaselineID, "approved_by", approvedBy)
	return b, nil
}

// Get returns one baseline by id.
func (s *Service) Get(ctx context.Context, baselineID uuid.UUID) (model.BehaviorBaseline, error) {
	b, err := s.store.GetBaseline(ctx, baselineID)
	if err != nil {
		return model.BehaviorBaseline{}, mapStoreErr(err, baselineID)
	}
	return b, nil
}

// GetActive returns the active baseline for an agent key, or
// BASELINE_NOT_FOUND when none is active.
func (s *Service) GetActive(ctx context.Context, agentID, agentVersion, environment string) (model.BehaviorBaseline, error) {
	b, err := s.store.GetActiveBaseline(ctx, agentID, agentVersion, environment)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.BehaviorBaseline{}, model.NewError(model.ErrCodeBaselineNotFound,
				"no active baseline for %s/%s/%s", agentID, agentVersion, environment)
		}
		return model.BehaviorBaseline{}, err
	}
	return b, nil
}

// List returns baselines matching the filters, newest first.
func (s *Service) List(ctx context.Context, f model.BaselineFilters, limit, offset int) ([]model.BehaviorBaseline, int, error) {
	return s.store.ListBaselines(ctx, f, limit, offset)
}

func mapStoreErr(err error, baselineID uuid.UUID) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.NewError(model.ErrCodeBaselineNotFound, "baseline %s does not exist", baselineID)
	case errors.Is(err, storage.ErrConflict):
		return model.NewError(model.ErrCodeIntegrityConflict, "baseline %s lost an activation race, retry", baselineID)
	default:
		return err
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

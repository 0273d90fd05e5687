// Package investigation implements optimistic locking over investigation
// records: every accepted update increments the version by exactly one and
// appends an audit transition in the same atomic write.
package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

// Update outcomes reported to metrics.
const (
	outcomeSuccess   = "success"
	outcomeConflict  = "conflict"
	outcomeForbidden = "forbidden"
	outcomeNotFound  = "not_found"
	outcomeInvalid   = "invalid"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
)

const retryBackoff = 10 * time.Millisecond

// CreateRequest describes a new investigation. An empty InvestigationID is
// replaced with a generated UUID.
type CreateRequest struct {
	InvestigationID string                         `json:"investigation_id"`
	UserID          string                         `json:"user_id" validate:"required"`
	Settings        *schemas.InvestigationSettings `json:"settings,omitempty"`
}

// Service is the optimistic locking service for investigations.
type Service struct {
	repo     schemas.InvestigationRepository
	cfg      config.LockingConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a Service. metrics may be nil.
func NewService(repo schemas.InvestigationRepository, cfg config.LockingConfig, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		cfg:      cfg,
		logger:   logger.Named("investigation"),
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new investigation at version 1. No transition is recorded
// for creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*schemas.InvestigationState, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	id := req.InvestigationID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	state := &schemas.InvestigationState{
		InvestigationID: id,
		UserID:          req.UserID,
		LifecycleStage:  schemas.StageCreated,
		Status:          schemas.InvestigationCreated,
		Settings:        req.Settings,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.repo.Create(wctx, state); err != nil {
		return nil, s.storageError("create", id, err)
	}
	s.logger.Info("Created investigation", zap.String("investigation_id", id), zap.String("user_id", req.UserID))
	return state, nil
}

// Get returns the investigation if userID may read it.
func (s *Service) Get(ctx context.Context, investigationID, userID string) (*schemas.InvestigationState, error) {
	state, err := s.load(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	if !s.authorized(state, userID) {
		return nil, fmt.Errorf("%w: user %q does not own investigation %s", ErrForbidden, userID, investigationID)
	}
	return state, nil
}

// Update applies payload to the investigation.
//
// With a non-nil expectedVersion the write succeeds only if the stored
// version still equals it; otherwise a *VersionConflictError carrying both
// versions is returned. Without one, a write that loses a race is retried
// against the fresh record up to the configured retry budget.
func (s *Service) Update(ctx context.Context, investigationID, userID string, payload schemas.UpdatePayload, expectedVersion *int64) (*schemas.InvestigationState, error) {
	start := time.Now()
	state, err := s.update(ctx, investigationID, userID, payload, expectedVersion)
	s.metrics.ObserveUpdate(outcomeOf(err), time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("investigation_id", investigationID),
		zap.String("user_id", userID),
	}
	if err != nil {
		s.logger.Info("Investigation update rejected", append(fields, zap.Error(err))...)
		return nil, err
	}
	s.logger.Info("Investigation updated", append(fields, zap.Int64("version", state.Version))...)
	return state, nil
}

func (s *Service) update(ctx context.Context, investigationID, userID string, payload schemas.UpdatePayload, expectedVersion *int64) (*schemas.InvestigationState, error) {
	if payload.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidPayload)
	}
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.metrics.ObserveRetry()
			if err := sleepCtx(ctx, time.Duration(attempt)*retryBackoff); err != nil {
				return nil, err
			}
		}

		current, err := s.load(ctx, investigationID)
		if err != nil {
			return nil, err
		}
		if !s.authorized(current, userID) {
			return nil, fmt.Errorf("%w: user %q does not own investigation %s", ErrForbidden, userID, investigationID)
		}
		if expectedVersion != nil && *expectedVersion != current.Version {
			return nil, &VersionConflictError{InvestigationID: investigationID, Expected: *expectedVersion, Current: current.Version}
		}

		now := s.now()
		next := applyPayload(current, payload)
		next.Version = current.Version + 1
		next.UpdatedAt = now

		changes := diffStates(current, next)
		transition := schemas.VersionTransition{
			ID:              uuid.NewString(),
			InvestigationID: investigationID,
			UserID:          userID,
			FromVersion:     current.Version,
			ToVersion:       next.Version,
			Changes:         changes,
			ActionType:      classifyAction(changes),
			Timestamp:       now,
		}

		swapped, err := s.compareAndSwap(ctx, next, current.Version, transition)
		if err != nil {
			return nil, s.storageError("update", investigationID, err)
		}
		if swapped {
			return next, nil
		}

		// Lost the race to a concurrent writer.
		latest := current.Version + 1
		if fresh, err := s.load(ctx, investigationID); err == nil {
			latest = fresh.Version
		}
		if expectedVersion != nil {
			return nil, &VersionConflictError{InvestigationID: investigationID, Expected: *expectedVersion, Current: latest}
		}
		if attempt >= s.cfg.MaxRetries {
			return nil, &VersionConflictError{InvestigationID: investigationID, Expected: current.Version, Current: latest}
		}
		s.logger.Debug("Optimistic write lost a race, retrying",
			zap.String("investigation_id", investigationID),
			zap.Int("attempt", attempt+1))
	}
}

func (s *Service) compareAndSwap(ctx context.Context, next *schemas.InvestigationState, expected int64, transition schemas.VersionTransition) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return s.repo.CompareAndSwap(wctx, next, expected, transition)
}

// History returns up to limit transitions, most recent first. A limit of
// zero or less selects the configured default; larger limits are capped.
func (s *Service) History(ctx context.Context, investigationID, userID string, limit int) ([]schemas.VersionTransition, error) {
	if _, err := s.Get(ctx, investigationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryDefaultLimit
	}
	limit = min(limit, s.cfg.HistoryMaxLimit)

	entries, err := s.repo.History(ctx, investigationID, limit)
	if err != nil {
		return nil, s.storageError("history", investigationID, err)
	}
	return entries, nil
}

// PublishResults records a completed scoring run on the investigation as the
// system actor. The write does not pin a version, so a lost race is retried.
func (s *Service) PublishResults(ctx context.Context, investigationID string, results *schemas.InvestigationResults) (*schemas.InvestigationState, error) {
	stage := schemas.StageCompleted
	status := schemas.InvestigationCompleted
	progress := &schemas.InvestigationProgress{PercentComplete: 100, CurrentPhase: "completed"}
	for _, d := range results.DomainResults {
		progress.CompletedDomains = append(progress.CompletedDomains, string(d.Name))
	}
	return s.Update(ctx, investigationID, s.cfg.SystemActor, schemas.UpdatePayload{
		LifecycleStage: &stage,
		Status:         &status,
		Progress:       progress,
		Results:        results,
	}, nil)
}

func (s *Service) load(ctx context.Context, investigationID string) (*schemas.InvestigationState, error) {
	state, err := s.repo.Get(ctx, investigationID)
	if errors.Is(err, schemas.ErrNotFound) {
		return nil, fmt.Errorf("investigation %s: %w", investigationID, ErrNotFound)
	}
	if err != nil {
		return nil, s.storageError("get", investigationID, err)
	}
	return state, nil
}

func (s *Service) authorized(state *schemas.InvestigationState, userID string) bool {
	if userID == "" {
		return false
	}
	return userID == state.UserID || userID == s.cfg.SystemActor
}

func (s *Service) storageError(op, investigationID string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s investigation %s: %w: %w", op, investigationID, ErrStorageTimeout, err)
	}
	return fmt.Errorf("%s investigation %s: %w", op, investigationID, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrVersionConflict):
		return outcomeConflict
	case errors.Is(err, ErrForbidden):
		return outcomeForbidden
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, ErrInvalidPayload):
		return outcomeInvalid
	case errors.Is(err, ErrStorageTimeout):
		return outcomeTimeout
	default:
		return outcomeError
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

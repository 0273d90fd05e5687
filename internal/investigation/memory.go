package investigation

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

// MemoryRepository is an in-process InvestigationRepository. The version
// check and audit append happen under one lock, which makes CompareAndSwap
// atomic within a single process only; multi-instance deployments use the
// Postgres store.
type MemoryRepository struct {
	mu      sync.RWMutex
	states  map[string]*schemas.InvestigationState
	history map[string][]schemas.VersionTransition
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states:  make(map[string]*schemas.InvestigationState),
		history: make(map[string][]schemas.VersionTransition),
	}
}

func (m *MemoryRepository) Create(ctx context.Context, state *schemas.InvestigationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[state.InvestigationID]; exists {
		return fmt.Errorf("%w: %s", schemas.ErrAlreadyExists, state.InvestigationID)
	}
	m.states[state.InvestigationID] = cloneState(state)
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, investigationID string) (*schemas.InvestigationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[investigationID]
	if !ok {
		return nil, schemas.ErrNotFound
	}
	return cloneState(state), nil
}

func (m *MemoryRepository) CompareAndSwap(ctx context.Context, next *schemas.InvestigationState, expectedVersion int64, transition schemas.VersionTransition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.states[next.InvestigationID]
	if !ok {
		return false, schemas.ErrNotFound
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	m.states[next.InvestigationID] = cloneState(next)
	m.history[next.InvestigationID] = append(m.history[next.InvestigationID], cloneTransition(transition))
	return true, nil
}

func (m *MemoryRepository) History(ctx context.Context, investigationID string, limit int) ([]schemas.VersionTransition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.states[investigationID]; !ok {
		return nil, schemas.ErrNotFound
	}
	entries := m.history[investigationID]
	out := make([]schemas.VersionTransition, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneTransition(entries[i]))
	}
	return out, nil
}

// cloneState deep-copies s so that neither callers nor the stored record
// can observe each other's mutations.
func cloneState(s *schemas.InvestigationState) *schemas.InvestigationState {
	out := *s
	if s.Settings != nil {
		settings := *s.Settings
		settings.Domains = slices.Clone(s.Settings.Domains)
		settings.TimeFrom = clonePtr(s.Settings.TimeFrom)
		settings.TimeTo = clonePtr(s.Settings.TimeTo)
		out.Settings = &settings
	}
	if s.Progress != nil {
		progress := *s.Progress
		progress.CompletedDomains = slices.Clone(s.Progress.CompletedDomains)
		out.Progress = &progress
	}
	if s.Results != nil {
		out.Results = cloneResults(s.Results)
	}
	return &out
}

func cloneResults(r *schemas.InvestigationResults) *schemas.InvestigationResults {
	out := *r
	out.Aggregation.FinalRisk = clonePtr(r.Aggregation.FinalRisk)
	out.Aggregation.Contributing = slices.Clone(r.Aggregation.Contributing)
	if r.DomainResults != nil {
		out.DomainResults = make([]schemas.DomainResult, len(r.DomainResults))
		for i, d := range r.DomainResults {
			out.DomainResults[i] = d.Clone()
		}
	}
	out.Findings = slices.Clone(r.Findings)
	return &out
}

func cloneTransition(t schemas.VersionTransition) schemas.VersionTransition {
	t.Changes = maps.Clone(t.Changes)
	return t
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

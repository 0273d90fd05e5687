package schemas

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by Create when the investigation ID is taken.
var ErrAlreadyExists = errors.New("investigation already exists")

// -- Store Interfaces --

// InvestigationRepository abstracts persistence of version-guarded
// investigation records. Implementations must make CompareAndSwap a single
// atomic conditional write: the record is replaced only if its stored version
// still equals expectedVersion, and the audit entry is durable before the
// call returns true.
type InvestigationRepository interface {
	// Create inserts a new investigation record.
	Create(ctx context.Context, state *InvestigationState) error
	// Get fetches an investigation, returning ErrNotFound if it is missing.
	Get(ctx context.Context, investigationID string) (*InvestigationState, error)
	// CompareAndSwap stores next if the stored version equals expectedVersion
	// and records the transition. It returns false, nil when the version no
	// longer matches.
	CompareAndSwap(ctx context.Context, next *InvestigationState, expectedVersion int64, transition VersionTransition) (bool, error)
	// History returns up to limit transitions, most recent first.
	History(ctx context.Context, investigationID string, limit int) ([]VersionTransition, error)
}

// FindingStore persists lint findings for runtime monitoring.
type FindingStore interface {
	PersistFindings(ctx context.Context, findings []LintFinding) error
}

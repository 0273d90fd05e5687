package investigation

import (
	"errors"
	"fmt"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

var (
	// ErrNotFound is returned when the investigation does not exist.
	ErrNotFound = schemas.ErrNotFound
	// ErrAlreadyExists is returned by Create for a taken investigation ID.
	ErrAlreadyExists = schemas.ErrAlreadyExists
	// ErrForbidden is returned when the caller does not own the investigation.
	ErrForbidden = errors.New("forbidden")
	// ErrVersionConflict matches every *VersionConflictError via errors.Is.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidVersionToken is returned for an unparseable If-Match value.
	ErrInvalidVersionToken = errors.New("invalid version token")
	// ErrInvalidPayload is returned when an update payload fails validation.
	ErrInvalidPayload = errors.New("invalid update payload")
	// ErrStorageTimeout is returned when the conditional write exceeds the
	// configured write timeout. No version increment has occurred.
	ErrStorageTimeout = errors.New("storage write timed out")
)

// VersionConflictError carries both versions so a caller can choose between
// retrying with fresh data and surfacing a merge conflict.
type VersionConflictError struct {
	InvestigationID string
	Expected        int64
	Current         int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on investigation %s: expected version %d, current version %d",
		e.InvestigationID, e.Expected, e.Current)
}

// Is reports ErrVersionConflict as a match.
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

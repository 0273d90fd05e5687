package investigation

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

// Field names used as keys in a transition's change set.
const (
	fieldLifecycleStage = "lifecycle_stage"
	fieldStatus         = "status"
	fieldSettings       = "settings"
	fieldProgress       = "progress"
	fieldResults        = "results"
)

var diffOptions = cmp.Options{cmpopts.EquateEmpty(), cmpopts.EquateNaNs()}

// applyPayload returns a copy of current with every non-nil payload field
// replaced. Version and timestamps are left for the caller.
func applyPayload(current *schemas.InvestigationState, payload schemas.UpdatePayload) *schemas.InvestigationState {
	next := *current
	if payload.LifecycleStage != nil {
		next.LifecycleStage = *payload.LifecycleStage
	}
	if payload.Status != nil {
		next.Status = *payload.Status
	}
	if payload.Settings != nil {
		s := *payload.Settings
		next.Settings = &s
	}
	if payload.Progress != nil {
		p := *payload.Progress
		next.Progress = &p
	}
	if payload.Results != nil {
		r := *payload.Results
		next.Results = &r
	}
	return &next
}

// diffStates records old and new values for every field that changed.
func diffStates(before, after *schemas.InvestigationState) map[string]schemas.FieldChange {
	changes := make(map[string]schemas.FieldChange)
	record := func(field string, old, new any) {
		if !cmp.Equal(old, new, diffOptions) {
			changes[field] = schemas.FieldChange{Old: old, New: new}
		}
	}
	record(fieldLifecycleStage, before.LifecycleStage, after.LifecycleStage)
	record(fieldStatus, before.Status, after.Status)
	record(fieldSettings, before.Settings, after.Settings)
	record(fieldProgress, before.Progress, after.Progress)
	record(fieldResults, before.Results, after.Results)
	return changes
}

// classifyAction labels a transition by the most significant field it touched.
func classifyAction(changes map[string]schemas.FieldChange) schemas.ActionType {
	if _, ok := changes[fieldResults]; ok {
		return schemas.ActionResultsPublished
	}
	_, status := changes[fieldStatus]
	_, stage := changes[fieldLifecycleStage]
	if status || stage {
		return schemas.ActionStatusChange
	}
	return schemas.ActionUpdate
}

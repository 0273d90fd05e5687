package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

// TestStructJSONTags guards the wire contract of the API types.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    any
		expectedTags map[string]string
	}{
		{
			name:      "DomainResult",
			structRef: schemas.DomainResult{},
			expectedTags: map[string]string{
				"Name":      "name",
				"Score":     "score",
				"Status":    "status",
				"Signals":   "signals",
				"Narrative": "narrative",
				"IsPublic":  "is_public,omitempty",
			},
		},
		{
			name:      "AggregationResult",
			structRef: schemas.AggregationResult{},
			expectedTags: map[string]string{
				"FinalRisk":    "final_risk",
				"Gating":       "gating",
				"Reason":       "reason",
				"Contributing": "contributing",
			},
		},
		{
			name:      "LintFinding",
			structRef: schemas.LintFinding{},
			expectedTags: map[string]string{
				"ID":              "id",
				"InvestigationID": "investigation_id,omitempty",
				"Domain":          "domain,omitempty",
				"Kind":            "kind",
				"Severity":        "severity",
				"Detail":          "detail",
				"ObservedAt":      "observed_at",
			},
		},
		{
			name:      "InvestigationState",
			structRef: schemas.InvestigationState{},
			expectedTags: map[string]string{
				"InvestigationID": "investigation_id",
				"UserID":          "user_id",
				"LifecycleStage":  "lifecycle_stage",
				"Status":          "status",
				"Settings":        "settings,omitempty",
				"Progress":        "progress,omitempty",
				"Results":         "results,omitempty",
				"Version":         "version",
				"CreatedAt":       "created_at",
				"UpdatedAt":       "updated_at",
			},
		},
		{
			name:      "VersionTransition",
			structRef: schemas.VersionTransition{},
			expectedTags: map[string]string{
				"ID":              "id",
				"InvestigationID": "investigation_id",
				"UserID":          "user_id",
				"FromVersion":     "from_version",
				"ToVersion":       "to_version",
				"Changes":         "changes",
				"ActionType":      "action_type",
				"Timestamp":       "timestamp",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := reflect.TypeOf(tc.structRef)
			assert.Equal(t, len(tc.expectedTags), st.NumField(), "field count changed for %s", tc.name)
			for fieldName, expectedTag := range tc.expectedTags {
				field, ok := st.FieldByName(fieldName)
				if assert.True(t, ok, "field %s not found in %s", fieldName, tc.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "json tag mismatch for %s.%s", tc.name, fieldName)
				}
			}
		})
	}
}

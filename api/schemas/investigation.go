package schemas

import (
	"time"
)

// -- Investigation Schemas --

// LifecycleStage tracks where an investigation is in its lifecycle.
type LifecycleStage string

const (
	StageCreated    LifecycleStage = "CREATED"
	StageSettings   LifecycleStage = "SETTINGS"
	StageInProgress LifecycleStage = "IN_PROGRESS"
	StageCompleted  LifecycleStage = "COMPLETED"
)

// InvestigationStatus is the operational status of an investigation.
type InvestigationStatus string

const (
	InvestigationCreated        InvestigationStatus = "CREATED"
	InvestigationStatusSettings InvestigationStatus = "SETTINGS"
	InvestigationInProgress     InvestigationStatus = "IN_PROGRESS"
	InvestigationCompleted      InvestigationStatus = "COMPLETED"
	InvestigationError          InvestigationStatus = "ERROR"
	InvestigationCancelled      InvestigationStatus = "CANCELLED"
)

// ActionType labels an audit log entry.
type ActionType string

const (
	ActionUpdate           ActionType = "UPDATE"
	ActionStatusChange     ActionType = "STATUS_CHANGE"
	ActionResultsPublished ActionType = "RESULTS_PUBLISHED"
)

// InvestigationSettings describes what is being investigated.
type InvestigationSettings struct {
	Name       string     `json:"name" validate:"max=200"`
	EntityType string     `json:"entity_type" validate:"omitempty,oneof=user_id ip device_id email account"`
	EntityID   string     `json:"entity_id" validate:"max=200"`
	Domains    []string   `json:"domains,omitempty" validate:"dive,oneof=logs network device location authentication"`
	TimeFrom   *time.Time `json:"time_from,omitempty"`
	TimeTo     *time.Time `json:"time_to,omitempty"`
}

// InvestigationProgress tracks execution of a scoring run.
type InvestigationProgress struct {
	PercentComplete  float64  `json:"percent_complete" validate:"gte=0,lte=100"`
	CurrentPhase     string   `json:"current_phase,omitempty"`
	CompletedDomains []string `json:"completed_domains,omitempty"`
}

// InvestigationResults holds the published outcome of a scoring run.
type InvestigationResults struct {
	Aggregation   AggregationResult `json:"aggregation"`
	DomainResults []DomainResult    `json:"domain_results"`
	Findings      []LintFinding     `json:"findings,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// InvestigationState is the version-guarded investigation record. Settings,
// Progress and Results are independently nullable.
type InvestigationState struct {
	InvestigationID string                 `json:"investigation_id"`
	UserID          string                 `json:"user_id"`
	LifecycleStage  LifecycleStage         `json:"lifecycle_stage"`
	Status          InvestigationStatus    `json:"status"`
	Settings        *InvestigationSettings `json:"settings,omitempty"`
	Progress        *InvestigationProgress `json:"progress,omitempty"`
	Results         *InvestigationResults  `json:"results,omitempty"`
	Version         int64                  `json:"version"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// UpdatePayload carries only the fields a caller wishes to change. A nil
// field is left untouched.
type UpdatePayload struct {
	LifecycleStage *LifecycleStage        `json:"lifecycle_stage,omitempty" validate:"omitempty,oneof=CREATED SETTINGS IN_PROGRESS COMPLETED"`
	Status         *InvestigationStatus   `json:"status,omitempty" validate:"omitempty,oneof=CREATED SETTINGS IN_PROGRESS COMPLETED ERROR CANCELLED"`
	Settings       *InvestigationSettings `json:"settings,omitempty"`
	Progress       *InvestigationProgress `json:"progress,omitempty"`
	Results        *InvestigationResults  `json:"results,omitempty"`
}

// IsEmpty reports whether the payload changes nothing.
func (p UpdatePayload) IsEmpty() bool {
	return p.LifecycleStage == nil && p.Status == nil && p.Settings == nil && p.Progress == nil && p.Results == nil
}

// FieldChange is one entry in a version transition diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// VersionTransition is an immutable audit log entry for one accepted update.
type VersionTransition struct {
	ID              string                 `json:"id"`
	InvestigationID string                 `json:"investigation_id"`
	UserID          string                 `json:"user_id"`
	FromVersion     int64                  `json:"from_version"`
	ToVersion       int64                  `json:"to_version"`
	Changes         map[string]FieldChange `json:"changes"`
	ActionType      ActionType             `json:"action_type"`
	Timestamp       time.Time              `json:"timestamp"`
}

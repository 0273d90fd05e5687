package sarif

// Go structs for the subset of SARIF 2.1.0 the reporter emits.
// Pointers are used for optional fields. Required fields use value types.

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool        *Tool         `json:"tool"`
	Invocations []*Invocation `json:"invocations,omitempty"`
	Results     []*Result     `json:"results"`
	Properties  *PropertyBag  `json:"properties,omitempty"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

// ToolComponent describes the tool that produced the results.
type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

type Invocation struct {
	ExecutionSuccessful bool    `json:"executionSuccessful"`
	EndTimeUTC          *string `json:"endTimeUtc,omitempty"`
}

type ReportingDescriptor struct {
	ID                   string                    `json:"id"` // Required
	Name                 *string                   `json:"name,omitempty"`
	ShortDescription     *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription      *MultiformatMessageString `json:"fullDescription,omitempty"`
	Help                 *MultiformatMessageString `json:"help,omitempty"`
	DefaultConfiguration *Configuration            `json:"defaultConfiguration,omitempty"`
	Properties           *PropertyBag              `json:"properties,omitempty"`
}

type Configuration struct {
	Level Level `json:"level,omitempty"`
}

type Result struct {
	RuleID     string       `json:"ruleId"` // Required
	Message    *Message     `json:"message"`
	Level      Level        `json:"level,omitempty"`
	Locations  []*Location  `json:"locations,omitempty"`
	Properties *PropertyBag `json:"properties,omitempty"`
}

type Location struct {
	LogicalLocations []*LogicalLocation `json:"logicalLocations,omitempty"`
	Message          *Message           `json:"message,omitempty"`
}

// LogicalLocation names the investigation and domain a result refers to.
// Scoring output has no files, so physical locations are never emitted.
type LogicalLocation struct {
	Name               *string `json:"name,omitempty"`
	FullyQualifiedName *string `json:"fullyQualifiedName,omitempty"`
	Kind               *string `json:"kind,omitempty"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type MultiformatMessageString struct {
	Text     *string `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)

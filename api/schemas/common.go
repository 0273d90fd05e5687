package schemas

import (
	"math"
	"strconv"
)

// -- Domain Result Schemas --

// DomainName identifies an independent evidentiary category.
type DomainName string

// The five domains scored by the engine.
const (
	DomainLogs           DomainName = "logs"
	DomainNetwork        DomainName = "network"
	DomainDevice         DomainName = "device"
	DomainLocation       DomainName = "location"
	DomainAuthentication DomainName = "authentication"
)

// AllDomains lists the domains in report order.
var AllDomains = []DomainName{
	DomainLogs,
	DomainNetwork,
	DomainDevice,
	DomainLocation,
	DomainAuthentication,
}

// DomainStatus is the evidentiary status of a DomainResult.
type DomainStatus string

const (
	// StatusOK means the domain had evidence and carries a score in [0,1].
	StatusOK DomainStatus = "OK"
	// StatusInsufficientEvidence means the domain had nothing to reason from.
	// The score must be absent.
	StatusInsufficientEvidence DomainStatus = "INSUFFICIENT_EVIDENCE"
)

// DomainResult is the value every domain scorer returns. A nil Score is a
// first-class state (no numeric opinion), not zero.
type DomainResult struct {
	Name      DomainName   `json:"name"`
	Score     *float64     `json:"score"`
	Status    DomainStatus `json:"status"`
	Signals   []string     `json:"signals"`
	Narrative string       `json:"narrative"`
	// IsPublic is only set by the network scorer and is derived from the IP
	// address classification alone.
	IsPublic *bool `json:"is_public,omitempty"`
}

// HasScore reports whether the result carries a numeric score.
func (r DomainResult) HasScore() bool {
	return r.Score != nil
}

// Clone returns a deep copy so callers can correct a result without touching
// the original.
func (r DomainResult) Clone() DomainResult {
	out := r
	if r.Score != nil {
		s := *r.Score
		out.Score = &s
	}
	if r.IsPublic != nil {
		p := *r.IsPublic
		out.IsPublic = &p
	}
	if r.Signals != nil {
		out.Signals = append([]string(nil), r.Signals...)
	}
	return out
}

// -- Aggregation Schemas --

// Gating is the publish decision for an aggregated risk result.
type Gating string

const (
	GatingPass  Gating = "PASS"
	GatingBlock Gating = "BLOCK"
)

// Aggregation reasons. This is a closed set consumed by the publication layer.
const (
	ReasonHardEvidenceFloor    = "Hard evidence fraud floor applied"
	ReasonInsufficientEvidence = "Insufficient corroborating evidence"
	ReasonCorroborated         = "Risk fused from corroborating domains"
)

// AggregationResult is recomputed from the current domain results on every
// aggregation call; it has no identity of its own.
type AggregationResult struct {
	FinalRisk *float64 `json:"final_risk"`
	Gating    Gating   `json:"gating"`
	Reason    string   `json:"reason"`
	// Contributing lists the domains whose scores fed FinalRisk.
	Contributing []DomainName `json:"contributing"`
}

// HardEvidence carries ground-truth facts that override modeled risk.
type HardEvidence struct {
	ConfirmedFraud bool `json:"confirmed_fraud" yaml:"confirmed_fraud"`
	// ConfirmedFraudTxIDs optionally names the transactions labelled as fraud.
	ConfirmedFraudTxIDs []string `json:"confirmed_fraud_tx_ids,omitempty" yaml:"confirmed_fraud_tx_ids"`
}

// HasConfirmedFraud reports whether the bag contains a definitive fraud marker.
func (h HardEvidence) HasConfirmedFraud() bool {
	return h.ConfirmedFraud || len(h.ConfirmedFraudTxIDs) > 0
}

// FormatRisk renders an optional risk value for display. Absent and
// non-finite values render as "N/A" instead of being dereferenced.
func FormatRisk(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

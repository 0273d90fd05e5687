// Package scoring maps raw per-domain facts to bounded DomainResults.
//
// Every scorer follows the same shape: start from a small baseline, add a
// clamped weighted contribution per positive signal, cap the subtotal, apply
// the floor or ceiling forced by an external threat-intelligence verdict,
// then clamp to [0,1] and round to three decimals. A scorer with nothing to
// reason from reports INSUFFICIENT_EVIDENCE with no score.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
)

// Risk bands used in narratives. The linter relies on narratives staying
// consistent with these cut-offs.
const (
	mediumBandFloor = 0.4
	highBandFloor   = 0.7
)

// accumulator collects weighted signal contributions for one domain.
type accumulator struct {
	domain  schemas.DomainName
	score   float64
	signals []string
}

func newAccumulator(domain schemas.DomainName, baseline float64) *accumulator {
	return &accumulator{domain: domain, score: clamp01(baseline), signals: []string{}}
}

// flag adds weight when the boolean signal is present.
func (a *accumulator) flag(signal string, present bool, weight float64) {
	if !present {
		return
	}
	a.score += clamp01(weight)
	a.signals = append(a.signals, signal)
}

// count adds perUnit for every occurrence, capped at limit.
func (a *accumulator) count(signal string, n int, perUnit, limit float64) {
	if n <= 0 {
		return
	}
	contribution := math.Min(float64(n)*perUnit, limit)
	a.score += clamp01(contribution)
	a.signals = append(a.signals, fmt.Sprintf("%s=%d", signal, n))
}

// note records evidence that does not move the additive subtotal.
func (a *accumulator) note(signal string) {
	a.signals = append(a.signals, signal)
}

func (a *accumulator) observed() bool {
	return len(a.signals) > 0
}

// finish caps the subtotal, applies the threat-intel override and returns
// a validated-shape OK result.
func (a *accumulator) finish(limit float64, level schemas.ThreatLevel, ti config.ThreatIntelConfig) schemas.DomainResult {
	score := math.Min(a.score, limit)
	score = applyThreatIntel(score, level, ti)
	score = round3(clamp01(score))
	return schemas.DomainResult{
		Name:      a.domain,
		Score:     &score,
		Status:    schemas.StatusOK,
		Signals:   a.signals,
		Narrative: narrate(a.domain, score, a.signals),
	}
}

// applyThreatIntel forces a floor for HIGH/CRITICAL verdicts and a ceiling
// for MINIMAL/CLEAN verdicts, regardless of the additive subtotal.
func applyThreatIntel(score float64, level schemas.ThreatLevel, ti config.ThreatIntelConfig) float64 {
	switch level {
	case schemas.ThreatCritical:
		return math.Max(score, ti.CriticalFloor)
	case schemas.ThreatHigh:
		return math.Max(score, ti.HighFloor)
	case schemas.ThreatMinimal:
		return math.Min(score, ti.MinimalCeiling)
	case schemas.ThreatClean:
		return math.Min(score, ti.CleanCeiling)
	default:
		return score
	}
}

// noteThreatLevel records a known external verdict as evidence.
func (a *accumulator) noteThreatLevel(level schemas.ThreatLevel) {
	if level != schemas.ThreatUnknown {
		a.note("ext_ti=" + string(level))
	}
}

func insufficient(domain schemas.DomainName) schemas.DomainResult {
	return schemas.DomainResult{
		Name:      domain,
		Status:    schemas.StatusInsufficientEvidence,
		Signals:   []string{},
		Narrative: fmt.Sprintf("Insufficient evidence: no %s signals observed.", domain),
	}
}

// riskBand labels a score for narratives.
func riskBand(score float64) string {
	switch {
	case score >= highBandFloor:
		return "High"
	case score >= mediumBandFloor:
		return "Medium"
	default:
		return "Low"
	}
}

func narrate(domain schemas.DomainName, score float64, signals []string) string {
	return fmt.Sprintf("%s risk (%s) on %s from %d signal(s): %s.",
		riskBand(score),
		decimal.NewFromFloat(score).StringFixed(3),
		domain,
		len(signals),
		strings.Join(signals, ", "))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}

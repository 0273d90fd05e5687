package results

import (
	"sort"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

var severityOrder = map[schemas.Severity]int{
	schemas.SeverityError:   1,
	schemas.SeverityWarning: 2,
	schemas.SeverityInfo:    3,
}

var domainOrder = func() map[schemas.DomainName]int {
	m := make(map[schemas.DomainName]int, len(schemas.AllDomains))
	for i, d := range schemas.AllDomains {
		m[d] = i + 1
	}
	return m
}()

func rank(m map[schemas.Severity]int, s schemas.Severity) int {
	if v, ok := m[s]; ok {
		return v
	}
	return 99
}

// Prioritize sorts findings in place: errors first, then by domain in
// report order, with aggregate-level findings after domain findings of the
// same severity.
func Prioritize(findings []schemas.LintFinding) {
	sort.SliceStable(findings, func(i, j int) bool {
		si, sj := rank(severityOrder, findings[i].Severity), rank(severityOrder, findings[j].Severity)
		if si != sj {
			return si < sj
		}
		return domainRank(findings[i].Domain) < domainRank(findings[j].Domain)
	})
}

func domainRank(d schemas.DomainName) int {
	if v, ok := domainOrder[d]; ok {
		return v
	}
	return 99
}

// Summarize counts findings by severity plus a "total" entry.
func Summarize(findings []schemas.LintFinding) map[string]int {
	summary := map[string]int{"total": len(findings)}
	for _, f := range findings {
		summary[string(f.Severity)]++
	}
	return summary
}

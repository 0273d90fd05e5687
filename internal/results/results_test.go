package results

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

// Mock Definitions

// MockFindingSink mocks the asynchronous findings processor.
type MockFindingSink struct {
	mock.Mock
}

func (m *MockFindingSink) Submit(findings []schemas.LintFinding) {
	m.Called(findings)
}

// Test Helpers and Fixtures

func defaultAggregationConfig() config.AggregationConfig {
	return config.NewDefaultConfig().Scoring().Aggregation
}

func ok(name schemas.DomainName, score float64) schemas.DomainResult {
	return schemas.DomainResult{Name: name, Status: schemas.StatusOK, Score: schemas.Float(score), Signals: []string{}}
}

func missing(name schemas.DomainName) schemas.DomainResult {
	return schemas.DomainResult{Name: name, Status: schemas.StatusInsufficientEvidence, Signals: []string{}}
}

// Test Cases: Aggregator

func TestAggregate_HardEvidence(t *testing.T) {
	agg := NewAggregator(defaultAggregationConfig(), zaptest.NewLogger(t), nil)
	domains := []schemas.DomainResult{ok(schemas.DomainLogs, 0.20), missing(schemas.DomainNetwork)}

	t.Run("confirmed fraud forces PASS above the floor", func(t *testing.T) {
		r := agg.Aggregate(domains, schemas.HardEvidence{ConfirmedFraud: true})
		assert.Equal(t, schemas.GatingPass, r.Gating)
		require.NotNil(t, r.FinalRisk)
		assert.GreaterOrEqual(t, *r.FinalRisk, 0.60)
		assert.Equal(t, schemas.ReasonHardEvidenceFloor, r.Reason)
	})

	t.Run("same domains without confirmed fraud block", func(t *testing.T) {
		r := agg.Aggregate(domains, schemas.HardEvidence{})
		assert.Equal(t, schemas.GatingBlock, r.Gating)
		assert.Nil(t, r.FinalRisk)
		assert.Equal(t, schemas.ReasonInsufficientEvidence, r.Reason)
		assert.Equal(t, []schemas.DomainName{schemas.DomainLogs}, r.Contributing)
	})

	t.Run("confirmed transaction IDs count as hard evidence", func(t *testing.T) {
		r := agg.Aggregate(nil, schemas.HardEvidence{ConfirmedFraudTxIDs: []string{"tx-42"}})
		assert.Equal(t, schemas.GatingPass, r.Gating)
		assert.InDelta(t, 0.60, *r.FinalRisk, 1e-9)
	})

	t.Run("floor never lowers a higher fused risk", func(t *testing.T) {
		r := agg.Aggregate([]schemas.DomainResult{ok(schemas.DomainDevice, 0.9), ok(schemas.DomainLocation, 0.8)},
			schemas.HardEvidence{ConfirmedFraud: true})
		assert.InDelta(t, 0.85, *r.FinalRisk, 1e-9)
	})
}

func TestAggregate_Fusion(t *testing.T) {
	t.Run("no evidence at all blocks", func(t *testing.T) {
		agg := NewAggregator(defaultAggregationConfig(), nil, nil)
		var all []schemas.DomainResult
		for _, d := range schemas.AllDomains {
			all = append(all, missing(d))
		}
		r := agg.Aggregate(all, schemas.HardEvidence{})
		assert.Equal(t, schemas.GatingBlock, r.Gating)
		assert.Nil(t, r.FinalRisk)
		assert.Empty(t, r.Contributing)
	})

	t.Run("weighted mean of present scores", func(t *testing.T) {
		cfg := defaultAggregationConfig()
		cfg.DomainWeights = map[string]float64{"logs": 3, "network": 1}
		agg := NewAggregator(cfg, nil, nil)

		r := agg.Aggregate([]schemas.DomainResult{
			ok(schemas.DomainLogs, 0.2), ok(schemas.DomainNetwork, 0.6), missing(schemas.DomainDevice),
		}, schemas.HardEvidence{})

		assert.Equal(t, schemas.GatingPass, r.Gating)
		assert.Equal(t, schemas.ReasonCorroborated, r.Reason)
		assert.InDelta(t, 0.3, *r.FinalRisk, 1e-9)
		assert.Equal(t, []schemas.DomainName{schemas.DomainLogs, schemas.DomainNetwork}, r.Contributing)
	})

	t.Run("all-zero weights fall back to a plain mean", func(t *testing.T) {
		cfg := defaultAggregationConfig()
		cfg.DomainWeights = map[string]float64{"logs": 0, "device": 0}
		agg := NewAggregator(cfg, nil, nil)
		r := agg.Aggregate([]schemas.DomainResult{ok(schemas.DomainLogs, 0.2), ok(schemas.DomainDevice, 0.4)}, schemas.HardEvidence{})
		assert.InDelta(t, 0.3, *r.FinalRisk, 1e-9)
	})

	t.Run("single domain passes when one corroborating domain suffices", func(t *testing.T) {
		cfg := defaultAggregationConfig()
		cfg.MinCorroboratingDomains = 1
		agg := NewAggregator(cfg, nil, nil)
		r := agg.Aggregate([]schemas.DomainResult{ok(schemas.DomainLogs, 0.2)}, schemas.HardEvidence{})
		assert.Equal(t, schemas.GatingPass, r.Gating)
		assert.InDelta(t, 0.2, *r.FinalRisk, 1e-9)
	})

	t.Run("non-finite scores do not contribute", func(t *testing.T) {
		agg := NewAggregator(defaultAggregationConfig(), nil, nil)
		nan := ok(schemas.DomainDevice, 0)
		nan.Score = schemas.Float(math.NaN())
		r := agg.Aggregate([]schemas.DomainResult{nan, ok(schemas.DomainLogs, 0.4), ok(schemas.DomainNetwork, 0.5)}, schemas.HardEvidence{})
		assert.Equal(t, []schemas.DomainName{schemas.DomainLogs, schemas.DomainNetwork}, r.Contributing)
		assert.InDelta(t, 0.45, *r.FinalRisk, 1e-9)
	})

	t.Run("gating decisions are counted", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		agg := NewAggregator(defaultAggregationConfig(), nil, metrics)
		agg.Aggregate(nil, schemas.HardEvidence{})
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatingDecisions.WithLabelValues("BLOCK", schemas.ReasonInsufficientEvidence)))
	})
}

// Test Cases: Prioritization

func TestPrioritize(t *testing.T) {
	findings := []schemas.LintFinding{
		{ID: "1", Severity: schemas.SeverityInfo},
		{ID: "2", Severity: schemas.SeverityWarning, Domain: schemas.DomainLocation},
		{ID: "3", Severity: schemas.SeverityError, Domain: schemas.DomainNetwork},
		{ID: "4", Severity: schemas.SeverityError, Domain: schemas.DomainLogs},
		{ID: "5", Severity: schemas.SeverityError},
	}
	Prioritize(findings)

	var ids []string
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"4", "3", "5", "2", "1"}, ids)
	assert.Equal(t, map[string]int{"total": 5, "error": 3, "warning": 1, "info": 1}, Summarize(findings))
}

// Test Cases: Pipeline

func TestPipeline_Run(t *testing.T) {
	cfg := config.NewDefaultConfig().Scoring()

	t.Run("corroborated bundle passes", func(t *testing.T) {
		sink := new(MockFindingSink)
		p := NewPipeline(cfg, zaptest.NewLogger(t), nil, sink)

		report, err := p.Run(context.Background(), schemas.FactBundle{
			InvestigationID: "inv-1",
			Logs:            &schemas.LogsFacts{TransactionCount: 1},
			Network:         &schemas.NetworkFacts{ThreatIntelHits: 1, ProxyVPN: true, IPAddress: "203.0.113.9"},
		})
		require.NoError(t, err)

		require.Len(t, report.DomainResults, len(schemas.AllDomains))
		for i, d := range schemas.AllDomains {
			assert.Equal(t, d, report.DomainResults[i].Name)
		}
		assert.Equal(t, schemas.GatingPass, report.Aggregation.Gating)
		assert.InDelta(t, 0.35, *report.Aggregation.FinalRisk, 1e-9)
		assert.Empty(t, report.Findings)
		assert.Equal(t, 0, report.Summary["total"])
		sink.AssertNotCalled(t, "Submit", mock.Anything)

		data, err := report.ToJSON()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"gating": "PASS"`)
	})

	t.Run("blocked bundle forwards the absent final risk finding", func(t *testing.T) {
		sink := new(MockFindingSink)
		sink.On("Submit", mock.MatchedBy(func(f []schemas.LintFinding) bool {
			return len(f) == 1 && f[0].Kind == schemas.KindFinalRiskAbsent && f[0].InvestigationID == "inv-2"
		})).Once()
		p := NewPipeline(cfg, zaptest.NewLogger(t), nil, sink)

		report, err := p.Run(context.Background(), schemas.FactBundle{
			InvestigationID: "inv-2",
			Logs:            &schemas.LogsFacts{TransactionCount: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, schemas.GatingBlock, report.Aggregation.Gating)
		assert.Nil(t, report.Aggregation.FinalRisk)
		sink.AssertExpectations(t)

		results := report.Results()
		assert.Equal(t, report.GeneratedAt, results.CompletedAt)
		assert.Len(t, results.DomainResults, len(schemas.AllDomains))
	})

	t.Run("every domain result satisfies the status invariant", func(t *testing.T) {
		p := NewPipeline(cfg, nil, nil, nil)
		report, err := p.Run(context.Background(), schemas.FactBundle{
			Logs:     &schemas.LogsFacts{TransactionCount: 40, FailedCount: 30, ErrorCodeCount: 12},
			Network:  &schemas.NetworkFacts{ThreatIntelHits: 9, ProxyVPN: true, Tor: true, ASNRisk: true, GeoAnomaly: true},
			Device:   &schemas.DeviceFacts{EmulatorDetected: true, ExternalTI: schemas.ThreatHigh},
			Location: &schemas.LocationFacts{ExternalTI: schemas.ThreatMinimal},
			Auth:     &schemas.AuthFacts{MFABypassAttempts: 7, CredentialStuffing: true},
		})
		require.NoError(t, err)
		for _, d := range report.DomainResults {
			if d.Score == nil {
				assert.Equal(t, schemas.StatusInsufficientEvidence, d.Status, d.Name)
				continue
			}
			assert.Equal(t, schemas.StatusOK, d.Status, d.Name)
			assert.GreaterOrEqual(t, *d.Score, 0.0)
			assert.LessOrEqual(t, *d.Score, 1.0)
		}
		assert.False(t, schemas.HasErrors(report.Findings))
	})

	t.Run("cancelled context aborts the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := NewPipeline(cfg, nil, nil, nil).Run(ctx, schemas.FactBundle{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, report)
	})
}

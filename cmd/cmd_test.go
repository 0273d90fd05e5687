package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/investigation"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

// memoryBackend keeps investigations in memory and records persisted findings.
type memoryBackend struct {
	*investigation.MemoryRepository
	mu       sync.Mutex
	findings []schemas.LintFinding
}

func (b *memoryBackend) PersistFindings(_ context.Context, f []schemas.LintFinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.findings = append(b.findings, f...)
	return nil
}

func (b *memoryBackend) persisted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.findings)
}

// fakeProvider hands out the same backend to every command, like a shared database.
type fakeProvider struct {
	backend  *memoryBackend
	err      error
	created  int
	cleanups int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{backend: &memoryBackend{MemoryRepository: investigation.NewMemoryRepository()}}
}

func (p *fakeProvider) Create(context.Context, config.Interface) (backend, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.created++
	return p.backend, func() { p.cleanups++ }, nil
}

func runCommand(t *testing.T, provider storeProvider, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(provider)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const passFacts = `{"investigation_id":"inv-1","logs":{"transaction_count":1},"network":{"threat_intel_hits":1,"proxy_vpn":true,"ip_address":"203.0.113.9"}}`

func readReport(t *testing.T, path string) results.Report {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report results.Report
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, newFakeProvider(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestScoreCommand_WritesReport(t *testing.T) {
	factsPath := writeFile(t, "facts.json", passFacts)
	outPath := filepath.Join(t.TempDir(), "report.json")
	provider := newFakeProvider()

	_, err := runCommand(t, provider, "score", "--facts", factsPath, "-o", outPath)
	require.NoError(t, err)

	report := readReport(t, outPath)
	assert.Equal(t, "inv-1", report.InvestigationID)
	assert.Equal(t, schemas.GatingPass, report.Aggregation.Gating)
	require.NotNil(t, report.Aggregation.FinalRisk)
	assert.InDelta(t, 0.35, *report.Aggregation.FinalRisk, 1e-9)
	assert.Len(t, report.DomainResults, 5)
	assert.Zero(t, provider.created, "no store is opened when neither publishing nor persisting")
}

func TestScoreCommand_BlockedYAML(t *testing.T) {
	factsPath := writeFile(t, "facts.yaml", "logs:\n  transaction_count: 2\n  failed_count: 2\n")
	outPath := filepath.Join(t.TempDir(), "report.json")

	_, err := runCommand(t, newFakeProvider(), "score", "--facts", factsPath, "--output", outPath, "--investigation-id", "inv-9")
	require.NoError(t, err)

	report := readReport(t, outPath)
	assert.Equal(t, "inv-9", report.InvestigationID, "the flag overrides the facts file")
	assert.Equal(t, schemas.GatingBlock, report.Aggregation.Gating)
	assert.Nil(t, report.Aggregation.FinalRisk)
}

func TestScoreCommand_Errors(t *testing.T) {
	t.Run("Missing facts flag", func(t *testing.T) {
		_, err := runCommand(t, newFakeProvider(), "score")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "facts")
	})

	t.Run("Invalid facts", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{"logs":{"failed_count":-1}}`)
		_, err := runCommand(t, newFakeProvider(), "score", "--facts", path)
		require.Error(t, err)
	})

	t.Run("Unsupported format", func(t *testing.T) {
		path := writeFile(t, "facts.json", passFacts)
		_, err := runCommand(t, newFakeProvider(), "score", "--facts", path, "-f", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})

	t.Run("Publish without an investigation ID", func(t *testing.T) {
		path := writeFile(t, "facts.json", `{"logs":{"transaction_count":3}}`)
		_, err := runCommand(t, newFakeProvider(), "score", "--facts", path, "--publish")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--publish requires an investigation ID")
	})

	t.Run("Store failure", func(t *testing.T) {
		path := writeFile(t, "facts.json", passFacts)
		provider := newFakeProvider()
		provider.err = errors.New("connection refused")
		_, err := runCommand(t, provider, "score", "--facts", path, "--publish")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})
}

func TestScoreCommand_Publish(t *testing.T) {
	provider := newFakeProvider()
	_, err := runCommand(t, provider, "investigation", "create", "--id", "inv-1", "--user", "analyst-1")
	require.NoError(t, err)

	factsPath := writeFile(t, "facts.json", passFacts)
	outPath := filepath.Join(t.TempDir(), "report.json")
	_, err = runCommand(t, provider, "score", "--facts", factsPath, "-o", outPath, "--publish")
	require.NoError(t, err)
	assert.Equal(t, provider.created, provider.cleanups, "every opened store is released")

	state, err := provider.backend.Get(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)
	assert.Equal(t, schemas.InvestigationCompleted, state.Status)
	require.NotNil(t, state.Results)
	assert.Equal(t, schemas.GatingPass, state.Results.Aggregation.Gating)

	t.Run("Missing investigation", func(t *testing.T) {
		_, err := runCommand(t, provider, "score", "--facts", factsPath, "-o", outPath, "--publish", "--investigation-id", "nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, investigation.ErrNotFound)
	})
}

func TestScoreCommand_PersistFindings(t *testing.T) {
	t.Setenv("OLORIN_FINDINGS_PERSIST", "true")
	provider := newFakeProvider()
	factsPath := writeFile(t, "facts.json", passFacts)
	outPath := filepath.Join(t.TempDir(), "report.json")

	_, err := runCommand(t, provider, "score", "--facts", factsPath, "-o", outPath)
	require.NoError(t, err)

	report := readReport(t, outPath)
	assert.Equal(t, 1, provider.created)
	assert.Equal(t, len(report.Findings), provider.backend.persisted(), "the processor drains before the command returns")
}

func TestInvestigationCommands(t *testing.T) {
	provider := newFakeProvider()

	out, err := runCommand(t, provider, "investigation", "create", "--id", "inv-7", "--user", "analyst-1",
		"--name", "ATO review", "--entity-type", "email", "--entity-id", "a@example.com")
	require.NoError(t, err)
	var created schemas.InvestigationState
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, int64(1), created.Version)
	require.NotNil(t, created.Settings)
	assert.Equal(t, "ATO review", created.Settings.Name)

	out, err = runCommand(t, provider, "inv", "get", "inv-7", "-u", "analyst-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"investigation_id": "inv-7"`)

	_, err = runCommand(t, provider, "inv", "get", "inv-7", "-u", "someone-else")
	assert.ErrorIs(t, err, investigation.ErrForbidden)

	out, err = runCommand(t, provider, "inv", "update", "inv-7", "-u", "analyst-1",
		"--if-match", `"1"`, "--payload", `{"status":"IN_PROGRESS"}`)
	require.NoError(t, err)
	var updated schemas.InvestigationState
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, schemas.InvestigationInProgress, updated.Status)

	t.Run("Stale If-Match conflicts", func(t *testing.T) {
		_, err := runCommand(t, provider, "inv", "update", "inv-7", "-u", "analyst-1",
			"--if-match", "1", "--payload", `{"status":"COMPLETED"}`)
		var conflict *investigation.VersionConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(2), conflict.Current)
	})

	t.Run("Payload from file", func(t *testing.T) {
		path := writeFile(t, "payload.json", `{"progress":{"percent_complete":50,"current_phase":"scoring"}}`)
		_, err := runCommand(t, provider, "inv", "update", "inv-7", "-u", "analyst-1", "--payload", "@"+path)
		require.NoError(t, err)
	})

	t.Run("Empty payload is rejected", func(t *testing.T) {
		_, err := runCommand(t, provider, "inv", "update", "inv-7", "-u", "analyst-1", "--payload", `{}`)
		assert.ErrorIs(t, err, investigation.ErrInvalidPayload)
	})

	t.Run("Malformed payload is rejected", func(t *testing.T) {
		_, err := runCommand(t, provider, "inv", "update", "inv-7", "-u", "analyst-1", "--payload", `{"status":`)
		assert.ErrorIs(t, err, investigation.ErrInvalidPayload)
	})

	t.Run("History is most recent first", func(t *testing.T) {
		out, err := runCommand(t, provider, "inv", "history", "inv-7", "-u", "analyst-1")
		require.NoError(t, err)
		var entries []schemas.VersionTransition
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, int64(3), entries[0].ToVersion)
		assert.Equal(t, int64(2), entries[1].ToVersion)
	})

	t.Run("User flag is required", func(t *testing.T) {
		_, err := runCommand(t, provider, "inv", "get", "inv-7")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user")
	})
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	provider := newFakeProvider()
	cfgPath := writeFile(t, "olorin.yaml", "locking:\n  history_default_limit: 1\n")

	_, err := runCommand(t, provider, "inv", "create", "--id", "inv-3", "-u", "analyst-1")
	require.NoError(t, err)
	for _, status := range []string{"SETTINGS", "IN_PROGRESS"} {
		_, err := runCommand(t, provider, "inv", "update", "inv-3", "-u", "analyst-1", "--payload", `{"status":"`+status+`"}`)
		require.NoError(t, err)
	}

	out, err := runCommand(t, provider, "--config", cfgPath, "inv", "history", "inv-3", "-u", "analyst-1")
	require.NoError(t, err)
	var entries []schemas.VersionTransition
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Len(t, entries, 1)

	t.Run("Unreadable config file fails", func(t *testing.T) {
		_, err := runCommand(t, provider, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "version")
		require.NoError(t, err, "version skips configuration")

		_, err = runCommand(t, provider, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "inv", "get", "inv-3", "-u", "analyst-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})
}

func TestRunServe_InMemory(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetServerListenAddr("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	provider := newFakeProvider()
	go func() { done <- runServe(ctx, zaptest.NewLogger(t), cfg, provider) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
	assert.Zero(t, provider.created, "without a database URL the in-memory repository is used")
}

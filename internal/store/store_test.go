package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return store, mockPool
}

var (
	stateColumns   = []string{"investigation_id", "user_id", "lifecycle_stage", "status", "settings", "progress", "results", "version", "created_at", "updated_at"}
	historyColumns = []string{"id", "investigation_id", "user_id", "from_version", "to_version", "changes", "action_type", "created_at"}
	findingColumns = []string{"id", "investigation_id", "domain", "kind", "severity", "detail", "observed_at"}
)

func sampleState(version int64) *schemas.InvestigationState {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &schemas.InvestigationState{
		InvestigationID: "inv-1",
		UserID:          "analyst-1",
		LifecycleStage:  schemas.StageInProgress,
		Status:          schemas.InvestigationInProgress,
		Settings:        &schemas.InvestigationSettings{Name: "ato sweep", EntityType: "user_id", EntityID: "u-42"},
		Version:         version,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the record at its initial version", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		state := sampleState(1)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertInvestigation)).
			WithArgs(
				"inv-1", "analyst-1", "IN_PROGRESS", "IN_PROGRESS",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				int64(1), state.CreatedAt, state.UpdatedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Create(ctx, state))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map unique violations to ErrAlreadyExists", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertInvestigation)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

		err := store.Create(ctx, sampleState(1))
		assert.ErrorIs(t, err, schemas.ErrAlreadyExists)
		assert.Contains(t, err.Error(), "inv-1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map other insert failures without claiming a duplicate", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertInvestigation)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		err := store.Create(ctx, sampleState(1))
		require.Error(t, err)
		assert.NotErrorIs(t, err, schemas.ErrAlreadyExists)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("should decode nullable JSON columns", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		want := sampleState(3)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectInvestigation)).
			WithArgs("inv-1").
			WillReturnRows(pgxmock.NewRows(stateColumns).AddRow(
				"inv-1", "analyst-1", "IN_PROGRESS", "IN_PROGRESS",
				[]byte(`{"name":"ato sweep","entity_type":"user_id","entity_id":"u-42"}`),
				[]byte(nil), []byte("null"),
				int64(3), want.CreatedAt, want.UpdatedAt,
			))

		got, err := store.Get(ctx, "inv-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Nil(t, got.Progress)
		assert.Nil(t, got.Results)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return ErrNotFound for a missing row", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectInvestigation)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	transition := schemas.VersionTransition{
		ID:              uuid.NewString(),
		InvestigationID: "inv-1",
		UserID:          "analyst-1",
		FromVersion:     1,
		ToVersion:       2,
		Changes:         map[string]schemas.FieldChange{"status": {Old: "CREATED", New: "IN_PROGRESS"}},
		ActionType:      schemas.ActionStatusChange,
		Timestamp:       time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}

	expectUpdate := func(mockPool pgxmock.PgxPoolIface, next *schemas.InvestigationState, rows int64) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlConditionalUpdate)).
			WithArgs(
				"IN_PROGRESS", "IN_PROGRESS", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				next.Version, next.UpdatedAt, "inv-1", int64(1),
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", rows))
	}

	t.Run("should update and audit in one transaction without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		store, mockPool := newMockStore(t, zap.New(observedZapCore))
		next := sampleState(2)

		mockPool.ExpectBegin()
		expectUpdate(mockPool, next, 1)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAudit)).
			WithArgs(
				uuid.MustParse(transition.ID), "inv-1", "analyst-1", int64(1), int64(2),
				[]byte(`{"status":{"old":"CREATED","new":"IN_PROGRESS"}}`),
				"STATUS_CHANGE", transition.Timestamp,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		swapped, err := store.CompareAndSwap(ctx, next, 1, transition)
		require.NoError(t, err)
		assert.True(t, swapped)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should report a lost race when no row matches the version", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		next := sampleState(2)

		mockPool.ExpectBegin()
		expectUpdate(mockPool, next, 0)
		mockPool.ExpectRollback()

		swapped, err := store.CompareAndSwap(ctx, next, 1, transition)
		require.NoError(t, err)
		assert.False(t, swapped)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if the audit insert fails", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		next := sampleState(2)
		auditErr := errors.New("audit table unavailable")

		mockPool.ExpectBegin()
		expectUpdate(mockPool, next, 1)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAudit)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(auditErr)
		// No commit is expected: the conditional update must not survive without its audit entry.
		mockPool.ExpectRollback()

		swapped, err := store.CompareAndSwap(ctx, next, 1, transition)
		assert.ErrorIs(t, err, auditErr)
		assert.False(t, swapped)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		_, err := store.CompareAndSwap(ctx, sampleState(2), 1, transition)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestHistory(t *testing.T) {
	store, mockPool := newMockStore(t, zap.NewNop())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id3, id2 := uuid.New(), uuid.New()

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectHistory)).
		WithArgs("inv-1", 10).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow(id3, "inv-1", "system", int64(2), int64(3), []byte(`{"results":{"old":null,"new":{}}}`), "RESULTS_PUBLISHED", ts.Add(time.Minute)).
			AddRow(id2, "inv-1", "analyst-1", int64(1), int64(2), []byte(`{}`), "UPDATE", ts))

	history, err := store.History(context.Background(), "inv-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, id3.String(), history[0].ID)
	assert.Equal(t, schemas.ActionResultsPublished, history[0].ActionType)
	assert.Contains(t, history[0].Changes, "results")
	assert.Equal(t, history[1].ToVersion, history[0].FromVersion)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistFindings(t *testing.T) {
	ctx := context.Background()
	findings := []schemas.LintFinding{
		{ID: uuid.NewString(), InvestigationID: "inv-1", Domain: schemas.DomainDevice, Kind: schemas.KindNarrativeContradiction, Severity: schemas.SeverityError, Detail: "x", ObservedAt: time.Now()},
		{ID: uuid.NewString(), Kind: schemas.KindFinalRiskAbsent, Severity: schemas.SeverityInfo, Detail: "y", ObservedAt: time.Now()},
	}

	t.Run("should copy every finding", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectCopyFrom(pgx.Identifier{"lint_findings"}, findingColumns).WillReturnResult(2)

		require.NoError(t, store.PersistFindings(ctx, findings))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should detect a short copy", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectCopyFrom(pgx.Identifier{"lint_findings"}, findingColumns).WillReturnResult(1)

		err := store.PersistFindings(ctx, findings)
		assert.ErrorContains(t, err, "mismatch in copied findings count")
	})

	t.Run("should skip empty input", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		require.NoError(t, store.PersistFindings(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestNullableHelpers(t *testing.T) {
	data, err := encodeNullable[schemas.InvestigationProgress](nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	var p *schemas.InvestigationProgress
	require.NoError(t, decodeNullable([]byte(`{"percent_complete":40}`), &p))
	require.NotNil(t, p)
	assert.Equal(t, 40.0, p.PercentComplete)

	assert.Equal(t, uuid.MustParse("6f1c1c9e-8f3a-4a55-9d7e-1b2c3d4e5f60"), auditID("6f1c1c9e-8f3a-4a55-9d7e-1b2c3d4e5f60"))
	assert.NotEqual(t, uuid.Nil, auditID("not-a-uuid"))
	assert.Nil(t, nullableText(""))
}

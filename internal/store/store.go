package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

const pgUniqueViolation = "23505"

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL implementation of schemas.InvestigationRepository
// and schemas.FindingStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const (
	sqlInsertInvestigation = `
        INSERT INTO investigations (investigation_id, user_id, lifecycle_stage, status, settings, progress, results, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	sqlSelectInvestigation = `
        SELECT investigation_id, user_id, lifecycle_stage, status, settings, progress, results, version, created_at, updated_at
        FROM investigations
        WHERE investigation_id = $1`

	// The version predicate makes the write a single atomic compare-and-swap.
	sqlConditionalUpdate = `
        UPDATE investigations
        SET lifecycle_stage = $1, status = $2, settings = $3, progress = $4, results = $5,
            version = $6, updated_at = $7
        WHERE investigation_id = $8 AND version = $9`

	sqlInsertAudit = `
        INSERT INTO investigation_audit_log (id, investigation_id, user_id, from_version, to_version, changes, action_type, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	sqlSelectHistory = `
        SELECT id, investigation_id, user_id, from_version, to_version, changes, action_type, created_at
        FROM investigation_audit_log
        WHERE investigation_id = $1
        ORDER BY to_version DESC
        LIMIT $2`
)

// Create inserts a new investigation record.
func (s *Store) Create(ctx context.Context, state *schemas.InvestigationState) error {
	settings, progress, results, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sqlInsertInvestigation,
		state.InvestigationID, state.UserID, string(state.LifecycleStage), string(state.Status),
		settings, progress, results, state.Version,
		state.CreatedAt.UTC(), state.UpdatedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", schemas.ErrAlreadyExists, state.InvestigationID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert investigation: %w", err)
	}
	return nil
}

// Get fetches an investigation, returning schemas.ErrNotFound if it is missing.
func (s *Store) Get(ctx context.Context, investigationID string) (*schemas.InvestigationState, error) {
	var (
		state                       schemas.InvestigationState
		stage, status               string
		settings, progress, results []byte
	)
	err := s.pool.QueryRow(ctx, sqlSelectInvestigation, investigationID).Scan(
		&state.InvestigationID, &state.UserID, &stage, &status,
		&settings, &progress, &results,
		&state.Version, &state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation: %w", err)
	}

	state.LifecycleStage = schemas.LifecycleStage(stage)
	state.Status = schemas.InvestigationStatus(status)
	if err := decodeNullable(settings, &state.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := decodeNullable(progress, &state.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if err := decodeNullable(results, &state.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &state, nil
}

// CompareAndSwap writes next only if the stored version equals
// expectedVersion, and inserts the audit entry in the same transaction.
// Zero rows affected means another writer got there first.
func (s *Store) CompareAndSwap(ctx context.Context, next *schemas.InvestigationState, expectedVersion int64, transition schemas.VersionTransition) (bool, error) {
	settings, progress, results, err := encodeState(next)
	if err != nil {
		return false, err
	}
	changes, err := json.Marshal(transition.Changes)
	if err != nil {
		return false, fmt.Errorf("failed to encode changes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tag, err := tx.Exec(ctx, sqlConditionalUpdate,
		string(next.LifecycleStage), string(next.Status), settings, progress, results,
		next.Version, next.UpdatedAt.UTC(),
		next.InvestigationID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update investigation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Conditional update matched no rows",
			zap.String("investigation_id", next.InvestigationID),
			zap.Int64("expected_version", expectedVersion))
		return false, nil
	}

	_, err = tx.Exec(ctx, sqlInsertAudit,
		auditID(transition.ID), transition.InvestigationID, transition.UserID,
		transition.FromVersion, transition.ToVersion, changes,
		string(transition.ActionType), transition.Timestamp.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// History returns up to limit transitions, most recent first.
func (s *Store) History(ctx context.Context, investigationID string, limit int) ([]schemas.VersionTransition, error) {
	rows, err := s.pool.Query(ctx, sqlSelectHistory, investigationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	transitions := []schemas.VersionTransition{}
	for rows.Next() {
		var (
			t       schemas.VersionTransition
			id      uuid.UUID
			changes []byte
			action  string
		)
		if err := rows.Scan(&id, &t.InvestigationID, &t.UserID, &t.FromVersion, &t.ToVersion, &changes, &action, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		t.ID = id.String()
		t.ActionType = schemas.ActionType(action)
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &t.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode changes: %w", err)
			}
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return transitions, nil
}

// PersistFindings bulk-loads lint findings with COPY.
func (s *Store) PersistFindings(ctx context.Context, findings []schemas.LintFinding) error {
	if len(findings) == 0 {
		return nil
	}
	rows := make([][]any, len(findings))
	for i, f := range findings {
		rows[i] = []any{
			auditID(f.ID),
			nullableText(f.InvestigationID),
			nullableText(string(f.Domain)),
			string(f.Kind),
			string(f.Severity),
			f.Detail,
			f.ObservedAt.UTC(),
		}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"lint_findings"},
		[]string{"id", "investigation_id", "domain", "kind", "severity", "detail", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy lint findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

func encodeState(state *schemas.InvestigationState) (settings, progress, results []byte, err error) {
	if settings, err = encodeNullable(state.Settings); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	if progress, err = encodeNullable(state.Progress); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode progress: %w", err)
	}
	if results, err = encodeNullable(state.Results); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode results: %w", err)
	}
	return settings, progress, results, nil
}

// encodeNullable maps a nil pointer to SQL NULL instead of the JSON literal null.
func encodeNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeNullable[T any](data []byte, dst **T) error {
	if len(data) == 0 || string(data) == "null" {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// auditID parses a string ID, generating a fresh UUID when it is not one.
func auditID(id string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	return uuid.New()
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

const timeLayout = time.RFC3339Nano

// SQLiteStore is the durable execution store. Named queries live in embedded
// .sql files; all transitions run inside transactions so a crash never leaves
// a half-applied row.
type SQLiteStore struct {
	db       *sqlx.DB
	dot      *dotsql.DotSql
	claimTTL time.Duration
	now      func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClaimTTL overrides the stale-claim threshold.
func WithSQLiteClaimTTL(ttl time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// WithSQLiteClock injects the time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for throwaway stores.
func OpenSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; a single connection avoids lock contention
	// between claim transactions.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db, opts...)
}

// NewSQLiteStore wraps an existing sqlx handle and ensures the schema.
func NewSQLiteStore(db *sqlx.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	dot, err := loadQueries()
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{
		db:       db,
		dot:      dot,
		claimTTL: DefaultClaimTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func loadQueries() (*dotsql.DotSql, error) {
	var combined string
	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return err
		}
		combined += string(content) + "\n"
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dotsql.LoadFromString(combined)
}

func (s *SQLiteStore) ensureSchema() error {
	for _, name := range []string{
		"create-executions-table",
		"create-history-table",
		"create-pair-index",
		"create-status-index",
	} {
		if _, err := s.dot.Exec(s.db.DB, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) raw(name string) (string, error) {
	return s.dot.Raw(name)
}

// Create implements ExecutionStore.
func (s *SQLiteStore) Create(ctx context.Context, exec *automation.Execution) (*automation.Execution, error) {
	if exec == nil || exec.Rule == "" || exec.CorrelationID == "" {
		return nil, automation.NewRuleError("", "execution requires rule and correlation id", nil)
	}

	row := exec.Clone()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.LastTransitionAt = now
	row.Status = automation.StatusPending

	var conflictWith string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		count, err := s.countQuery(ctx, tx, "count-active-for-pair", row.Rule, row.CorrelationID, row.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			row.Status = automation.StatusSkipped
			conflictWith = "active"
		}
		snapshot, err := encodeSnapshot(row.Snapshot)
		if err != nil {
			return err
		}
		insert, err := s.raw("insert-execution")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, insert,
			row.ID, row.Rule, row.CorrelationID, string(row.Status),
			row.ActionCursor, row.Attempt, snapshot,
			row.CreatedAt.Format(timeLayout), row.LastTransitionAt.Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	if conflictWith != "" {
		return row, conflictError(row.Rule, row.CorrelationID, conflictWith)
	}
	return row, nil
}

// Claim implements ExecutionStore.
func (s *SQLiteStore) Claim(ctx context.Context, id string) (*automation.Execution, error) {
	now := s.now().UTC()
	stale := now.Add(-s.claimTTL)

	var claimed *automation.Execution
	var conflict error
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		row, err := s.getTx(ctx, tx, id)
		if err != nil {
			return err
		}

		running, err := s.countQuery(ctx, tx, "count-running-for-pair",
			row.Rule, row.CorrelationID, row.ID, stale.Format(timeLayout))
		if err != nil {
			return err
		}
		if running > 0 {
			skip, err := s.raw("mark-skipped")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, skip, now.Format(timeLayout), row.ID); err != nil {
				return err
			}
			row.Status = automation.StatusSkipped
			row.LastTransitionAt = now
			claimed = row
			conflict = conflictError(row.Rule, row.CorrelationID, "running")
			return nil
		}

		claim, err := s.raw("claim-execution")
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, claim, now.Format(timeLayout), row.ID, stale.Format(timeLayout))
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			err := automation.ErrStoreConflict.Clone()
			return err.WithMetadata(map[string]any{
				"execution_id": id,
				"status":       string(row.Status),
			})
		}
		row.Status = automation.StatusRunning
		row.LastTransitionAt = now
		claimed = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, conflict
}

// AppendOutcome implements ExecutionStore.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, id string, outcome automation.ActionOutcome, cursor, attempt int) error {
	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		insert, err := s.raw("insert-outcome")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert,
			id, outcome.ActionIndex, outcome.Attempt, string(outcome.Result), outcome.Error,
			outcome.StartedAt.UTC().Format(timeLayout), outcome.FinishedAt.UTC().Format(timeLayout),
		); err != nil {
			return err
		}
		update, err := s.raw("update-progress")
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, update, cursor, attempt, now.Format(timeLayout), id)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			err := automation.ErrStoreConflict.Clone()
			err.Message = "execution is terminal or missing"
			return err.WithMetadata(map[string]any{"execution_id": id})
		}
		return nil
	})
}

// MarkTerminal implements ExecutionStore.
func (s *SQLiteStore) MarkTerminal(ctx context.Context, id string, status automation.Status) error {
	if !status.Terminal() {
		return automation.NewRuleError("", "status is not terminal", map[string]any{
			"status": string(status),
		})
	}
	update, err := s.raw("mark-terminal")
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, update, string(status), s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		err := automation.ErrStoreConflict.Clone()
		err.Message = "execution is terminal or missing"
		return err.WithMetadata(map[string]any{"execution_id": id})
	}
	return nil
}

// ListRunnable implements ExecutionStore.
func (s *SQLiteStore) ListRunnable(ctx context.Context, limit int) ([]*automation.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	stale := s.now().UTC().Add(-s.claimTTL)
	return s.selectExecutions(ctx, "list-runnable", stale.Format(timeLayout), limit)
}

// Get implements ExecutionStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*automation.Execution, error) {
	query, err := s.raw("get-execution")
	if err != nil {
		return nil, err
	}
	var row executionRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError(id)
		}
		return nil, err
	}
	exec, err := row.toExecution()
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, s.db, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// History implements ExecutionStore.
func (s *SQLiteStore) History(ctx context.Context, rule, correlationID string) ([]*automation.Execution, error) {
	return s.selectExecutions(ctx, "list-for-pair", rule, correlationID)
}

// ListByStatus implements ExecutionStore.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status automation.Status, limit int) ([]*automation.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.selectExecutions(ctx, "list-by-status", string(status), limit)
}

func (s *SQLiteStore) selectExecutions(ctx context.Context, name string, args ...any) ([]*automation.Execution, error) {
	query, err := s.raw(name)
	if err != nil {
		return nil, err
	}
	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*automation.Execution, 0, len(rows))
	for _, row := range rows {
		exec, err := row.toExecution()
		if err != nil {
			return nil, err
		}
		if err := s.loadHistory(ctx, s.db, exec); err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

func (s *SQLiteStore) loadHistory(ctx context.Context, q sqlx.QueryerContext, exec *automation.Execution) error {
	query, err := s.raw("list-outcomes")
	if err != nil {
		return err
	}
	var rows []outcomeRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, exec.ID); err != nil {
		return err
	}
	for _, row := range rows {
		outcome, err := row.toOutcome()
		if err != nil {
			return err
		}
		exec.History = append(exec.History, outcome)
	}
	return nil
}

func (s *SQLiteStore) getTx(ctx context.Context, tx *sqlx.Tx, id string) (*automation.Execution, error) {
	query, err := s.raw("get-execution")
	if err != nil {
		return nil, err
	}
	var row executionRow
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError(id)
		}
		return nil, err
	}
	exec, err := row.toExecution()
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, tx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *SQLiteStore) countQuery(ctx context.Context, tx *sqlx.Tx, name string, args ...any) (int, error) {
	query, err := s.raw(name)
	if err != nil {
		return 0, err
	}
	var count int
	if err := tx.GetContext(ctx, &count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type executionRow struct {
	ID               string         `db:"id"`
	Rule             string         `db:"rule"`
	CorrelationID    string         `db:"correlation_id"`
	Status           string         `db:"status"`
	ActionCursor     int            `db:"action_cursor"`
	Attempt          int            `db:"attempt"`
	Snapshot         sql.NullString `db:"snapshot"`
	CreatedAt        string         `db:"created_at"`
	LastTransitionAt string         `db:"last_transition_at"`
}

func (r executionRow) toExecution() (*automation.Execution, error) {
	createdAt, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	lastTransition, err := time.Parse(timeLayout, r.LastTransitionAt)
	if err != nil {
		return nil, err
	}
	exec := &automation.Execution{
		ID:               r.ID,
		Rule:             r.Rule,
		CorrelationID:    r.CorrelationID,
		Status:           automation.Status(r.Status),
		ActionCursor:     r.ActionCursor,
		Attempt:          r.Attempt,
		CreatedAt:        createdAt,
		LastTransitionAt: lastTransition,
	}
	if r.Snapshot.Valid && r.Snapshot.String != "" {
		var snapshot automation.Snapshot
		if err := json.Unmarshal([]byte(r.Snapshot.String), &snapshot); err != nil {
			return nil, err
		}
		exec.Snapshot = snapshot
	}
	return exec, nil
}

type outcomeRow struct {
	ActionIndex int    `db:"action_index"`
	Attempt     int    `db:"attempt"`
	Result      string `db:"result"`
	Error       string `db:"error"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
}

func (r outcomeRow) toOutcome() (automation.ActionOutcome, error) {
	startedAt, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return automation.ActionOutcome{}, err
	}
	finishedAt, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return automation.ActionOutcome{}, err
	}
	return automation.ActionOutcome{
		ActionIndex: r.ActionIndex,
		Attempt:     r.Attempt,
		Result:      automation.Result(r.Result),
		Error:       r.Error,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}, nil
}

func encodeSnapshot(snapshot automation.Snapshot) (sql.NullString, error) {
	if snapshot == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

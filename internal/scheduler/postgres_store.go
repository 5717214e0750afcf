package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements ExecutionStore.
var _ ExecutionStore = (*PostgresStore)(nil)

// PostgresStore implements ExecutionStore backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed execution store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the execution_logs table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS execution_logs (
			id           VARCHAR(40) PRIMARY KEY,
			type         VARCHAR(20) NOT NULL,
			target_date  DATE NOT NULL,
			status       VARCHAR(20) NOT NULL,
			current_step VARCHAR(60),
			steps        JSONB,
			retry_count  INT NOT NULL DEFAULT 0,
			force        BOOLEAN NOT NULL DEFAULT FALSE,
			started_at   TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			result       TEXT,
			error        TEXT,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_execution_logs_created ON execution_logs(created_at);
		CREATE INDEX IF NOT EXISTS idx_execution_logs_status ON execution_logs(status);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, e *Execution) error {
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO execution_logs (
			id, type, target_date, status, current_step, steps,
			retry_count, force, started_at, completed_at, result, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		e.ID, string(e.Type), e.TargetDate, string(e.Status), e.CurrentStep, steps,
		e.RetryCount, e.Force, nullTime(e.StartedAt), nullTime(e.CompletedAt),
		e.Result, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, e *Execution) error {
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE execution_logs SET
			status = $2, current_step = $3, steps = $4, retry_count = $5,
			started_at = $6, completed_at = $7, result = $8, error = $9
		WHERE id = $1
	`,
		e.ID, string(e.Status), e.CurrentStep, steps, e.RetryCount,
		nullTime(e.StartedAt), nullTime(e.CompletedAt), e.Result, e.Error,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Execution, error) {
	row := p.db.QueryRowContext(ctx, selectExecution+` WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) Recent(ctx context.Context, days int) ([]*Execution, error) {
	if days <= 0 || days > retentionDays {
		days = retentionDays
	}
	rows, err := p.db.QueryContext(ctx, selectExecution+`
		WHERE created_at > NOW() - ($1 || ' days')::INTERVAL
		ORDER BY created_at DESC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanExecutions(rows)
}

func (p *PostgresStore) Running(ctx context.Context) ([]*Execution, error) {
	rows, err := p.db.QueryContext(ctx, selectExecution+`
		WHERE status IN ('scheduled', 'running', 'retrying')
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("running executions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanExecutions(rows)
}

func (p *PostgresStore) Prune(ctx context.Context, cutoff time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM execution_logs
		WHERE created_at < $1 AND status IN ('completed', 'failed')
	`, cutoff)
	if err != nil {
		return fmt.Errorf("prune executions: %w", err)
	}
	return nil
}

const selectExecution = `
	SELECT id, type, to_char(target_date, 'YYYY-MM-DD'), status, COALESCE(current_step, ''),
		steps, retry_count, force, started_at, completed_at,
		COALESCE(result, ''), COALESCE(error, ''), created_at
	FROM execution_logs
`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row scannable) (*Execution, error) {
	var e Execution
	var execType, status string
	var steps []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&e.ID, &execType, &e.TargetDate, &status, &e.CurrentStep,
		&steps, &e.RetryCount, &e.Force, &startedAt, &completedAt,
		&e.Result, &e.Error, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = ExecutionType(execType)
	e.Status = ExecutionStatus(status)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &e.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

func scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	var result []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

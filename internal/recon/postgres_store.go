package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements OutcomeStore.
var _ OutcomeStore = (*PostgresStore)(nil)

// PostgresStore implements OutcomeStore backed by PostgreSQL. Scalar
// fields live in columns for querying; discrepancy detail goes to JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed outcome store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the reconciliation_outcomes table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_outcomes (
			platform           VARCHAR(40) NOT NULL,
			date               DATE NOT NULL,
			settlement_count   INT NOT NULL,
			event_count        INT NOT NULL,
			exact_matches      INT NOT NULL,
			pattern_matches    INT NOT NULL,
			unmatched_settlements INT NOT NULL,
			unmatched_events   INT NOT NULL,
			total_discrepancies INT NOT NULL,
			auto_resolved      INT NOT NULL,
			unresolved         INT NOT NULL,
			processing_time_ms BIGINT NOT NULL,
			status             VARCHAR(30) NOT NULL,
			matching_rate      DOUBLE PRECISION NOT NULL,
			auto_resolution_rate DOUBLE PRECISION NOT NULL,
			detail             JSONB,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (platform, date)
		);
		CREATE INDEX IF NOT EXISTS idx_recon_outcomes_date ON reconciliation_outcomes(date);
	`)
	return err
}

type outcomeDetail struct {
	Discrepancies []Discrepancy         `json:"discrepancies,omitempty"`
	Resolved      []ResolvedDiscrepancy `json:"resolved,omitempty"`
}

// Save upserts the outcome for its (platform, date) key.
func (p *PostgresStore) Save(ctx context.Context, o *Outcome) error {
	detail, err := json.Marshal(outcomeDetail{Discrepancies: o.Discrepancies, Resolved: o.Resolved})
	if err != nil {
		return fmt.Errorf("marshal outcome detail: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reconciliation_outcomes (
			platform, date, settlement_count, event_count,
			exact_matches, pattern_matches, unmatched_settlements, unmatched_events,
			total_discrepancies, auto_resolved, unresolved,
			processing_time_ms, status, matching_rate, auto_resolution_rate,
			detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (platform, date) DO UPDATE SET
			settlement_count = EXCLUDED.settlement_count,
			event_count = EXCLUDED.event_count,
			exact_matches = EXCLUDED.exact_matches,
			pattern_matches = EXCLUDED.pattern_matches,
			unmatched_settlements = EXCLUDED.unmatched_settlements,
			unmatched_events = EXCLUDED.unmatched_events,
			total_discrepancies = EXCLUDED.total_discrepancies,
			auto_resolved = EXCLUDED.auto_resolved,
			unresolved = EXCLUDED.unresolved,
			processing_time_ms = EXCLUDED.processing_time_ms,
			status = EXCLUDED.status,
			matching_rate = EXCLUDED.matching_rate,
			auto_resolution_rate = EXCLUDED.auto_resolution_rate,
			detail = EXCLUDED.detail,
			created_at = EXCLUDED.created_at
	`,
		o.Platform, o.Date, o.SettlementCount, o.EventCount,
		o.ExactMatches, o.PatternMatches, o.UnmatchedSettlements, o.UnmatchedEvents,
		o.TotalDiscrepancies, o.AutoResolved, o.Unresolved,
		o.ProcessingTimeMs, string(o.Status), o.MatchingRate, o.AutoResolutionRate,
		detail, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

// Get retrieves the outcome for a (platform, date) key.
func (p *PostgresStore) Get(ctx context.Context, platform, date string) (*Outcome, error) {
	row := p.db.QueryRowContext(ctx, selectOutcome+`
		WHERE platform = $1 AND date = $2
	`, platform, date)

	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return o, nil
}

// History returns up to limit outcomes for a platform, newest first.
func (p *PostgresStore) History(ctx context.Context, platform string, limit int) ([]*Outcome, error) {
	rows, err := p.db.QueryContext(ctx, selectOutcome+`
		WHERE platform = $1
		ORDER BY date DESC LIMIT $2
	`, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("outcome history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

// ByDate returns all platforms' outcomes for one date.
func (p *PostgresStore) ByDate(ctx context.Context, date string) ([]*Outcome, error) {
	rows, err := p.db.QueryContext(ctx, selectOutcome+`
		WHERE date = $1
		ORDER BY platform
	`, date)
	if err != nil {
		return nil, fmt.Errorf("outcomes by date: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

const selectOutcome = `
	SELECT platform, to_char(date, 'YYYY-MM-DD'), settlement_count, event_count,
		exact_matches, pattern_matches, unmatched_settlements, unmatched_events,
		total_discrepancies, auto_resolved, unresolved,
		processing_time_ms, status, matching_rate, auto_resolution_rate,
		detail, created_at
	FROM reconciliation_outcomes
`

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(row scannable) (*Outcome, error) {
	var o Outcome
	var status string
	var detail []byte

	err := row.Scan(
		&o.Platform, &o.Date, &o.SettlementCount, &o.EventCount,
		&o.ExactMatches, &o.PatternMatches, &o.UnmatchedSettlements, &o.UnmatchedEvents,
		&o.TotalDiscrepancies, &o.AutoResolved, &o.Unresolved,
		&o.ProcessingTimeMs, &status, &o.MatchingRate, &o.AutoResolutionRate,
		&detail, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	if len(detail) > 0 {
		var d outcomeDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return nil, fmt.Errorf("unmarshal outcome detail: %w", err)
		}
		o.Discrepancies = d.Discrepancies
		o.Resolved = d.Resolved
	}

	return &o, nil
}

func scanOutcomes(rows *sql.Rows) ([]*Outcome, error) {
	var result []*Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

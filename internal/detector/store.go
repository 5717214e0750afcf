package detector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// StateStore persists alert cooldown timestamps keyed by (platform,
// detection type) and the dispatched alert history.
type StateStore interface {
	// LastAlerted returns when the key last produced a dispatched alert.
	LastAlerted(ctx context.Context, platform string, dt DetectionType) (time.Time, bool, error)
	// MarkAlerted records an alert time for the key.
	MarkAlerted(ctx context.Context, platform string, dt DetectionType, at time.Time) error
	// SaveAlert appends to the alert history.
	SaveAlert(ctx context.Context, a *Alert) error
	// RecentAlerts returns the history, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]*Alert, error)
}

// alertHistoryLimit bounds the in-memory alert history.
const alertHistoryLimit = 200

// MemoryStateStore is the in-memory state store for demo/development mode.
type MemoryStateStore struct {
	cooldowns map[string]time.Time
	alerts    []*Alert
	mu        sync.RWMutex
}

// NewMemoryStateStore creates an in-memory detector state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{cooldowns: make(map[string]time.Time)}
}

func cooldownKey(platform string, dt DetectionType) string {
	return platform + ":" + string(dt)
}

func (m *MemoryStateStore) LastAlerted(ctx context.Context, platform string, dt DetectionType) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.cooldowns[cooldownKey(platform, dt)]
	return at, ok, nil
}

func (m *MemoryStateStore) MarkAlerted(ctx context.Context, platform string, dt DetectionType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[cooldownKey(platform, dt)] = at
	return nil
}

func (m *MemoryStateStore) SaveAlert(ctx context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	m.alerts = append(m.alerts, &cp)
	if len(m.alerts) > alertHistoryLimit {
		m.alerts = m.alerts[len(m.alerts)-alertHistoryLimit:]
	}
	return nil
}

func (m *MemoryStateStore) RecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var result []*Alert
	for i := len(m.alerts) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *m.alerts[i]
		result = append(result, &cp)
	}
	return result, nil
}

// Compile-time check that PostgresStateStore implements StateStore.
var _ StateStore = (*PostgresStateStore)(nil)

// PostgresStateStore implements StateStore backed by PostgreSQL.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore creates a PostgreSQL-backed detector state store.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db}
}

// Migrate creates the detector tables if they don't exist.
func (p *PostgresStateStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alert_cooldowns (
			platform       VARCHAR(40) NOT NULL,
			detection_type VARCHAR(40) NOT NULL,
			last_alerted   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (platform, detection_type)
		);
		CREATE TABLE IF NOT EXISTS alerts (
			id         VARCHAR(40) PRIMARY KEY,
			platform   VARCHAR(40) NOT NULL,
			detection_type VARCHAR(40) NOT NULL,
			severity   VARCHAR(20) NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			payload    JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
	`)
	return err
}

func (p *PostgresStateStore) LastAlerted(ctx context.Context, platform string, dt DetectionType) (time.Time, bool, error) {
	var at time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT last_alerted FROM alert_cooldowns
		WHERE platform = $1 AND detection_type = $2
	`, platform, string(dt)).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load cooldown: %w", err)
	}
	return at, true, nil
}

func (p *PostgresStateStore) MarkAlerted(ctx context.Context, platform string, dt DetectionType, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alert_cooldowns (platform, detection_type, last_alerted)
		VALUES ($1, $2, $3)
		ON CONFLICT (platform, detection_type) DO UPDATE SET last_alerted = EXCLUDED.last_alerted
	`, platform, string(dt), at)
	if err != nil {
		return fmt.Errorf("mark alerted: %w", err)
	}
	return nil
}

func (p *PostgresStateStore) SaveAlert(ctx context.Context, a *Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO alerts (id, platform, detection_type, severity, title, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.Platform, string(a.Type), string(a.Severity), a.Title, a.Message, payload, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

func (p *PostgresStateStore) RecentAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT payload FROM alerts
		ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*Alert
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a Alert
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

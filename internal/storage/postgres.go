package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/pkg/models"
)

// PostgresStore implements Store using PostgreSQL via pgx.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresStore creates a PostgreSQL-backed store and verifies
// connectivity before returning.
func NewPostgresStore(ctx context.Context, connString string, logger *logging.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Connection pool settings. Connections are borrowed briefly for the
	// claim and update transactions, never held across a probe.
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ps := &PostgresStore{
		pool:   pool,
		logger: logger.WithComponent(logging.ComponentStore),
	}

	if err := ps.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ps.logger.Info("PostgreSQL store initialized")
	return ps, nil
}

func (ps *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS monitors (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		url VARCHAR(1024) NOT NULL,
		method VARCHAR(16) NOT NULL DEFAULT 'GET',
		interval_seconds INTEGER NOT NULL DEFAULT 60,
		timeout_seconds INTEGER NOT NULL DEFAULT 10,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		owner_id BIGINT REFERENCES users(id),
		next_run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_checked_at TIMESTAMPTZ,
		last_status_code INTEGER,
		last_latency_ms BIGINT,
		last_outcome VARCHAR(16),
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS monitor_checks (
		id BIGSERIAL PRIMARY KEY,
		monitor_id BIGINT NOT NULL REFERENCES monitors(id),
		occurred_at TIMESTAMPTZ NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		status_code INTEGER,
		latency_ms BIGINT,
		error_message VARCHAR(1024)
	);

	-- Scheduler due-selection and alert window queries
	CREATE INDEX IF NOT EXISTS idx_monitors_enabled_next_run
		ON monitors(enabled, next_run_at);
	CREATE INDEX IF NOT EXISTS idx_monitor_checks_monitor_occurred
		ON monitor_checks(monitor_id, occurred_at);
	`

	_, err := ps.pool.Exec(ctx, schema)
	return err
}

const monitorColumns = `id, name, url, method, interval_seconds, timeout_seconds,
	enabled, owner_id, next_run_at, last_checked_at, last_status_code,
	last_latency_ms, last_outcome, consecutive_failures, created_at, updated_at`

func scanMonitor(row pgx.Row) (*models.Monitor, error) {
	var m models.Monitor
	var lastOutcome *string

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.URL,
		&m.Method,
		&m.IntervalSeconds,
		&m.TimeoutSeconds,
		&m.Enabled,
		&m.OwnerID,
		&m.NextRunAt,
		&m.LastCheckedAt,
		&m.LastStatusCode,
		&m.LastLatencyMs,
		&lastOutcome,
		&m.ConsecutiveFailures,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMonitorNotFound
		}
		return nil, fmt.Errorf("failed to scan monitor: %w", err)
	}

	if lastOutcome != nil {
		outcome := models.Outcome(*lastOutcome)
		m.LastOutcome = &outcome
	}
	return &m, nil
}

// ClaimDue claims up to limit due monitors inside one transaction. The
// SELECT skips rows locked by concurrent schedulers, so each due monitor is
// claimed at most once per lease.
func (ps *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int, claimTTL time.Duration) ([]int64, error) {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM monitors
		WHERE enabled = TRUE AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due monitors: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan monitor id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due monitors: %w", err)
	}

	if len(ids) == 0 {
		// Nothing due; roll back so the transaction writes nothing.
		return nil, nil
	}

	claimUntil := now.Add(claimTTL)
	if _, err := tx.Exec(ctx, `
		UPDATE monitors SET next_run_at = $1, updated_at = $2
		WHERE id = ANY($3)
	`, claimUntil, now, ids); err != nil {
		return nil, fmt.Errorf("failed to claim monitors: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return ids, nil
}

// GetMonitor loads one monitor row.
func (ps *PostgresStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	return scanMonitor(row)
}

// ApplyCheckResult reloads the monitor under a row lock, applies the
// state-update rules, inserts the check record, and commits.
func (ps *PostgresStore) ApplyCheckResult(ctx context.Context, id int64, result *models.CheckResult, nextRun NextRunFunc) (*models.Monitor, error) {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMonitor(row)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	completedAt := result.CompletedAt

	m.LastCheckedAt = &completedAt
	m.LastStatusCode = result.StatusCode
	m.LastLatencyMs = result.LatencyMs
	outcome := result.Outcome
	m.LastOutcome = &outcome
	m.UpdatedAt = now

	if result.Outcome == models.OutcomeUp {
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
	}

	m.NextRunAt = nextRun(m, result.Outcome)

	if _, err := tx.Exec(ctx, `
		UPDATE monitors SET
			last_checked_at = $1,
			last_status_code = $2,
			last_latency_ms = $3,
			last_outcome = $4,
			consecutive_failures = $5,
			next_run_at = $6,
			updated_at = $7
		WHERE id = $8
	`,
		m.LastCheckedAt,
		m.LastStatusCode,
		m.LastLatencyMs,
		string(outcome),
		m.ConsecutiveFailures,
		m.NextRunAt,
		m.UpdatedAt,
		m.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to update monitor: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO monitor_checks (monitor_id, occurred_at, outcome, status_code, latency_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		m.ID,
		result.CompletedAt,
		string(result.Outcome),
		result.StatusCode,
		result.LatencyMs,
		result.ErrorMessage,
	); err != nil {
		return nil, fmt.Errorf("failed to insert check record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit check result: %w", err)
	}

	return m, nil
}

// CountDownSince counts down checks in the sliding alert window.
func (ps *PostgresStore) CountDownSince(ctx context.Context, monitorID int64, since time.Time) (int, error) {
	var count int
	err := ps.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM monitor_checks
		WHERE monitor_id = $1 AND outcome = 'down' AND occurred_at >= $2
	`, monitorID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count down checks: %w", err)
	}
	return count, nil
}

// GetUser loads one user row.
func (ps *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := ps.pool.QueryRow(ctx,
		`SELECT id, email, is_active FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// Ping verifies database connectivity.
func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close releases the connection pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

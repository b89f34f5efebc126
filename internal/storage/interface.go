// Package storage provides transactional persistence for monitors, check
// records, and users, including the skip-locked claim protocol the scheduler
// relies on.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/monitron-io/monitron/pkg/models"
)

// ErrMonitorNotFound is returned when a monitor row does not exist.
var ErrMonitorNotFound = errors.New("monitor not found")

// ErrUserNotFound is returned when a user row does not exist.
var ErrUserNotFound = errors.New("user not found")

// NextRunFunc computes the next run time for a monitor. It is invoked inside
// the update transaction after the state-update rules have been applied, so
// the failure counter it observes is already incremented or reset.
type NextRunFunc func(m *models.Monitor, outcome models.Outcome) time.Time

// Store is the persistence interface the probe engine runs against.
type Store interface {
	// ClaimDue atomically claims up to limit due monitors by advancing their
	// next_run_at to now+claimTTL under row locks that skip already-locked
	// rows. Concurrent callers never claim the same monitor.
	ClaimDue(ctx context.Context, now time.Time, limit int, claimTTL time.Duration) ([]int64, error)

	// GetMonitor loads a monitor row. Returns ErrMonitorNotFound if absent.
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)

	// ApplyCheckResult applies the state-update rules and inserts the check
	// record in a single transaction, then returns the updated monitor.
	// Returns ErrMonitorNotFound if the monitor vanished mid-check.
	ApplyCheckResult(ctx context.Context, id int64, result *models.CheckResult, nextRun NextRunFunc) (*models.Monitor, error)

	// CountDownSince counts down checks for a monitor with
	// occurred_at >= since.
	CountDownSince(ctx context.Context, monitorID int64, since time.Time) (int, error)

	// GetUser loads a user row for alert routing. Returns ErrUserNotFound
	// if absent.
	GetUser(ctx context.Context, id int64) (*models.User, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases all resources.
	Close() error
}

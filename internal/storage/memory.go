package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/monitron-io/monitron/pkg/models"
)

// MemoryStore is an in-memory Store with the same claim and update semantics
// as the PostgreSQL implementation. It backs unit tests and local
// experimentation; the single mutex stands in for row locks, so concurrent
// claimers still never claim the same monitor.
type MemoryStore struct {
	mu          sync.Mutex
	monitors    map[int64]*models.Monitor
	checks      []*models.MonitorCheck
	users       map[int64]*models.User
	nextMonitor int64
	nextCheck   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monitors: make(map[int64]*models.Monitor),
		users:    make(map[int64]*models.User),
	}
}

func copyMonitor(m *models.Monitor) *models.Monitor {
	cp := *m
	if m.OwnerID != nil {
		v := *m.OwnerID
		cp.OwnerID = &v
	}
	if m.LastCheckedAt != nil {
		v := *m.LastCheckedAt
		cp.LastCheckedAt = &v
	}
	if m.LastStatusCode != nil {
		v := *m.LastStatusCode
		cp.LastStatusCode = &v
	}
	if m.LastLatencyMs != nil {
		v := *m.LastLatencyMs
		cp.LastLatencyMs = &v
	}
	if m.LastOutcome != nil {
		v := *m.LastOutcome
		cp.LastOutcome = &v
	}
	return &cp
}

// AddMonitor stores a monitor, assigning an id if missing, and returns the id.
func (ms *MemoryStore) AddMonitor(m *models.Monitor) int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if m.ID == 0 {
		ms.nextMonitor++
		m.ID = ms.nextMonitor
	} else if m.ID > ms.nextMonitor {
		ms.nextMonitor = m.ID
	}
	ms.monitors[m.ID] = copyMonitor(m)
	return m.ID
}

// AddUser stores a user, assigning an id if missing, and returns the id.
func (ms *MemoryStore) AddUser(u *models.User) int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if u.ID == 0 {
		u.ID = int64(len(ms.users) + 1)
	}
	cp := *u
	ms.users[u.ID] = &cp
	return u.ID
}

// DeleteMonitor removes a monitor, simulating the vanished-mid-check case.
func (ms *MemoryStore) DeleteMonitor(id int64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.monitors, id)
}

// Checks returns copies of all check records for a monitor, ordered by
// occurred_at then id.
func (ms *MemoryStore) Checks(monitorID int64) []*models.MonitorCheck {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []*models.MonitorCheck
	for _, c := range ms.checks {
		if c.MonitorID == monitorID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

// ClaimDue implements Store.
func (ms *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int, claimTTL time.Duration) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	var due []*models.Monitor
	for _, m := range ms.monitors {
		if m.Enabled && !m.NextRunAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimUntil := now.Add(claimTTL)
	ids := make([]int64, 0, len(due))
	for _, m := range due {
		m.NextRunAt = claimUntil
		m.UpdatedAt = now
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// GetMonitor implements Store.
func (ms *MemoryStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.monitors[id]
	if !ok {
		return nil, ErrMonitorNotFound
	}
	return copyMonitor(m), nil
}

// ApplyCheckResult implements Store.
func (ms *MemoryStore) ApplyCheckResult(ctx context.Context, id int64, result *models.CheckResult, nextRun NextRunFunc) (*models.Monitor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	m, ok := ms.monitors[id]
	if !ok {
		return nil, ErrMonitorNotFound
	}

	completedAt := result.CompletedAt
	outcome := result.Outcome

	m.LastCheckedAt = &completedAt
	m.LastStatusCode = result.StatusCode
	m.LastLatencyMs = result.LatencyMs
	m.LastOutcome = &outcome
	m.UpdatedAt = time.Now().UTC()

	if result.Outcome == models.OutcomeUp {
		m.ConsecutiveFailures = 0
	} else {
		m.ConsecutiveFailures++
	}

	m.NextRunAt = nextRun(m, result.Outcome)

	ms.nextCheck++
	check := &models.MonitorCheck{
		ID:           ms.nextCheck,
		MonitorID:    m.ID,
		OccurredAt:   result.CompletedAt,
		Outcome:      result.Outcome,
		StatusCode:   result.StatusCode,
		LatencyMs:    result.LatencyMs,
		ErrorMessage: result.ErrorMessage,
	}
	ms.checks = append(ms.checks, check)

	return copyMonitor(m), nil
}

// CountDownSince implements Store.
func (ms *MemoryStore) CountDownSince(ctx context.Context, monitorID int64, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	count := 0
	for _, c := range ms.checks {
		if c.MonitorID == monitorID && c.Outcome == models.OutcomeDown && !c.OccurredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// GetUser implements Store.
func (ms *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	u, ok := ms.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Ping implements Store.
func (ms *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store.
func (ms *MemoryStore) Close() error {
	return nil
}

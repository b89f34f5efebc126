package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/monitron-io/monitron/pkg/models"
)

func seedMonitor(t *testing.T, ms *MemoryStore, nextRun time.Time, enabled bool) int64 {
	t.Helper()
	return ms.AddMonitor(&models.Monitor{
		Name:            "seeded",
		URL:             "http://example.com",
		Method:          "GET",
		IntervalSeconds: 60,
		TimeoutSeconds:  5,
		Enabled:         enabled,
		NextRunAt:       nextRun,
	})
}

func TestClaimDueSkipsDisabledAndFutureMonitors(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	dueID := seedMonitor(t, ms, now.Add(-time.Minute), true)
	seedMonitor(t, ms, now.Add(-time.Minute), false)      // disabled
	seedMonitor(t, ms, now.Add(time.Hour), true)          // not due

	ids, err := ms.ClaimDue(context.Background(), now, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimDue returned error: %v", err)
	}

	if len(ids) != 1 || ids[0] != dueID {
		t.Fatalf("expected only the due enabled monitor, got %v", ids)
	}
}

func TestClaimDueAdvancesNextRunByLease(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now.Add(-time.Second), true)

	ttl := 30 * time.Second
	if _, err := ms.ClaimDue(context.Background(), now, 10, ttl); err != nil {
		t.Fatalf("ClaimDue returned error: %v", err)
	}

	m, err := ms.GetMonitor(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMonitor returned error: %v", err)
	}

	if !m.NextRunAt.Equal(now.Add(ttl)) {
		t.Fatalf("expected next_run_at %s, got %s", now.Add(ttl), m.NextRunAt)
	}

	// A second claim within the lease must find nothing due.
	ids, err := ms.ClaimDue(context.Background(), now, 10, ttl)
	if err != nil {
		t.Fatalf("ClaimDue returned error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no monitors due within the lease, got %v", ids)
	}
}

func TestClaimDueOrdersByNextRunAndHonorsLimit(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	older := seedMonitor(t, ms, now.Add(-2*time.Hour), true)
	newer := seedMonitor(t, ms, now.Add(-time.Minute), true)
	_ = newer

	ids, err := ms.ClaimDue(context.Background(), now, 1, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimDue returned error: %v", err)
	}

	if len(ids) != 1 || ids[0] != older {
		t.Fatalf("expected oldest due monitor first, got %v", ids)
	}
}

func TestConcurrentClaimersNeverShareAMonitor(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	const dueCount = 10
	for i := 0; i < dueCount; i++ {
		seedMonitor(t, ms, now.Add(-time.Minute), true)
	}

	// Two scheduler instances poll simultaneously with limit 20.
	var wg sync.WaitGroup
	results := make([][]int64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			ids, err := ms.ClaimDue(context.Background(), now, 20, 30*time.Second)
			if err != nil {
				t.Errorf("ClaimDue returned error: %v", err)
				return
			}
			results[slot] = ids
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]int)
	for _, ids := range results {
		for _, id := range ids {
			seen[id]++
		}
	}

	if len(seen) != dueCount {
		t.Fatalf("expected all %d due monitors claimed, got %d", dueCount, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("monitor %d claimed %d times", id, count)
		}
	}
}

func TestApplyCheckResultUpdatesStateAndAppendsCheck(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now, true)

	code := 200
	latency := int64(42)
	result := &models.CheckResult{
		Outcome:     models.OutcomeUp,
		CompletedAt: now,
		StatusCode:  &code,
		LatencyMs:   &latency,
	}

	next := now.Add(time.Minute)
	m, err := ms.ApplyCheckResult(context.Background(), id, result, func(m *models.Monitor, outcome models.Outcome) time.Time {
		return next
	})
	if err != nil {
		t.Fatalf("ApplyCheckResult returned error: %v", err)
	}

	if m.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures reset on up, got %d", m.ConsecutiveFailures)
	}
	if m.LastOutcome == nil || *m.LastOutcome != models.OutcomeUp {
		t.Fatalf("expected last_outcome up, got %v", m.LastOutcome)
	}
	if !m.NextRunAt.Equal(next) {
		t.Fatalf("expected next_run_at %s, got %s", next, m.NextRunAt)
	}

	checks := ms.Checks(id)
	if len(checks) != 1 {
		t.Fatalf("expected 1 check record, got %d", len(checks))
	}
	if checks[0].Outcome != models.OutcomeUp || *checks[0].StatusCode != 200 {
		t.Fatalf("unexpected check record: %+v", checks[0])
	}
}

func TestApplyCheckResultIncrementsFailuresByOne(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now, true)

	msg := "connection refused"
	result := &models.CheckResult{
		Outcome:      models.OutcomeDown,
		CompletedAt:  now,
		ErrorMessage: &msg,
	}

	noop := func(m *models.Monitor, outcome models.Outcome) time.Time { return now.Add(time.Minute) }

	for want := 1; want <= 3; want++ {
		m, err := ms.ApplyCheckResult(context.Background(), id, result, noop)
		if err != nil {
			t.Fatalf("ApplyCheckResult returned error: %v", err)
		}
		if m.ConsecutiveFailures != want {
			t.Fatalf("expected %d consecutive failures, got %d", want, m.ConsecutiveFailures)
		}
	}

	if len(ms.Checks(id)) != 3 {
		t.Fatalf("expected 3 check records")
	}
}

func TestApplyCheckResultNextRunSeesUpdatedCounter(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now, true)

	msg := "timeout"
	result := &models.CheckResult{
		Outcome:      models.OutcomeDown,
		CompletedAt:  now,
		ErrorMessage: &msg,
	}

	var observed int
	_, err := ms.ApplyCheckResult(context.Background(), id, result, func(m *models.Monitor, outcome models.Outcome) time.Time {
		observed = m.ConsecutiveFailures
		return now.Add(time.Minute)
	})
	if err != nil {
		t.Fatalf("ApplyCheckResult returned error: %v", err)
	}

	if observed != 1 {
		t.Fatalf("nextRun callback should see incremented counter, got %d", observed)
	}
}

func TestApplyCheckResultMonitorVanished(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now, true)
	ms.DeleteMonitor(id)

	result := &models.CheckResult{Outcome: models.OutcomeUp, CompletedAt: now}
	_, err := ms.ApplyCheckResult(context.Background(), id, result, func(m *models.Monitor, outcome models.Outcome) time.Time {
		return now
	})
	if !errors.Is(err, ErrMonitorNotFound) {
		t.Fatalf("expected ErrMonitorNotFound, got %v", err)
	}

	if len(ms.Checks(id)) != 0 {
		t.Fatalf("no check record should be written for a vanished monitor")
	}
}

func TestCountDownSinceRespectsWindowAndOutcome(t *testing.T) {
	ms := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := seedMonitor(t, ms, now, true)

	noop := func(m *models.Monitor, outcome models.Outcome) time.Time { return now.Add(time.Minute) }
	msg := "503"

	apply := func(outcome models.Outcome, at time.Time) {
		t.Helper()
		result := &models.CheckResult{Outcome: outcome, CompletedAt: at}
		if outcome == models.OutcomeDown {
			result.ErrorMessage = &msg
		}
		if _, err := ms.ApplyCheckResult(context.Background(), id, result, noop); err != nil {
			t.Fatalf("ApplyCheckResult returned error: %v", err)
		}
	}

	apply(models.OutcomeDown, now.Add(-2*time.Hour)) // outside window
	apply(models.OutcomeDown, now.Add(-30*time.Minute))
	apply(models.OutcomeUp, now.Add(-20*time.Minute)) // wrong outcome
	apply(models.OutcomeDown, now.Add(-10*time.Minute))

	count, err := ms.CountDownSince(context.Background(), id, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountDownSince returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 down checks in window, got %d", count)
	}
}

func TestGetUser(t *testing.T) {
	ms := NewMemoryStore()
	id := ms.AddUser(&models.User{Email: "owner@example.com", IsActive: true})

	u, err := ms.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if u.Email != "owner@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := ms.GetUser(context.Background(), 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

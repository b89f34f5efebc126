// Package models defines core data structures for monitors, check results,
// and retry policies shared across the application.
package models

import (
	"time"
)

// Outcome represents the result classification of a single probe.
type Outcome string

const (
	OutcomeUp   Outcome = "up"
	OutcomeDown Outcome = "down"
)

// Monitor represents a scheduled probe target persisted in the store.
type Monitor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Method string `json:"method"`

	IntervalSeconds int    `json:"interval_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	Enabled         bool   `json:"enabled"`
	OwnerID         *int64 `json:"owner_id,omitempty"`

	// Runtime state maintained by the probe engine. NextRunAt doubles as the
	// due signal and the claim lease: the scheduler never dispatches a
	// monitor before this moment.
	NextRunAt           time.Time  `json:"next_run_at"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
	LastStatusCode      *int       `json:"last_status_code,omitempty"`
	LastLatencyMs       *int64     `json:"last_latency_ms,omitempty"`
	LastOutcome         *Outcome   `json:"last_outcome,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interval returns the configured polling interval as a time.Duration.
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Timeout returns the configured probe timeout as a time.Duration.
func (m *Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// Snapshot returns the immutable view of the monitor used while a probe is
// in flight. The snapshot is owned by the executing task and never shared.
func (m *Monitor) Snapshot() *MonitorSnapshot {
	return &MonitorSnapshot{
		ID:              m.ID,
		Name:            m.Name,
		URL:             m.URL,
		Method:          m.Method,
		IntervalSeconds: m.IntervalSeconds,
		TimeoutSeconds:  m.TimeoutSeconds,
	}
}

// MonitorSnapshot is the value object handed to the probe client.
type MonitorSnapshot struct {
	ID              int64
	Name            string
	URL             string
	Method          string
	IntervalSeconds int
	TimeoutSeconds  int
}

// Timeout returns the probe deadline for this snapshot.
func (s *MonitorSnapshot) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// MonitorCheck is one append-only probe record. Rows are created by the
// check executor and never mutated.
type MonitorCheck struct {
	ID           int64     `json:"id"`
	MonitorID    int64     `json:"monitor_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	Outcome      Outcome   `json:"outcome"`
	StatusCode   *int      `json:"status_code,omitempty"`
	LatencyMs    *int64    `json:"latency_ms,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// CheckResult is the in-memory outcome of a single probe before it is
// persisted. Exactly one of (StatusCode, LatencyMs) or ErrorMessage is set.
type CheckResult struct {
	Outcome      Outcome
	CompletedAt  time.Time
	StatusCode   *int
	LatencyMs    *int64
	ErrorMessage *string
}

// User is read by the alert engine for routing only; the probe engine never
// mutates user rows.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

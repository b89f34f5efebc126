package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RetryStage describes a contiguous range of consecutive-failure counts that
// share a common retry interval. Attempts == 0 marks the terminal unbounded
// stage.
type RetryStage struct {
	Attempts int      `yaml:"attempts" json:"attempts" mapstructure:"attempts"`
	Interval Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
}

// Unbounded reports whether this stage absorbs all remaining failures.
func (s RetryStage) Unbounded() bool {
	return s.Attempts <= 0
}

// DefaultRetryStages returns the canonical staged backoff: first two failures
// retry in 30s, next five in 60s, next twelve in 120s, steady state 300s.
func DefaultRetryStages() []RetryStage {
	return []RetryStage{
		{Attempts: 2, Interval: Duration(30 * time.Second)},
		{Attempts: 5, Interval: Duration(60 * time.Second)},
		{Attempts: 12, Interval: Duration(120 * time.Second)},
		{Attempts: 0, Interval: Duration(300 * time.Second)},
	}
}

// ParseRetryStages parses the compact configuration form
// "2:30s,5:60s,12:120s,*:5m". A "*" attempt count marks the terminal
// unbounded stage; only the last stage may be unbounded.
func ParseRetryStages(s string) ([]RetryStage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRetryStages(), nil
	}

	parts := strings.Split(s, ",")
	stages := make([]RetryStage, 0, len(parts))

	for i, part := range parts {
		part = strings.TrimSpace(part)
		attemptStr, intervalStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("retry stage %q must be attempts:interval", part)
		}

		interval, err := time.ParseDuration(strings.TrimSpace(intervalStr))
		if err != nil {
			return nil, fmt.Errorf("retry stage %q has invalid interval: %w", part, err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("retry stage %q interval must be positive", part)
		}

		stage := RetryStage{Interval: Duration(interval)}
		attemptStr = strings.TrimSpace(attemptStr)
		if attemptStr == "*" {
			if i != len(parts)-1 {
				return nil, fmt.Errorf("unbounded retry stage %q must be last", part)
			}
		} else {
			attempts, err := strconv.Atoi(attemptStr)
			if err != nil || attempts <= 0 {
				return nil, fmt.Errorf("retry stage %q has invalid attempt count", part)
			}
			stage.Attempts = attempts
		}

		stages = append(stages, stage)
	}

	return stages, nil
}

// ValidateRetryStages checks that the stage list is well formed: non-empty
// intervals, and no bounded stage after an unbounded one.
func ValidateRetryStages(stages []RetryStage) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one retry stage is required")
	}
	for i, stage := range stages {
		if stage.Interval <= 0 {
			return fmt.Errorf("retry stage %d has non-positive interval", i)
		}
		if stage.Unbounded() && i != len(stages)-1 {
			return fmt.Errorf("unbounded retry stage %d must be last", i)
		}
	}
	return nil
}

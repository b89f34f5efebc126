package executor

import (
	"time"

	"github.com/monitron-io/monitron/pkg/models"
)

// RetryPolicy implements the staged backoff used while a monitor is failing.
// Each bounded stage covers a contiguous range of consecutive-failure counts;
// the terminal unbounded stage is the steady state.
type RetryPolicy struct {
	stages []models.RetryStage
}

// NewRetryPolicy creates a policy from the configured stages. An empty list
// falls back to the canonical defaults.
func NewRetryPolicy(stages []models.RetryStage) *RetryPolicy {
	if len(stages) == 0 {
		stages = models.DefaultRetryStages()
	}
	return &RetryPolicy{stages: stages}
}

// RetryInterval returns the probe interval for a monitor that has failed n
// consecutive times. The base interval is the healthy fallback, returned for
// n <= 0 and when every bounded stage is exhausted without a terminal stage.
// Stage intervals are floored at one second.
func (p *RetryPolicy) RetryInterval(n int, base time.Duration) time.Duration {
	if n <= 0 {
		return base
	}

	remaining := n
	for _, stage := range p.stages {
		if stage.Unbounded() || remaining <= stage.Attempts {
			interval := stage.Interval.ToDuration()
			if interval < time.Second {
				interval = time.Second
			}
			return interval
		}
		remaining -= stage.Attempts
	}

	return base
}

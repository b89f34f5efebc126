// Package executor runs one complete probe cycle per monitor: snapshot,
// probe, classify, persist, alert.
package executor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/metrics"
	"github.com/monitron-io/monitron/internal/probe"
	"github.com/monitron-io/monitron/internal/storage"
	"github.com/monitron-io/monitron/pkg/models"
)

// Prober issues one HTTP probe. Implemented by probe.Client.
type Prober interface {
	Do(ctx context.Context, snapshot *models.MonitorSnapshot) (*probe.Result, error)
}

// Notifier is consulted after a down result has been persisted. Implemented
// by alert.Engine.
type Notifier interface {
	OnDown(ctx context.Context, monitor *models.Monitor, result *models.CheckResult)
}

// Executor performs check cycles against the store.
type Executor struct {
	store    storage.Store
	prober   Prober
	notifier Notifier
	policy   *RetryPolicy
	jitter   time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics

	// now is replaceable in tests; always UTC.
	now func() time.Time
}

// New creates an executor. notifier and metrics may be nil.
func New(store storage.Store, prober Prober, notifier Notifier, policy *RetryPolicy, jitter time.Duration, logger *logging.Logger, m *metrics.Metrics) *Executor {
	if policy == nil {
		policy = NewRetryPolicy(nil)
	}
	return &Executor{
		store:    store,
		prober:   prober,
		notifier: notifier,
		policy:   policy,
		jitter:   jitter,
		logger:   logger.WithComponent(logging.ComponentExecutor),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one probe cycle for the given monitor id. All recoverable
// errors are absorbed here: a dropped check is re-scheduled by lease expiry.
func (e *Executor) Run(ctx context.Context, monitorID int64) {
	monitor, err := e.store.GetMonitor(ctx, monitorID)
	if err != nil {
		if errors.Is(err, storage.ErrMonitorNotFound) {
			e.logger.WithFields(map[string]interface{}{"monitor_id": monitorID}).
				Warn("Monitor not found when preparing snapshot")
		} else {
			e.logger.WithError(err).
				WithFields(map[string]interface{}{"monitor_id": monitorID}).
				Error("Failed to load monitor snapshot")
		}
		return
	}

	if !monitor.Enabled {
		e.logger.WithMonitor(monitor.ID, monitor.Name).
			WithEvent(logging.EventMonitorSkipped).
			Debug("Monitor is disabled; skipping check")
		return
	}

	snapshot := monitor.Snapshot()

	e.logger.WithMonitor(snapshot.ID, snapshot.Name).
		WithEvent(logging.EventCheckStarted).
		WithFields(map[string]interface{}{"url": snapshot.URL, "timeout": snapshot.Timeout()}).
		Debug("Starting monitor check")

	started := e.now()
	probeResult, probeErr := e.prober.Do(ctx, snapshot)
	result := Classify(probeResult, probeErr, e.now())

	if e.metrics != nil {
		e.metrics.RecordCheck(string(result.Outcome), e.now().Sub(started))
		if probeErr != nil {
			e.metrics.RecordProbeError(probe.Kind(probeErr))
		} else {
			e.metrics.RecordHTTPResponse(snapshot.Method, probeResult.StatusCode, probeResult.Latency)
		}
	}

	updated, err := e.store.ApplyCheckResult(ctx, snapshot.ID, result, e.scheduleNextRun)
	if err != nil {
		if errors.Is(err, storage.ErrMonitorNotFound) {
			e.logger.WithMonitor(snapshot.ID, snapshot.Name).
				Warn("Monitor disappeared before update")
		} else {
			// The claim lease will make this monitor due again.
			e.logger.WithMonitor(snapshot.ID, snapshot.Name).
				WithError(err).
				Error("Failed to persist check result")
		}
		return
	}

	var latencyMs int64
	if result.LatencyMs != nil {
		latencyMs = *result.LatencyMs
	}
	e.logger.CheckResult(updated.ID, updated.Name, string(result.Outcome), latencyMs, probeErr)

	if result.Outcome == models.OutcomeDown && e.notifier != nil {
		e.notifier.OnDown(ctx, updated, result)
	}
}

// Classify turns a probe response or error into a check result. An HTTP
// response in [200, 400) is up; anything else, including transport and
// timeout failures, is down.
func Classify(res *probe.Result, err error, completedAt time.Time) *models.CheckResult {
	result := &models.CheckResult{
		Outcome:     models.OutcomeDown,
		CompletedAt: completedAt,
	}

	if err != nil {
		msg := err.Error()
		result.ErrorMessage = &msg
		return result
	}

	code := res.StatusCode
	latencyMs := res.Latency.Milliseconds()
	result.StatusCode = &code
	result.LatencyMs = &latencyMs
	if code >= 200 && code < 400 {
		result.Outcome = models.OutcomeUp
	}
	return result
}

// scheduleNextRun implements the scheduling formula. It runs inside the
// store's update transaction, after the failure counter has been adjusted.
func (e *Executor) scheduleNextRun(m *models.Monitor, outcome models.Outcome) time.Time {
	interval := m.Interval()
	if outcome == models.OutcomeDown {
		interval = e.policy.RetryInterval(m.ConsecutiveFailures, m.Interval())
	}
	return e.now().Add(interval + e.jitterOffset())
}

func (e *Executor) jitterOffset() time.Duration {
	if e.jitter <= 0 {
		return 0
	}
	return time.Duration((rand.Float64()*2 - 1) * float64(e.jitter))
}

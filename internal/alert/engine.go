// Package alert implements the sustained-down email alert engine. It fires
// at most once per downtime episode: exactly when the count of down checks
// inside the sliding window reaches the configured threshold.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/monitron-io/monitron/internal/config"
	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/mailer"
	"github.com/monitron-io/monitron/internal/metrics"
	"github.com/monitron-io/monitron/internal/storage"
	"github.com/monitron-io/monitron/pkg/models"
)

// Engine evaluates alert conditions after each persisted down check.
type Engine struct {
	store     storage.Store
	mailer    mailer.Mailer
	threshold int
	window    time.Duration
	logger    *logging.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

// NewEngine creates an alert engine. A nil mailer disables delivery; the
// engine then skips every evaluation.
func NewEngine(store storage.Store, m mailer.Mailer, cfg config.AlertingConfig, logger *logging.Logger, metr *metrics.Metrics) *Engine {
	return &Engine{
		store:     store,
		mailer:    m,
		threshold: cfg.SustainedDownThreshold,
		window:    cfg.Window(),
		logger:    logger.WithComponent(logging.ComponentAlert),
		metrics:   metr,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnDown is called after a down check has been persisted. Delivery is
// at-least-once and fire-and-forget: a failed send is logged and never
// retried or escalated to the caller.
func (e *Engine) OnDown(ctx context.Context, monitor *models.Monitor, result *models.CheckResult) {
	if e.threshold <= 0 || e.window <= 0 {
		return
	}
	if monitor.OwnerID == nil {
		return
	}
	if e.mailer == nil {
		e.logger.WithMonitor(monitor.ID, monitor.Name).
			Debug("Skipping alert because SMTP is not configured")
		return
	}

	windowStart := e.now().Add(-e.window)
	downChecks, err := e.store.CountDownSince(ctx, monitor.ID, windowStart)
	if err != nil {
		e.logger.WithMonitor(monitor.ID, monitor.Name).
			WithError(err).
			Error("Failed to count down checks for alert evaluation")
		return
	}

	// Fire only at the exact crossing. Counts past the threshold belong to
	// an episode that has already alerted.
	if downChecks != e.threshold {
		return
	}

	recipient := e.lookupOwnerEmail(ctx, *monitor.OwnerID)
	if recipient == "" {
		e.logger.AlertEvent(logging.EventAlertSkipped, monitor.ID, monitor.Name, "", downChecks)
		e.logger.WithMonitor(monitor.ID, monitor.Name).
			Warn("Monitor exceeded failure threshold but owner email is unavailable")
		if e.metrics != nil {
			e.metrics.RecordAlert("skipped")
		}
		return
	}

	subject := fmt.Sprintf("[Monitron] Monitor '%s' appears down", monitor.Name)
	body := buildBody(monitor, result, downChecks, int(e.window/time.Minute))

	if err := e.mailer.Send(ctx, recipient, subject, body); err != nil {
		e.logger.WithMonitor(monitor.ID, monitor.Name).
			WithError(err).
			Error("Failed to dispatch sustained downtime alert")
		if e.metrics != nil {
			e.metrics.RecordAlert("error")
		}
		return
	}

	e.logger.AlertEvent(logging.EventAlertSent, monitor.ID, monitor.Name, recipient, downChecks)
	if e.metrics != nil {
		e.metrics.RecordAlert("sent")
	}
}

func (e *Engine) lookupOwnerEmail(ctx context.Context, ownerID int64) string {
	owner, err := e.store.GetUser(ctx, ownerID)
	if err != nil {
		return ""
	}
	return owner.Email
}

func buildBody(monitor *models.Monitor, result *models.CheckResult, downChecks, windowMinutes int) string {
	latestStatus := string(result.Outcome)
	if result.StatusCode != nil {
		latestStatus = fmt.Sprintf("%d (%s)", *result.StatusCode, result.Outcome)
	}

	errorLine := ""
	if result.ErrorMessage != nil {
		errorLine = fmt.Sprintf("\nLast error: %s", *result.ErrorMessage)
	}

	return fmt.Sprintf(
		"Hello,\n\n"+
			"We detected %d failed checks for '%s' within the last %d minutes.\n"+
			"URL: %s\n"+
			"Latest status: %s%s\n\n"+
			"We'll keep probing on an accelerated schedule until the service recovers.\n"+
			"— Monitron",
		downChecks, monitor.Name, windowMinutes, monitor.URL, latestStatus, errorLine,
	)
}

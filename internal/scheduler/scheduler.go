// Package scheduler implements the claim loop and the worker pool. The loop
// claims due monitors from the store, advancing their next_run_at by the
// claim lease, and hands the ids to the dispatch queue. If a claimed check
// is dropped anywhere downstream, the lease makes the monitor due again.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/monitron-io/monitron/internal/config"
	"github.com/monitron-io/monitron/internal/dispatch"
	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/metrics"
	"github.com/monitron-io/monitron/internal/storage"
)

// claimFactor sizes the claim batch relative to worker concurrency.
const claimFactor = 4

// Scheduler runs the polling claim loop.
type Scheduler struct {
	store        storage.Store
	queue        dispatch.Queue
	limit        int
	claimTTL     time.Duration
	pollInterval time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.RWMutex

	now func() time.Time
}

// New creates a scheduler from the loaded configuration.
func New(store storage.Store, queue dispatch.Queue, cfg config.SchedulerConfig, logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Scheduler{
		store:        store,
		queue:        queue,
		limit:        concurrency * claimFactor,
		claimTTL:     cfg.ClaimTTL(),
		pollInterval: cfg.PollInterval(),
		logger:       logger.WithComponent(logging.ComponentScheduler),
		metrics:      m,
		stopChan:     make(chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the claim loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.logger.WithEvent(logging.EventProcessStart).
		WithFields(map[string]interface{}{
			"claim_limit":   s.limit,
			"claim_ttl":     s.claimTTL,
			"poll_interval": s.pollInterval,
		}).
		Info("Starting scheduler")

	s.wg.Add(1)
	go s.loop(ctx)

	s.running = true
	return nil
}

// Stop gracefully stops the claim loop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.WithEvent(logging.EventProcessStop).Info("Stopping scheduler")

	close(s.stopChan)
	s.wg.Wait()

	s.running = false
	return nil
}

// IsRunning reports whether the claim loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("Scheduler loop started")

	for {
		start := s.now()
		s.pollOnce(ctx)

		// Claiming and enqueueing count against the poll cadence.
		wait := s.pollInterval - s.now().Sub(start)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopped by context")
			return
		case <-s.stopChan:
			timer.Stop()
			s.logger.Info("Scheduler stopped by signal")
			return
		case <-timer.C:
		}
	}
}

// pollOnce claims one batch of due monitors and enqueues them. It returns
// the number of ids successfully handed to the queue.
func (s *Scheduler) pollOnce(ctx context.Context) int {
	ids, err := s.store.ClaimDue(ctx, s.now(), s.limit, s.claimTTL)
	if err != nil {
		s.logger.WithError(err).Error("Failed to claim due monitors")
		return 0
	}

	if s.metrics != nil {
		s.metrics.RecordClaims(len(ids))
	}
	if len(ids) == 0 {
		return 0
	}

	s.logger.WithEvent(logging.EventMonitorsClaimed).
		WithFields(map[string]interface{}{"claimed": len(ids)}).
		Debug("Claimed due monitors")

	dispatched := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, id); err != nil {
			// The lease re-schedules the dropped monitor.
			s.logger.WithEvent(logging.EventMonitorSkipped).
				WithError(err).
				WithFields(map[string]interface{}{"monitor_id": id}).
				Warn("Failed to enqueue claimed monitor; it becomes due again after the lease")
			continue
		}
		dispatched++
	}

	if s.metrics != nil {
		s.metrics.RecordDispatch(s.queue.Transport(), dispatched)
		if depth, err := s.queue.Depth(ctx); err == nil {
			s.metrics.SetQueueDepth(depth)
		}
	}

	return dispatched
}

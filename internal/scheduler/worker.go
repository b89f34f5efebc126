package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/monitron-io/monitron/internal/dispatch"
	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/metrics"
)

// Runner executes one claimed monitor check. Implemented by
// executor.Executor.
type Runner interface {
	Run(ctx context.Context, monitorID int64)
}

// WorkerPool consumes monitor ids from the dispatch queue with bounded
// concurrency.
type WorkerPool struct {
	size    int
	queue   dispatch.Queue
	runner  Runner
	logger  *logging.Logger
	metrics *metrics.Metrics

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	processedJobs int64
	activeWorkers int32
}

// NewWorkerPool creates a worker pool of the given size.
func NewWorkerPool(size int, queue dispatch.Queue, runner Runner, logger *logging.Logger, m *metrics.Metrics) *WorkerPool {
	if size <= 0 {
		size = 5
	}
	return &WorkerPool{
		size:    size,
		queue:   queue,
		runner:  runner,
		logger:  logger.WithComponent(logging.ComponentWorker),
		metrics: m,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.WithFields(map[string]interface{}{
		"worker_count": wp.size,
		"transport":    wp.queue.Transport(),
	}).Info("Starting worker pool")

	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.work(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight checks to finish.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping worker pool")

	if wp.cancel != nil {
		wp.cancel()
	}
	wp.wg.Wait()

	wp.logger.WithFields(map[string]interface{}{
		"processed_jobs": atomic.LoadInt64(&wp.processedJobs),
	}).Info("Worker pool stopped")
}

// ActiveWorkers returns the number of workers currently running a check.
func (wp *WorkerPool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&wp.activeWorkers))
}

// ProcessedJobs returns the total number of completed jobs.
func (wp *WorkerPool) ProcessedJobs() int64 {
	return atomic.LoadInt64(&wp.processedJobs)
}

func (wp *WorkerPool) work(ctx context.Context, id int) {
	defer wp.wg.Done()

	wp.logger.WithFields(map[string]interface{}{"worker_id": id}).
		Debug("Worker started")

	for {
		monitorID, err := wp.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, dispatch.ErrQueueClosed) {
				wp.logger.WithFields(map[string]interface{}{"worker_id": id}).
					Debug("Worker stopped")
				return
			}

			// Transient queue error; back off briefly.
			wp.logger.WithError(err).
				WithFields(map[string]interface{}{"worker_id": id}).
				Error("Failed to dequeue monitor")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		wp.process(ctx, id, monitorID)
	}
}

func (wp *WorkerPool) process(ctx context.Context, workerID int, monitorID int64) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.WithFields(map[string]interface{}{
				"worker_id":  workerID,
				"monitor_id": monitorID,
				"panic":      r,
			}).Error("Worker panic recovered")
		}
	}()

	atomic.AddInt32(&wp.activeWorkers, 1)
	defer atomic.AddInt32(&wp.activeWorkers, -1)
	defer atomic.AddInt64(&wp.processedJobs, 1)

	if wp.metrics != nil {
		wp.metrics.IncrementRunningChecks()
		defer wp.metrics.DecrementRunningChecks()
	}

	wp.runner.Run(ctx, monitorID)
}

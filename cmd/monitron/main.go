// Monitron probes HTTP monitors on their configured schedule, records every
// check in Postgres, and emails owners on sustained downtime. The scheduler
// and worker roles can run together in one process or split across many,
// coordinated through the database claim protocol and an optional Redis
// queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/monitron-io/monitron/internal/alert"
	"github.com/monitron-io/monitron/internal/config"
	"github.com/monitron-io/monitron/internal/dispatch"
	"github.com/monitron-io/monitron/internal/executor"
	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/internal/mailer"
	"github.com/monitron-io/monitron/internal/metrics"
	"github.com/monitron-io/monitron/internal/ops"
	"github.com/monitron-io/monitron/internal/probe"
	"github.com/monitron-io/monitron/internal/scheduler"
	"github.com/monitron-io/monitron/internal/storage"
)

const (
	roleAll       = "all"
	roleScheduler = "scheduler"
	roleWorker    = "worker"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	role := flag.String("role", roleAll, "Process role: scheduler, worker, or all")
	flag.Parse()

	if *role != roleAll && *role != roleScheduler && *role != roleWorker {
		log.Fatalf("Unknown role %q", *role)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.InitLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Fields: cfg.Logging.Fields,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	registry := prometheus.NewRegistry()
	metricsInstance := metrics.NewMetrics(registry)

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer store.Close()

	queue, err := buildQueue(cfg, *role, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize dispatch queue")
	}
	defer queue.Close()

	stages, err := cfg.Scheduler.RetryStages()
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse retry stages")
	}

	var sched *scheduler.Scheduler
	if *role == roleAll || *role == roleScheduler {
		sched = scheduler.New(store, queue, cfg.Scheduler, logger, metricsInstance)
		if err := sched.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	var pool *scheduler.WorkerPool
	if *role == roleAll || *role == roleWorker {
		var m mailer.Mailer
		if cfg.SMTP.Configured() {
			m = mailer.NewSMTP(cfg.SMTP, logger)
		} else {
			logger.Info("SMTP not configured; sustained-down alerts are disabled")
		}
		engine := alert.NewEngine(store, m, cfg.Alerting, logger, metricsInstance)

		exec := executor.New(
			store,
			probe.NewClient(cfg.Probe.UserAgent, logger),
			engine,
			executor.NewRetryPolicy(stages),
			cfg.Scheduler.Jitter(),
			logger,
			metricsInstance,
		)

		pool = scheduler.NewWorkerPool(cfg.Scheduler.MaxConcurrency, queue, exec, logger, metricsInstance)
		pool.Start(ctx)
	}

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(cfg.Ops, store, registry, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.WithError(err).Fatal("Failed to start ops server")
			}
		}()
	}

	logger.WithEvent(logging.EventProcessStart).
		WithFields(map[string]interface{}{"role": *role}).
		Info("Monitron started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Monitron...")

	if sched != nil {
		if err := sched.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop scheduler gracefully")
		}
	}
	if pool != nil {
		pool.Stop()
	}
	if opsServer != nil {
		if err := opsServer.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop ops server gracefully")
		}
	}

	logger.WithEvent(logging.EventProcessStop).Info("Monitron stopped")
}

// buildQueue picks the dispatch transport. Split roles need the shared
// Redis queue; a single process defaults to the in-memory one.
func buildQueue(cfg *config.Config, role string, logger *logging.Logger) (dispatch.Queue, error) {
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return dispatch.NewRedis(goredis.NewClient(opts), cfg.Scheduler.QueueName, logger), nil
	}

	if role != roleAll {
		return nil, fmt.Errorf("role %q requires REDIS_URL for the shared dispatch queue", role)
	}

	capacity := cfg.Scheduler.MaxConcurrency * 8
	return dispatch.NewLocal(capacity), nil
}

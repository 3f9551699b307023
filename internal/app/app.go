// Package app connects the configured backends and builds the services the
// binaries run.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"carbon-reports/internal/artifact"
	"carbon-reports/internal/config"
	"carbon-reports/internal/jobs"
	"carbon-reports/internal/notify"
	"carbon-reports/internal/report"
	"carbon-reports/internal/store"
	"carbon-reports/internal/worker"
)

// App holds process-wide connections. Create one per process and Close it on exit.
type App struct {
	Config    config.Config
	Log       logrus.FieldLogger
	Store     *store.Store
	Artifacts artifact.Store
	Redis     *redis.Client
	Signal    *notify.RedisSignal
	Manager   *jobs.Manager
}

// Open connects to Postgres, the artifact backend and, when configured, Redis.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	st, err := store.New(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBOpTimeout)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Store: st}

	a.Artifacts, err = artifact.New(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init artifact store: %w", err)
	}

	opts := jobs.Options{RejectEmptyPeriods: cfg.RejectEmptyPeriods, Logger: log}
	if cfg.RedisEnabled() {
		a.Redis = notify.NewRedisClient(cfg)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			// Wake-ups are an optimisation; workers fall back to polling.
			log.WithError(err).Warn("redis unreachable at startup")
		}
		a.Signal = notify.NewRedisSignal(a.Redis, cfg.WakeupKey)
		opts.Notifier = a.Signal
	}
	a.Manager = jobs.NewManager(st, opts)
	return a, nil
}

// Processor builds a worker bound to this app's connections.
func (a *App) Processor(workerID string) *worker.Processor {
	opts := worker.Options{
		WorkerID:         workerID,
		PollInterval:     a.Config.WorkerPollInterval,
		ReclaimAfter:     a.Config.ReclaimAfter,
		ReclaimBatchSize: a.Config.ReclaimBatchSize,
		SettleTimeout:    a.Config.DBOpTimeout,
	}
	if a.Signal != nil {
		opts.Waiter = a.Signal
	}
	return worker.NewProcessor(a.Manager, report.NewBuilder(a.Store), a.Artifacts, a.Log, opts)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.Store.Close()
}

// WorkerID picks a stable identifier for log correlation.
func WorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, _ := os.Hostname(); host != "" {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return fmt.Sprintf("worker-%d", os.Getpid())
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"carbon-reports/internal/app"
	"carbon-reports/internal/config"
	"carbon-reports/internal/logging"
	"carbon-reports/internal/schedule"
	"carbon-reports/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	workerID := app.WorkerID()
	log := logging.New(cfg, "report-worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	if err := a.Store.RunMigrations(ctx); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	metrics := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	defer metrics.Close()

	if cfg.ReportSchedule != "" {
		sched, err := schedule.New(cfg.ReportSchedule, a.Manager, time.Minute, log)
		if err != nil {
			log.WithError(err).Fatal("invalid report schedule")
		}
		go func() { _ = sched.Run(ctx) }()
	}

	if err := a.Processor(workerID).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("worker stopped")
		return
	}
	log.Info("worker stopped")
}

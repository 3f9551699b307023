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

	"carbon-reports/internal/api"
	"carbon-reports/internal/app"
	"carbon-reports/internal/config"
	"carbon-reports/internal/logging"
	"carbon-reports/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg, "report-api")

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

	deps := api.Deps{
		Reports: a.Manager,
		Links:   a.Artifacts,
		Health:  a.Store,
		Logger:  log,
	}
	if a.Redis != nil && cfg.RateLimitCapacity > 0 {
		deps.Limiter = ratelimit.NewTokenBucket(a.Redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(deps).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.WithField("addr", httpServer.Addr).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info("api stopped")
}

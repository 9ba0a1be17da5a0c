package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/logsink"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/telemetry"
	"github.com/dunamismax/pixelgate/internal/worker"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "worker")
	if err != nil {
		logrus.WithError(err).Fatal("configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelgate-worker", cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Fatal("configure tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	var db *sql.DB
	if cfg.Log.Database {
		db, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			logger.WithError(err).Fatal("open database")
		}
		defer db.Close()
	}

	sinks, err := logsink.Persistent(ctx, cfg.Log, cfg.Webhook, db, cfg.Database.Driver)
	if err != nil {
		logger.WithError(err).Fatal("initialize log sinks")
	}
	if sinks.Len() == 0 {
		logger.Warn("no persistent log sinks configured; entries are written to the worker log only")
		sinks.Add("logrus", logsink.NewLogrus(logger))
	}

	logger.WithFields(logrus.Fields{
		"concurrency": cfg.Worker.Concurrency,
		"queue":       cfg.Queue.Name,
		"redis":       cfg.Redis.Addr,
		"sinks":       sinks.Len(),
	}).Info("starting worker")

	srv, err := worker.NewServer(logger, cfg.Redis, cfg.Queue, cfg.Worker, sinks)
	if err != nil {
		logger.WithError(err).Fatal("initialize worker")
	}

	var metricsServer *http.Server
	if cfg.Worker.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
	}

	if err := srv.Start(); err != nil {
		logger.WithError(err).Fatal("worker failed")
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown failed")
		}
	}
}

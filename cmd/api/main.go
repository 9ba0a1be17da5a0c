package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelgate/internal/api"
	"github.com/dunamismax/pixelgate/internal/auth"
	"github.com/dunamismax/pixelgate/internal/chain"
	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/dunamismax/pixelgate/internal/logsink"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"github.com/dunamismax/pixelgate/internal/queue"
	"github.com/dunamismax/pixelgate/internal/ratelimit"
	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/dunamismax/pixelgate/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger, err := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, "api")
	if err != nil {
		logrus.WithError(err).Fatal("configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelgate-api", cfg.Tracing, logger)
	if err != nil {
		logger.WithError(err).Fatal("configure tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := imageops.Startup(); err != nil {
		logger.WithError(err).Fatal("start image backend")
	}
	defer imageops.Shutdown()

	var db *sql.DB
	users := store.UserStore(store.NewMemoryUserStore())
	if cfg.Database.Driver != "memory" {
		db, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
		if err != nil {
			logger.WithError(err).Fatal("open database")
		}
		defer db.Close()

		sqlUsers, err := store.NewSQLUserStore(ctx, db, cfg.Database.Driver)
		if err != nil {
			logger.WithError(err).Fatal("initialize user store")
		}
		users = sqlUsers
	}

	authService, err := auth.NewService(users, auth.Config{Secret: cfg.Auth.Secret, TTL: cfg.Auth.TTL})
	if err != nil {
		logger.WithError(err).Fatal("initialize auth")
	}

	sinks := logsink.NewMulti().Add("logrus", logsink.NewLogrus(logger))
	if cfg.Log.Async {
		queueClient := queue.NewClient(cfg.Redis.ClientOpt(), cfg.Queue.Name)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.WithError(err).Warn("queue client close failed")
			}
		}()
		sinks.Add("queue", logsink.NewQueue(queueClient))
	} else {
		persistent, err := logsink.Persistent(ctx, cfg.Log, cfg.Webhook, db, cfg.Database.Driver)
		if err != nil {
			logger.WithError(err).Fatal("initialize log sinks")
		}
		sinks.Add("persistent", persistent)
	}

	var limiter api.RateLimiter
	if cfg.Redis.Addr != "" && cfg.RateLimit.Capacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		bucket, err := ratelimit.NewRedisTokenBucket(redisClient, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.WithError(err).Fatal("initialize rate limiter")
		}
		limiter = bucket
	}

	var archive chain.ObjectWriter
	if cfg.Storage.ArchiveResults {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.WithError(err).Fatal("initialize object storage")
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Fatal("ensure archive bucket")
		}
		archive = storageClient
	}

	registry := prometheus.NewRegistry()
	executor := pipeline.NewExecutor(
		imageops.NewRegistry(imageops.NewBackend()),
		pipeline.WithMetrics(registry),
		pipeline.WithTracer(otel.Tracer("pixelgate/pipeline")),
	)

	app, err := api.NewServer(api.Options{
		Logger:         logger,
		Auth:           authService,
		Executor:       executor,
		Sink:           sinks,
		Archive:        archive,
		ArchivePrefix:  cfg.Storage.ArchivePrefix,
		RateLimiter:    limiter,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		Registry:       registry,
		Tracer:         otel.Tracer("pixelgate/api"),
	})
	if err != nil {
		logger.WithError(err).Fatal("initialize api")
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    cfg.API.Addr,
			"backend": imageops.BackendName,
			"sinks":   sinks.Len(),
		}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

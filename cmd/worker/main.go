package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/santetogo/records-api/internal/config"
	"github.com/santetogo/records-api/internal/email"
	"github.com/santetogo/records-api/internal/handler/health"
	promHandler "github.com/santetogo/records-api/internal/handler/prometheus"
	"github.com/santetogo/records-api/internal/repository/sqlstore"
	"github.com/santetogo/records-api/internal/service/notification"
	internalWorker "github.com/santetogo/records-api/internal/worker"
	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/messaging/redis"
	"github.com/santetogo/records-api/pkg/metrics"
	"github.com/santetogo/records-api/pkg/worker"
)

func main() {
	configFile := flag.String("config", "", "path to config.yml")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), Console: cfg.Log.Console})
	log.Logger = appLogger.Zerolog()
	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger = zap.NewNop()
	}
	defer zapLogger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(ctx, cfg.Database.ToStoreConfig(), zapLogger)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()
	store := sqlstore.NewStore(db, zapLogger)

	registry := prometheus.NewRegistry()
	workerMetrics := metrics.NewMetrics(registry, "santetogo", "worker")

	broker, err := redis.NewRedisBroker(ctx, cfg.Redis.ToBrokerConfig(), log.Logger, workerMetrics)
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	processor, err := worker.NewOutboxProcessor(
		store.Outbox(),
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger.WithFields(map[string]interface{}{"component": "outbox"}),
		workerMetrics,
	)
	if err != nil {
		appLogger.Fatal(err, "Failed to create outbox processor")
	}

	cleanup := internalWorker.NewAuditCleanupWorker(
		store.Audit(),
		cfg.Audit.RetentionDays,
		cfg.Audit.CleanupInterval,
		appLogger.WithFields(map[string]interface{}{"component": "audit_cleanup"}),
		workerMetrics,
	)

	var mailer email.Service
	if smtp := cfg.SMTP.ToEmailConfig(); smtp.Enabled() {
		mailer = email.NewSMTPService(smtp)
	} else {
		appLogger.Warn("SMTP not configured, notifications are only logged")
		mailer = email.NewLogService()
	}
	notifier := internalWorker.NewNotifier(
		broker,
		cfg.Outbox.Channel,
		notification.NewService(store.Users(), mailer),
		appLogger.WithFields(map[string]interface{}{"component": "notifier"}),
	)

	srv := healthServer(cfg.Worker.HealthPort, store, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := notifier.Start(ctx); err != nil {
			appLogger.Error(err, "Notifier stopped")
		}
	}()

	appLogger.Info("Worker started", "health_port", cfg.Worker.HealthPort)
	<-ctx.Done()
	appLogger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
}

func healthServer(port int, store *sqlstore.Store, registry *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(map[string]health.Pinger{"database": store}).RegisterRoutes(engine)
	engine.GET("/metrics", promHandler.New(registry).Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}

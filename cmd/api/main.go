package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/santetogo/records-api/internal/authz"
	"github.com/santetogo/records-api/internal/config"
	accessHandler "github.com/santetogo/records-api/internal/handler/access"
	auditHandler "github.com/santetogo/records-api/internal/handler/audit"
	authHandler "github.com/santetogo/records-api/internal/handler/auth"
	documentHandler "github.com/santetogo/records-api/internal/handler/document"
	"github.com/santetogo/records-api/internal/handler/health"
	patientHandler "github.com/santetogo/records-api/internal/handler/patient"
	promHandler "github.com/santetogo/records-api/internal/handler/prometheus"
	recordHandler "github.com/santetogo/records-api/internal/handler/record"
	userHandler "github.com/santetogo/records-api/internal/handler/user"
	"github.com/santetogo/records-api/internal/middleware"
	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/sqlstore"
	"github.com/santetogo/records-api/internal/router"
	accessService "github.com/santetogo/records-api/internal/service/access"
	auditService "github.com/santetogo/records-api/internal/service/audit"
	authService "github.com/santetogo/records-api/internal/service/auth"
	documentService "github.com/santetogo/records-api/internal/service/document"
	eventService "github.com/santetogo/records-api/internal/service/event"
	patientService "github.com/santetogo/records-api/internal/service/patient"
	pinService "github.com/santetogo/records-api/internal/service/pin"
	recordService "github.com/santetogo/records-api/internal/service/record"
	userService "github.com/santetogo/records-api/internal/service/user"
	"github.com/santetogo/records-api/pkg/auth"
	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/metrics"
	"github.com/santetogo/records-api/pkg/security"
)

func main() {
	configFile := flag.String("config", "", "path to config.yml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{Level: logger.ParseLevel(cfg.Log.Level), Console: cfg.Log.Console})
	log.Logger = appLogger.Zerolog()
	zapLogger := newZapLogger(cfg.Log)
	defer zapLogger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := sqlstore.Open(ctx, cfg.Database.ToStoreConfig(), zapLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := sqlstore.Migrate(db, zapLogger); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}
	store := sqlstore.NewStore(db, zapLogger)

	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry, "santetogo", "api")

	// Initialize services
	passwords := security.NewBcryptHasher(bcrypt.DefaultCost, 8)
	pinHasher := security.NewBcryptHasher(bcrypt.DefaultCost, 4)
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.TokenTTL())

	auditSvc := auditService.NewService(store.Audit(), store.Versions())
	auditor := auditService.NewAuditLogger(auditSvc, log.Logger, appMetrics)
	eventSvc := eventService.NewEventService(store.Outbox())

	accessOpts := []accessService.Option{
		accessService.WithAuditor(auditor),
		accessService.WithObserver(eventSvc),
		accessService.WithMetrics(appMetrics),
		accessService.WithLogger(log.Logger),
	}
	if cfg.Access.UseCedar {
		authorizer, err := authz.NewAuthorizer()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load access policies")
		}
		accessOpts = append(accessOpts, accessService.WithAuthority(authorizer))
	}
	accessSvc := accessService.NewService(store, accessService.Config{GrantValidity: cfg.Access.GrantValidity}, accessOpts...)

	pins := pinService.NewService(store.Patients(), pinHasher, pinService.Config{
		MaxAttempts: cfg.PIN.MaxAttempts,
		Lockout:     cfg.PIN.Lockout,
	}, appMetrics)
	patientSvc := patientService.NewService(store, pins, auditor)
	recordSvc := recordService.NewService(store, accessSvc, pins, auditor)
	auditSvc.RegisterRestorer(model.AuditEntityPatient, patientSvc)
	auditSvc.RegisterRestorer(model.AuditEntityMedicalRecord, recordSvc)

	documentSvc := documentService.NewService(store, accessSvc, auditor)
	userSvc := userService.NewService(store.Users(), passwords, auditor)
	authSvc := authService.NewService(store.Users(), jwtSvc, passwords)

	if cfg.Admin.Email != "" && cfg.Admin.Password != "" {
		admin, created, err := userSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Name, cfg.Admin.Password)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap administrator")
		}
		if created {
			log.Info().Str("user_id", admin.ID.String()).Msg("created initial administrator")
		}
	}

	// Setup router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(authSvc),
		router.Handlers{
			Public: []router.Handler{authHandler.NewHandler(authSvc)},
			Protected: []router.Handler{
				userHandler.NewHandler(userSvc),
				patientHandler.NewHandler(patientSvc),
				documentHandler.NewHandler(documentSvc),
				recordHandler.NewHandler(recordSvc),
				accessHandler.NewHandler(accessSvc),
				auditHandler.NewHandler(auditSvc, store.MedicalRecords(), pins),
			},
		},
		health.NewHandler(map[string]health.Pinger{"database": store}),
		promHandler.New(registry),
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout,
			CORSConfig:       corsConfig(cfg.CORS),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

func corsConfig(c config.CORSConfig) middleware.CORSConfig {
	out := middleware.DefaultCORSConfig()
	if len(c.AllowedOrigins) > 0 {
		out.AllowOrigins = c.AllowedOrigins
	}
	if len(c.AllowedMethods) > 0 {
		out.AllowMethods = c.AllowedMethods
	}
	if len(c.AllowedHeaders) > 0 {
		out.AllowHeaders = c.AllowedHeaders
	}
	if c.MaxAge > 0 {
		out.MaxAge = c.MaxAge
	}
	return out
}

func newZapLogger(c config.LogConfig) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if c.Console {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-match-api/api/swagger"
	"github.com/noah-isme/tutor-match-api/internal/repository"
	"github.com/noah-isme/tutor-match-api/internal/service"
	"github.com/noah-isme/tutor-match-api/pkg/cache"
	"github.com/noah-isme/tutor-match-api/pkg/changefeed"
	"github.com/noah-isme/tutor-match-api/pkg/config"
	"github.com/noah-isme/tutor-match-api/pkg/database"
	"github.com/noah-isme/tutor-match-api/pkg/jobs"
	"github.com/noah-isme/tutor-match-api/pkg/logger"
	"github.com/noah-isme/tutor-match-api/pkg/storage"
)

// @title Tutor Match API
// @version 1.0.0
// @description Request board, applications, registrations and engagement views for the tutoring marketplace.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB, logr); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheSvc *service.CacheService
	if cfg.Engagements.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, engagement cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			cacheSvc = service.NewCacheService(repository.NewCacheRepository(client), metrics, cfg.Engagements.CacheTTL, logr, true)
		}
	}

	requestRepo := repository.NewRequestRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	engagementRepo := repository.NewEngagementRepository(db)
	rosterRepo := repository.NewRosterRepository(db)
	rateRepo := repository.NewTeacherRateRepository(db)

	hub := changefeed.NewHub(cfg.Feed.SubscriberBuffer, logr)
	defer hub.Close()
	hydrator := service.NewChangeHydrator(requestRepo, applicationRepo, metrics, logr)
	dispatch := jobs.NewQueue("change-feed", func(jobCtx context.Context, job jobs.Job) error {
		ev, ok := job.Payload.(changefeed.Event)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		return hydrator.Forward(jobCtx, hub, ev)
	}, jobs.QueueConfig{Workers: 1, BufferSize: cfg.Feed.DispatchQueueSize, Logger: logr})
	dispatch.Start(ctx)
	defer dispatch.Stop()

	listener := changefeed.NewListener(changefeed.ListenerConfig{
		DSN:          cfg.Database.DSN(),
		Channel:      database.ChangeFeedChannel,
		MinReconnect: cfg.Feed.MinReconnect,
		MaxReconnect: cfg.Feed.MaxReconnect,
		OnResync:     func() { hub.Reset() },
		Logger:       logr,
	}, func(ev changefeed.Event) error {
		return dispatch.Enqueue(jobs.Job{Type: ev.Table, Payload: ev})
	})
	go func() {
		if err := listener.Run(ctx); err != nil {
			logr.Error("change feed listener exited", zap.Error(err))
		}
	}()

	mediaStore, err := storage.NewLocalStorage(cfg.Media.StorageDir)
	if err != nil {
		return fmt.Errorf("media storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Media.BaseURL, cfg.Media.SignedURLSecret, cfg.Media.SignedURLTTL)

	feeds := service.NewRequestFeedService(requestRepo, hub, cfg.Feed.Limit, metrics, logr)
	engagements := service.NewEngagementService(engagementRepo, rosterRepo, requestRepo, service.EngagementServiceConfig{
		Images:         signer,
		PlaceholderURL: cfg.Media.PlaceholderURL,
		Cache:          cacheSvc,
		CacheTTL:       cfg.Engagements.CacheTTL,
		Metrics:        metrics,
		Logger:         logr,
	})

	deps := routeDeps{
		cfg:           cfg,
		logger:        logr,
		db:            db,
		metrics:       metrics,
		tokens:        service.NewTokenVerifier(cfg.JWT),
		feeds:         feeds,
		requests:      service.NewRequestService(requestRepo, validate, logr),
		applications:  service.NewApplicationService(applicationRepo, requestRepo, validate, logr),
		registrations: service.NewRegistrationService(engagementRepo, rosterRepo, cacheSvc, metrics, validate, logr),
		engagements:   engagements,
		exports:       service.NewExportService(engagements, nil, nil, logr),
		rates:         service.NewTeacherRateService(rosterRepo, rateRepo, validate, logr),
		signer:        signer,
		media:         mediaStore,
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

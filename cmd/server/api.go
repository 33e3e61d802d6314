package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediahub/internal/config"
	"mediahub/internal/events"
	apphttp "mediahub/internal/http"
	"mediahub/internal/notify"
	"mediahub/internal/ratelimit"
	"mediahub/internal/repository/sqldb"
	"mediahub/internal/security"
	"mediahub/internal/service"
	"mediahub/internal/stream"
	"mediahub/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

func runAPI(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	blobs, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	codec, err := buildTokenCodec(cfg)
	if err != nil {
		return fmt.Errorf("setup tokens: %w", err)
	}

	publisher := stream.NewPublisher(stream.NewWriter(cfg.Kafka.Brokers), events.SourceFileService)
	defer publisher.Close()

	pool := tasks.NewPool(tasks.Config{
		Workers:   cfg.Tasks.Workers,
		QueueSize: cfg.Tasks.QueueSize,
		Logger:    logger,
	})
	pool.Start(ctx)

	userRepo := sqldb.NewUserRepository(db)
	sessionRepo := sqldb.NewSessionRepository(db)
	fileRepo := sqldb.NewFileRepository(db)

	userService := service.NewUserService(userRepo, sessionRepo,
		security.NewPasswordHasher(cfg.Auth.BcryptCost), buildMailer(cfg, logger), pool,
		service.UserServiceConfig{FrontendURL: cfg.Mail.FrontendURL, Logger: logger})
	sessions := service.NewSessionManager(userService, userRepo, sessionRepo, codec, service.SessionConfig{
		AccessTTL:  time.Duration(cfg.Auth.AccessTokenMinutes) * time.Minute,
		RefreshTTL: time.Duration(cfg.Auth.RefreshTokenDays) * 24 * time.Hour,
	})
	fileService := service.NewFileService(fileRepo, ratelimit.NewLimiter(rdb), blobs, publisher,
		service.NewStatusNotifier(userRepo, publisher, logger), pool,
		service.FileServiceConfig{
			CreditLimit:  cfg.Credits.Limit,
			CreditWindow: time.Duration(cfg.Credits.PeriodSeconds) * time.Second,
			Logger:       logger,
		})
	gateway := notify.NewGateway(notify.NewHub(rdb), originChecker(cfg.Server.CORSOrigins), logger)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = cfg.Upload.MaxBytes
	apphttp.NewHandler(userService, sessions, fileService, gateway, apphttp.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		Logger:         logger,
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
	runErr := serveHTTP(ctx, srv, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("task pool shutdown: %v", err)
	}
	return runErr
}

// serveHTTP runs srv until ctx ends or the listener fails, then shuts it
// down. A listener failure is returned.
func serveHTTP(ctx context.Context, srv *http.Server, logger *logrus.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	return runErr
}

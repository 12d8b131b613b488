package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasks-api/api"
	"tasks-api/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tasks := storage.OpenTaskRepository(cfg.TasksFile, logger)
	users := storage.NewCredentialStore(cfg.BcryptCost)
	tokens, err := api.NewTokenService(cfg.JWTKeyID, cfg.JWTSecret, cfg.JWTPrevious, cfg.TokenTTL)
	if err != nil {
		logger.Fatalf("token service: %v", err)
	}

	deps := api.Deps{
		Tasks:  tasks,
		Users:  users,
		Issuer: tokens,
		Auth:   tokens,
		Logger: logger,
	}

	var rc *redis.Client
	if cfg.RedisConn != "" {
		opts, err := redisOptions(cfg.RedisConn)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; Idempotency-Key is ignored")
	}

	var dispatcher *api.EventDispatcher
	if cfg.EventsQueue != "" {
		publisher, err := storage.NewQueuePublisher(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			logger.Fatalf("task events queue: %v", err)
		}
		ensureCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := publisher.Ensure(ensureCtx); err != nil {
			logger.WithError(err).WithField("queue", cfg.EventsQueue).Warn("could not create task events queue")
		}
		cancel()
		dispatcher = api.NewEventDispatcher(publisher, logger, cfg.EventsDispatch)
		deps.Events = dispatcher
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	api.Register(e, deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "tasks_file": cfg.TasksFile}).Info("tasks api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Warn("redis close")
		}
	}
}

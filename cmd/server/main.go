package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/site-gateway/internal/auth"
	"github.com/sdko-org/site-gateway/internal/config"
	"github.com/sdko-org/site-gateway/internal/database"
	"github.com/sdko-org/site-gateway/internal/handlers"
	"github.com/sdko-org/site-gateway/internal/httpserver"
	"github.com/sdko-org/site-gateway/internal/janitor"
	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sdko-org/site-gateway/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// openKV returns the metadata store and, for the postgres backend, the
// database handle that also receives access logs.
func openKV(ctx context.Context, logger *logrus.Logger, cfg *config.Config) (kv.Store, *gorm.DB, error) {
	switch cfg.KVBackend {
	case config.KVBackendPostgres:
		db, err := database.NewPostgresDB(ctx, logger, database.ConfigFrom(cfg))
		if err != nil {
			return nil, nil, err
		}
		return kv.NewPostgresStore(db), db, nil
	case config.KVBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv.NewRedisStore(client), nil, nil
	default:
		logger.Warn("Using in-memory KV store; site records will not survive a restart")
		return kv.NewMemoryStore(), nil, nil
	}
}

func openStorage(ctx context.Context, logger *logrus.Logger, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageBackend == config.StorageBackendMemory {
		logger.Warn("Using in-memory object storage; site files will not survive a restart")
		return storage.NewMemoryStorage(), nil
	}
	s3, err := storage.NewS3Storage(logger, cfg)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logger := newLogger(cfg)
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db, err := openKV(ctx, logger, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to open KV store")
	}
	objects, err := openStorage(ctx, logger, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to open object storage")
	}

	if purger, ok := store.(kv.Purger); ok || db != nil {
		go janitor.New(logger, purger, db, cfg.PurgeInterval, cfg.AccessLogRetention).Start(ctx)
	}

	svc := sites.NewService(logger, store, objects, cfg.GatewayDomain, sites.Limits{
		MaxFiles:      cfg.MaxFiles,
		MaxFileBytes:  cfg.MaxFileBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
	})
	admins := auth.NewAdminAuthenticator(cfg.AdminToken, store)
	limiter := auth.NewLoginLimiter(logger, store, cfg.LoginMaxAttempts, cfg.LoginWindow)

	r := mux.NewRouter()
	handlers.RegisterRoutes(r, cfg.GatewayDomain,
		handlers.NewAdminHandler(logger, svc, admins, cfg.MaxRequestBytes()),
		handlers.NewPublicHandler(logger, cfg, svc, objects, limiter),
	)

	mws := []func(http.Handler) http.Handler{
		handlers.SecurityHeaders,
		handlers.RequestIDMiddleware,
		handlers.RecoverMiddleware(logger),
		handlers.LoggingMiddleware(logger, db, cfg.ClientIPHeader),
	}
	if cfg.RateLimit > 0 {
		throttle := handlers.NewRequestThrottle(cfg.RateLimit, cfg.RateLimitWindow, cfg.ClientIPHeader)
		go throttle.Run(ctx)
		mws = append(mws, throttle.Middleware)
	}

	log.WithFields(logrus.Fields{
		"domain":  cfg.GatewayDomain,
		"kv":      cfg.KVBackend,
		"storage": cfg.StorageBackend,
	}).Info("Site gateway configured")

	if err := httpserver.New(logger, cfg.ListenAddr, handlers.Chain(r, mws...)).Run(ctx); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
	log.Info("Server stopped")
}

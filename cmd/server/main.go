package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"anoa.com/refurnish/internal/bootstrap"
	"anoa.com/refurnish/internal/config"
	"anoa.com/refurnish/internal/server"
	"anoa.com/refurnish/pkg/database"
	"anoa.com/refurnish/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/meilisearch/meilisearch-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg.DSN(), database.Options{LogLevel: cfg.LogLevel}, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	if cfg.SeedDefaultAchievements {
		if err := bootstrap.SeedAchievements(context.Background(), db, log); err != nil {
			log.Fatal("failed to seed achievements", zap.Error(err))
		}
	}

	redisClient := connectRedis(cfg.RedisURL, log)
	meiliClient := connectMeili(cfg.MeiliSearchHost, cfg.MeiliMasterKey, log)

	srv, err := server.NewServer(cfg, db, redisClient, meiliClient, log)
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server exited with error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	closeStores(db, redisClient, log)
	log.Info("server stopped")
}

// connectRedis returns nil when REDIS_URL is unset or the server is unreachable.
func connectRedis(url string, log *zap.Logger) *redis.Client {
	if url == "" {
		log.Info("REDIS_URL not set, running without cache and live notifications")
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid REDIS_URL, running without redis", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, running without redis", zap.Error(err))
		_ = client.Close()
		return nil
	}

	log.Info("connected to redis", zap.String("addr", opts.Addr))
	return client
}

func connectMeili(host, apiKey string, log *zap.Logger) meilisearch.ServiceManager {
	if host == "" {
		log.Info("MEILISEARCH_HOST not set, catalogue search uses the database")
		return nil
	}
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host + ":7700"
	}
	return meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
}

func closeStores(db *gorm.DB, redisClient *redis.Client, log *zap.Logger) {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		log.Warn("database close failed", zap.Error(err))
	}
}

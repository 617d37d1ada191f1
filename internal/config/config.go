package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string
	LogLevel       string
	JWTSecret      string

	DatabaseURL string
	DBHost      string
	DBUser      string
	DBPass      string
	DBName      string
	DBPort      string

	RedisURL string

	MeiliSearchHost string
	MeiliMasterKey  string

	// Ledger
	LedgerStoreTimeout      time.Duration
	AnomalyThreshold        int64
	DefaultPageSize         int
	MaxPageSize             int
	ReconcileSchedule       string
	AchievementCacheTTL     time.Duration
	EventQueueSize          int
	PointsEventsChannel     string
	SeedDefaultAchievements bool
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		JWTSecret:      os.Getenv("JWT_SECRET"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPass:      os.Getenv("DB_PASS"),
		DBName:      getEnv("DB_NAME", "refurnish"),
		DBPort:      getEnv("DB_PORT", "5432"),

		RedisURL: os.Getenv("REDIS_URL"),

		MeiliSearchHost: os.Getenv("MEILISEARCH_HOST"),
		MeiliMasterKey:  os.Getenv("MEILI_MASTER_KEY"),

		ReconcileSchedule:   getEnv("POINTS_RECONCILE_SCHEDULE", "@every 6h"),
		PointsEventsChannel: getEnv("POINTS_EVENTS_CHANNEL", "points:events"),
	}

	if cfg.JWTSecret == "" {
		if cfg.AppEnv == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "dev-secret"
	}

	var err error
	if cfg.LedgerStoreTimeout, err = parseDuration(getEnv("LEDGER_STORE_TIMEOUT", "5s")); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_STORE_TIMEOUT: %w", err)
	}
	if cfg.AchievementCacheTTL, err = parseDuration(getEnv("ACHIEVEMENT_CACHE_TTL", "10m")); err != nil {
		return nil, fmt.Errorf("invalid ACHIEVEMENT_CACHE_TTL: %w", err)
	}
	if cfg.AnomalyThreshold, err = strconv.ParseInt(getEnv("POINTS_ANOMALY_THRESHOLD", "1000"), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid POINTS_ANOMALY_THRESHOLD: %w", err)
	}
	if cfg.DefaultPageSize, err = parsePositiveInt("POINTS_DEFAULT_PAGE_SIZE", "20"); err != nil {
		return nil, err
	}
	if cfg.MaxPageSize, err = parsePositiveInt("POINTS_MAX_PAGE_SIZE", "100"); err != nil {
		return nil, err
	}
	if cfg.EventQueueSize, err = parsePositiveInt("EVENT_QUEUE_SIZE", "256"); err != nil {
		return nil, err
	}
	if cfg.SeedDefaultAchievements, err = strconv.ParseBool(getEnv("SEED_DEFAULT_ACHIEVEMENTS", strconv.FormatBool(cfg.AppEnv == "development"))); err != nil {
		return nil, fmt.Errorf("invalid SEED_DEFAULT_ACHIEVEMENTS: %w", err)
	}

	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}

	return cfg, nil
}

// DSN returns DATABASE_URL when set, otherwise a DSN assembled from the DB_* variables.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort,
	)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func parsePositiveInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}

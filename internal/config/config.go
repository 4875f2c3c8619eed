package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（未設定の場合は件数キャッシュを無効化する）
	RedisURL      string
	CountCacheTTL time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel  string
	LogFormat string

	// Rate Limit（req/sec単位）
	RateLimitGeneral      int
	RateLimitGeneralBurst int
	RateLimitMap          int
	RateLimitMapBurst     int

	// Refresh worker
	RefreshInterval      time.Duration
	RefreshBatchSize     int
	RefreshMaxConcurrent int

	// Cleanup worker
	CleanupInterval      time.Duration
	CleanupRetentionDays int

	// Map
	PrimaryPinLimit int
}

// Load は環境変数からConfigを読み込む。
// .envファイルがあれば先に読み込む（なくてもエラーにしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.CountCacheTTL = getEnvDuration("COUNT_CACHE_TTL", 60*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvString("LOG_FORMAT", "json")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 2)
	cfg.RateLimitGeneralBurst = getEnvInt("RATE_LIMIT_GENERAL_BURST", 30)
	cfg.RateLimitMap = getEnvInt("RATE_LIMIT_MAP", 4)
	cfg.RateLimitMapBurst = getEnvInt("RATE_LIMIT_MAP_BURST", 60)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 30*time.Second)
	cfg.RefreshBatchSize = getEnvInt("REFRESH_BATCH_SIZE", 200)
	cfg.RefreshMaxConcurrent = getEnvInt("REFRESH_MAX_CONCURRENT", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.CleanupRetentionDays = getEnvInt("CLEANUP_RETENTION_DAYS", 7)
	cfg.PrimaryPinLimit = getEnvInt("PRIMARY_PIN_LIMIT", 15)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

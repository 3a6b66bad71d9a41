package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Bluesky
	BlueskyServiceURL string
	BlueskyTimeout    time.Duration

	// Upload
	MaxUploadSize int64
	UploadDir     string

	// Image
	MaxImageDimension int
	JPEGQuality       int

	// Rate Limit
	RateLimitGeneral int
	RateLimitPublish int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
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
	cfg.BlueskyServiceURL = getEnvString("BLUESKY_SERVICE_URL", "https://bsky.social/xrpc")
	cfg.BlueskyTimeout = getEnvDuration("BLUESKY_TIMEOUT", 30*time.Second)
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 10485760)
	cfg.UploadDir = getEnvString("UPLOAD_DIR", "")
	cfg.MaxImageDimension = getEnvInt("MAX_IMAGE_DIMENSION", 2000)
	cfg.JPEGQuality = getEnvInt("JPEG_QUALITY", 85)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPublish = getEnvInt("RATE_LIMIT_PUBLISH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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

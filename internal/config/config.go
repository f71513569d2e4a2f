package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        int
	Host        string
	BaseURL     string
	AdminSecret string

	// Database
	DatabasePath string

	// Rate Limiting
	CommentRateLimit      int // per window
	LikeRateLimit         int // per window
	NotificationRateLimit int // per window
	RateLimitWindow       time.Duration

	// Auth
	TokenTTL time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Notifications
	NotificationPageSize int
	PushBuffer           int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		Port:                  getEnvInt("PORT", 8080),
		Host:                  getEnv("HOST", "0.0.0.0"),
		BaseURL:               getEnv("BASE_URL", "http://localhost:8080"),
		AdminSecret:           getEnv("ADMIN_SECRET", ""),
		DatabasePath:          getEnv("DATABASE_PATH", "contribium.db"),
		CommentRateLimit:      getEnvInt("COMMENT_RATE_LIMIT", 60),
		LikeRateLimit:         getEnvInt("LIKE_RATE_LIMIT", 240),
		NotificationRateLimit: getEnvInt("NOTIFICATION_RATE_LIMIT", 600),
		RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		TokenTTL:              getEnvDuration("TOKEN_TTL", 30*24*time.Hour),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		NotificationPageSize:  getEnvInt("NOTIFICATION_PAGE_SIZE", 50),
		PushBuffer:            getEnvInt("PUSH_BUFFER", 32),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

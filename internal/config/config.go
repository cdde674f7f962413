// Package config loads process configuration from environment variables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the monitoring service.
type Config struct {
	Environment         string
	Addr                string
	LogLevel            string
	EventLogPath        string
	MetricsEnabled      bool
	SlowRequestLimit    time.Duration
	SlowQueryLimit      time.Duration
	JWTSecret           string
	ProducerToken       string
	QueryRateLimit      int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
	SSEHeartbeatEvery   time.Duration
	DiskSamplePath      string
	DefaultHistoryHours int
}

// Load constructs a Config from environment variables with development
// defaults.
func Load() Config {
	return Config{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":8000"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		EventLogPath:        GetString("EVENT_LOG_PATH", "logs/app.log"),
		MetricsEnabled:      GetBool("METRICS_ENABLED", true),
		SlowRequestLimit:    time.Duration(GetInt("SLOW_REQUEST_THRESHOLD_MS", 1000)) * time.Millisecond,
		SlowQueryLimit:      time.Duration(GetInt("DB_QUERY_SLOW_THRESHOLD_MS", 500)) * time.Millisecond,
		JWTSecret:           GetString("JWT_SECRET", ""),
		ProducerToken:       GetString("PRODUCER_TOKEN", ""),
		QueryRateLimit:      GetInt("QUERY_RATE_LIMIT", 120),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		SSEHeartbeatEvery:   time.Duration(GetInt("SSE_HEARTBEAT_SECONDS", 15)) * time.Second,
		DiskSamplePath:      GetString("DISK_SAMPLE_PATH", "/"),
		DefaultHistoryHours: GetInt("DEFAULT_HISTORY_HOURS", 24),
	}
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

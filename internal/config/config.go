package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Owner is the identity jobs and documents are attributed to.
	// There is deliberately no fallback identity; submission paths
	// reject an empty owner.
	Owner string

	// Worker
	WorkerCount       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StallWindow       time.Duration
	MaxRetries        int
	RetryBackoffBase  time.Duration
	ServerPort        string

	// Recovery
	AutoThreshold   float64 // confidence >= this: auto-recovered
	ReviewThreshold float64 // confidence >= this: needs review
	ContextWindow   int     // chars of context captured around offsets
	CheckpointBatch int     // annotations between cancellation checks

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "reanchor"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "documents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		Owner: os.Getenv("REANCHOR_OWNER"),

		WorkerCount:       getEnvInt("REANCHOR_WORKERS", 2),
		PollInterval:      getEnvDuration("REANCHOR_POLL_INTERVAL", 2*time.Second),
		HeartbeatInterval: getEnvDuration("REANCHOR_HEARTBEAT_INTERVAL", 15*time.Second),
		StallWindow:       getEnvDuration("REANCHOR_STALL_WINDOW", 5*time.Minute),
		MaxRetries:        getEnvInt("REANCHOR_MAX_RETRIES", 3),
		RetryBackoffBase:  getEnvDuration("REANCHOR_RETRY_BACKOFF", 30*time.Second),
		ServerPort:        getEnv("REANCHOR_SERVER_PORT", "8585"),

		AutoThreshold:   getEnvFloat("REANCHOR_AUTO_THRESHOLD", 0.85),
		ReviewThreshold: getEnvFloat("REANCHOR_REVIEW_THRESHOLD", 0.75),
		ContextWindow:   getEnvInt("REANCHOR_CONTEXT_WINDOW", 50),
		CheckpointBatch: getEnvInt("REANCHOR_CHECKPOINT_BATCH", 25),

		LogFile:  getEnv("REANCHOR_LOG_FILE", "/tmp/reanchor.log"),
		LogLevel: parseLogLevel(getEnv("REANCHOR_LOG_LEVEL", "INFO")),
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
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"candle-aggregation/internal/model"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Feed sources.
const (
	FeedSynthetic = "synthetic"
	FeedWS        = "ws"
	FeedReplay    = "replay"
	FeedNone      = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Listeners
	HTTPAddr    string
	MetricsAddr string

	// Aggregation
	Intervals  []model.Interval
	CloseEvery time.Duration
	QueueSize  int

	// Storage
	StoreBackend string
	SQLiteDSN    string

	// Redis candle publisher; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string

	// Kafka candle stream; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	// Feed
	Feed        string
	SimWSURL    string
	FeedSymbols string
	FeedEvery   time.Duration
	ReplayFile  string
	ReplaySpeed float64

	LogLevel string
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		SQLiteDSN:    getEnv("SQLITE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "candles"),

		Feed:        strings.ToLower(getEnv("FEED", FeedSynthetic)),
		SimWSURL:    getEnv("SIM_WS_URL", "ws://localhost:9001/ws"),
		FeedSymbols: getEnv("FEED_SYMBOLS", ""),
		ReplayFile:  getEnv("REPLAY_FILE", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Intervals, err = model.ParseIntervals(getEnv("INTERVALS", "1s,5s,1m,5m,15m,1h")); err != nil {
		return nil, fmt.Errorf("config: INTERVALS: %w", err)
	}
	if cfg.CloseEvery, err = getDuration("CLOSE_EVERY", time.Second); err != nil {
		return nil, err
	}
	if cfg.FeedEvery, err = getDuration("FEED_EVERY", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getInt("QUEUE_SIZE", 10000); err != nil {
		return nil, err
	}
	if cfg.ReplaySpeed, err = getFloat("REPLAY_SPEED", 1); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	default:
		return nil, fmt.Errorf("config: STORE_BACKEND: unknown backend %q", cfg.StoreBackend)
	}
	switch cfg.Feed {
	case FeedSynthetic, FeedWS, FeedNone:
	case FeedReplay:
		if cfg.ReplayFile == "" {
			return nil, fmt.Errorf("config: REPLAY_FILE is required with FEED=replay")
		}
	default:
		return nil, fmt.Errorf("config: FEED: unknown feed %q", cfg.Feed)
	}

	return cfg, nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: %s: invalid positive integer %q", key, v)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("config: %s: invalid non-negative number %q", key, v)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s: invalid duration %q", key, v)
	}
	return d, nil
}

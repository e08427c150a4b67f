package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the receiptq server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Auth     AuthConfig
	Print    PrintConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	Store           string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	MaxDepth      int
	LeaseRecovery time.Duration
	RetentionDays int
	SweepSchedule string
}

type AuthConfig struct {
	BootstrapKey    string
	RateLimitPerMin int
}

type PrintConfig struct {
	WidthDots     int
	Threshold     int
	EposDeviceID  string
	EposTimeoutMs int
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("RECEIPTQ_PORT", 8080),
			Env:      envString("RECEIPTQ_ENV", "development"),
			LogLevel: strings.ToLower(envString("RECEIPTQ_LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			Store:           strings.ToLower(envString("RECEIPTQ_STORE", StorePostgres)),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			MaxDepth:      envInt("RECEIPTQ_MAX_QUEUE_DEPTH", 10),
			LeaseRecovery: envDuration("RECEIPTQ_LEASE_RECOVERY", 30*time.Second),
			RetentionDays: envInt("RECEIPTQ_RETENTION_DAYS", 7),
			SweepSchedule: envString("RECEIPTQ_SWEEP_SCHEDULE", "@every 1h"),
		},
		Auth: AuthConfig{
			BootstrapKey:    os.Getenv("RECEIPTQ_BOOTSTRAP_API_KEY"),
			RateLimitPerMin: envInt("RECEIPTQ_RATE_LIMIT_PER_MIN", 60),
		},
		Print: PrintConfig{
			WidthDots:     envInt("RECEIPTQ_PRINT_WIDTH_DOTS", 576),
			Threshold:     envInt("RECEIPTQ_PRINT_THRESHOLD", 128),
			EposDeviceID:  envString("RECEIPTQ_EPOS_DEVICE_ID", "local_printer"),
			EposTimeoutMs: envInt("RECEIPTQ_EPOS_TIMEOUT_MS", 10000),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SlogLevel returns the slog level matching Server.LogLevel.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := validLogLevels[c.Server.LogLevel]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("RECEIPTQ_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if _, ok := validLogLevels[c.Server.LogLevel]; !ok {
		return fmt.Errorf("RECEIPTQ_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	switch c.Database.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("RECEIPTQ_STORE must be one of postgres, memory; got %q", c.Database.Store)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Queue.MaxDepth < 1 {
		return fmt.Errorf("RECEIPTQ_MAX_QUEUE_DEPTH must be at least 1, got %d", c.Queue.MaxDepth)
	}
	if c.Queue.LeaseRecovery < 0 {
		return fmt.Errorf("RECEIPTQ_LEASE_RECOVERY must be non-negative, got %s", c.Queue.LeaseRecovery)
	}
	if c.Queue.RetentionDays < 0 {
		return fmt.Errorf("RECEIPTQ_RETENTION_DAYS must be non-negative, got %d", c.Queue.RetentionDays)
	}
	if strings.TrimSpace(c.Queue.SweepSchedule) == "" {
		return fmt.Errorf("RECEIPTQ_SWEEP_SCHEDULE must not be empty")
	}

	if c.Auth.BootstrapKey != "" && len(c.Auth.BootstrapKey) < 16 {
		return fmt.Errorf("RECEIPTQ_BOOTSTRAP_API_KEY must be at least 16 characters")
	}

	if c.Print.WidthDots < 8 {
		return fmt.Errorf("RECEIPTQ_PRINT_WIDTH_DOTS must be at least 8, got %d", c.Print.WidthDots)
	}
	if c.Print.Threshold < 0 || c.Print.Threshold > 255 {
		return fmt.Errorf("RECEIPTQ_PRINT_THRESHOLD must be between 0 and 255, got %d", c.Print.Threshold)
	}
	if c.Print.EposDeviceID == "" {
		return fmt.Errorf("RECEIPTQ_EPOS_DEVICE_ID must not be empty")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
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

func envDuration(key string, defaultVal time.Duration) time.Duration {
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

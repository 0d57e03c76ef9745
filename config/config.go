package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
	StoreMongo    = "mongo"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	ServerPort int
	LogLevel   slog.Level

	StateStore  string
	DatabaseURL string
	RedisURL    string

	MongoURI      string
	MongoDatabase string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	AllowedOrigins []string
	TextsFile      string

	ReconnectGrace time.Duration
	RoomIdleTTL    time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StateStore:        strings.ToLower(getEnv("STATE_STORE", StoreMemory)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDatabase:     getEnv("MONGO_DATABASE", "typing_arena"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		TextsFile:         os.Getenv("TEXTS_FILE"),
	}

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT environment variable: %w", err)
	}
	cfg.ServerPort = port

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL environment variable: %w", err)
	}

	if cfg.ReconnectGrace, err = time.ParseDuration(getEnv("RECONNECT_GRACE", "30s")); err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_GRACE environment variable: %w", err)
	}
	if cfg.RoomIdleTTL, err = time.ParseDuration(getEnv("ROOM_IDLE_TTL", "10m")); err != nil {
		return nil, fmt.Errorf("invalid ROOM_IDLE_TTL environment variable: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and that the selected state store is fully configured.
// It is re-run after command line overrides are applied.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.ReconnectGrace <= 0 {
		return fmt.Errorf("RECONNECT_GRACE must be positive, got %s", c.ReconnectGrace)
	}
	if c.RoomIdleTTL <= 0 {
		return fmt.Errorf("ROOM_IDLE_TTL must be positive, got %s", c.RoomIdleTTL)
	}

	switch c.StateStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL environment variable is not set")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI environment variable is not set")
		}
	case StoreS3:
		if c.R2AccountID == "" || c.R2AccessKeyID == "" || c.R2SecretAccessKey == "" || c.R2BucketName == "" {
			return fmt.Errorf("R2_ACCOUNT_ID, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET_NAME must all be set")
		}
	default:
		return fmt.Errorf("unknown STATE_STORE %q", c.StateStore)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

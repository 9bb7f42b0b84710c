// Package config reads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Addr           string
	CatalogPath    string // empty means the embedded default roster
	SnapshotDir    string // save and load never leave this directory
	SnapshotName   string // default file inside SnapshotDir
	TickInterval   time.Duration
	Synthetic      bool
	SyntheticEvery int
	Seed           int64 // 0 seeds from the clock
	WrapOnComplete bool
	NATSURL        string // empty disables the event mirror
	NATSPrefix     string
	AMQPURL        string // empty disables the RabbitMQ mirror
	AMQPExchange   string
	LogLevel       string
	Development    bool
}

// Load reads an optional .env file into the environment, then builds the
// config from AUCTION_* variables. A missing .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Addr:           getEnv("AUCTION_ADDR", ":8080"),
		CatalogPath:    getEnv("AUCTION_CATALOG", ""),
		SnapshotDir:    getEnv("AUCTION_SNAPSHOT_DIR", "."),
		SnapshotName:   getEnv("AUCTION_SNAPSHOT_NAME", "auction_state.dat"),
		TickInterval:   getEnvAsDuration("AUCTION_TICK_INTERVAL", time.Second),
		Synthetic:      getEnvAsBool("AUCTION_SYNTHETIC", true),
		SyntheticEvery: getEnvAsInt("AUCTION_SYNTHETIC_EVERY", 2),
		Seed:           int64(getEnvAsInt("AUCTION_SEED", 0)),
		WrapOnComplete: getEnvAsBool("AUCTION_WRAP_ON_COMPLETE", false),
		NATSURL:        getEnv("AUCTION_NATS_URL", ""),
		NATSPrefix:     getEnv("AUCTION_NATS_PREFIX", "auction.events"),
		AMQPURL:        getEnv("AUCTION_AMQP_URL", ""),
		AMQPExchange:   getEnv("AUCTION_AMQP_EXCHANGE", "auction_events_exchange"),
		LogLevel:       getEnv("AUCTION_LOG_LEVEL", "info"),
		Development:    getEnvAsBool("AUCTION_DEV", false),
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("AUCTION_TICK_INTERVAL must be positive, got %s", cfg.TickInterval)
	}
	if cfg.SyntheticEvery < 1 {
		return Config{}, fmt.Errorf("AUCTION_SYNTHETIC_EVERY must be at least 1, got %d", cfg.SyntheticEvery)
	}
	if _, err := snapshot.ResolvePath(cfg.SnapshotDir, cfg.SnapshotName); err != nil {
		return Config{}, fmt.Errorf("AUCTION_SNAPSHOT_NAME: %w", err)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("AUCTION_LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

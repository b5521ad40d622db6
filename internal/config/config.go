// Package config provides application configuration, loaded from
// environment variables with an optional .env file. Env vars win; nothing
// below them overrides a set variable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir          string // base directory for portfolio.db and backups (always absolute)
	Port             int    // HTTP server port
	LogLevel         string // debug, info, warn, error
	DevMode          bool
	SyncCron         string // cron expression driving periodic TriggerSync
	BackfillCron     string // cron expression driving periodic valuation Backfill
	S3BackupBucket   string // optional: enables the cloud backup job when non-empty
	S3BackupRegion   string
	S3BackupEndpoint string // optional custom endpoint (R2, MinIO, ...)
}

// Load reads configuration from environment variables, falling back to
// sensible defaults. dataDirOverride, if non-empty, takes priority over
// LEDGERFOLIO_DATA_DIR.
func Load(dataDirOverride ...string) (*Config, error) {
	// Best-effort: a missing .env just means everything comes from the
	// process environment.
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("LEDGERFOLIO_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		SyncCron:         getEnv("SYNC_CRON", "0 */2 * * *"),
		BackfillCron:     getEnv("BACKFILL_CRON", "15 1 * * *"),
		S3BackupBucket:   getEnv("BACKUP_S3_BUCKET", ""),
		S3BackupRegion:   getEnv("BACKUP_S3_REGION", "auto"),
		S3BackupEndpoint: getEnv("BACKUP_S3_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants on the loaded configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

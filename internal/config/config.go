// Package config loads engine configuration from environment variables and
// the bucket topology file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          int
	DevMode       bool
	LogLevel      string
	DatabasePath  string
	BucketsPath   string
	OperatorToken string

	// Snapshot backup (optional; disabled when Bucket is empty)
	BackupBucket   string
	BackupEndpoint string
	BackupSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnvAsInt("PORT", 8080),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabasePath:   getEnv("DATABASE_PATH", "./data/poolhouse.db"),
		BucketsPath:    getEnv("BUCKETS_PATH", "./buckets.yaml"),
		OperatorToken:  getEnv("OPERATOR_TOKEN", ""),
		BackupBucket:   getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint: getEnv("BACKUP_ENDPOINT", ""),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "@hourly"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.BucketsPath == "" {
		return fmt.Errorf("BUCKETS_PATH is required")
	}
	if c.OperatorToken == "" {
		return fmt.Errorf("OPERATOR_TOKEN is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

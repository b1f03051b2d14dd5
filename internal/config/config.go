// Package config provides configuration management for hearth. Values are
// layered: compiled defaults, then an optional hearth.yaml file, then
// environment variables with the HEARTH_ prefix. Environment variables
// win so deployments can override a checked-in config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the hearth application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Security   SecurityConfig   `yaml:"security"`
	Backup     BackupConfig     `yaml:"backup"`
	Compaction CompactionConfig `yaml:"compaction"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 7272)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig controls backend selection.
type StorageConfig struct {
	// Engine forces a backend by tag (postgres, sqlite, badger). Empty
	// means probe in preference order.
	Engine string `yaml:"engine"`

	// DataPath is the directory for file-backed engines (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN enables the postgres backend when non-empty.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ProbeTimeoutMS bounds each backend probe in milliseconds
	// (default: 1500).
	ProbeTimeoutMS int `yaml:"probe_timeout_ms"`
}

// ProbeTimeout returns the probe budget as a duration.
func (s StorageConfig) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutMS) * time.Millisecond
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"mode"`      // development or production (default: development)
	APIToken     string `yaml:"api_token"` // bearer token for the HTTP API
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	Enabled          bool   `yaml:"enabled"`           // default: false
	Interval         string `yaml:"interval"`          // default: 24h
	Path             string `yaml:"path"`              // default: ./backups
	Verify           bool   `yaml:"verify"`            // re-read snapshots after writing (default: true)
	RetentionHourly  int    `yaml:"retention_hourly"`  // default: 24
	RetentionDaily   int    `yaml:"retention_daily"`   // default: 7
	RetentionWeekly  int    `yaml:"retention_weekly"`  // default: 4
	RetentionMonthly int    `yaml:"retention_monthly"` // default: 12
}

// CompactionConfig tunes the retention pass.
type CompactionConfig struct {
	MaxMessagesPerChat int     `yaml:"max_messages_per_chat"` // default: 1000
	MinImportance      float64 `yaml:"min_importance"`        // default: 0.2
	MaxDecay           float64 `yaml:"max_decay"`             // default: 0.8
	Workers            int     `yaml:"workers"`               // default: 4
}

// LoadConfig loads configuration from defaults, the config file named by
// HEARTH_CONFIG (or ./hearth.yaml when present), and HEARTH_ environment
// variables, in that order of precedence.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("HEARTH_CONFIG")
	if path == "" {
		if _, err := os.Stat("hearth.yaml"); err == nil {
			path = "hearth.yaml"
		}
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7272,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			DataPath:       "./data",
			ProbeTimeoutMS: 1500,
		},
		Security: SecurityConfig{
			SecurityMode: "development",
		},
		Backup: BackupConfig{
			Interval:         "24h",
			Path:             "./backups",
			Verify:           true,
			RetentionHourly:  24,
			RetentionDaily:   7,
			RetentionWeekly:  4,
			RetentionMonthly: 12,
		},
		Compaction: CompactionConfig{
			MaxMessagesPerChat: 1000,
			MinImportance:      0.2,
			MaxDecay:           0.8,
			Workers:            4,
		},
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("HEARTH_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("HEARTH_HOST", cfg.Server.Host)

	cfg.Storage.Engine = getEnv("HEARTH_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("HEARTH_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("HEARTH_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.ProbeTimeoutMS = getEnvInt("HEARTH_PROBE_TIMEOUT_MS", cfg.Storage.ProbeTimeoutMS)

	cfg.Security.SecurityMode = getEnv("HEARTH_SECURITY_MODE", cfg.Security.SecurityMode)
	cfg.Security.APIToken = getEnv("HEARTH_API_TOKEN", cfg.Security.APIToken)

	cfg.Backup.Enabled = getEnvBool("HEARTH_BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Interval = getEnv("HEARTH_BACKUP_INTERVAL", cfg.Backup.Interval)
	cfg.Backup.Path = getEnv("HEARTH_BACKUP_PATH", cfg.Backup.Path)
	cfg.Backup.Verify = getEnvBool("HEARTH_BACKUP_VERIFY", cfg.Backup.Verify)
	cfg.Backup.RetentionHourly = getEnvInt("HEARTH_BACKUP_RETENTION_HOURLY", cfg.Backup.RetentionHourly)
	cfg.Backup.RetentionDaily = getEnvInt("HEARTH_BACKUP_RETENTION_DAILY", cfg.Backup.RetentionDaily)
	cfg.Backup.RetentionWeekly = getEnvInt("HEARTH_BACKUP_RETENTION_WEEKLY", cfg.Backup.RetentionWeekly)
	cfg.Backup.RetentionMonthly = getEnvInt("HEARTH_BACKUP_RETENTION_MONTHLY", cfg.Backup.RetentionMonthly)

	cfg.Compaction.MaxMessagesPerChat = getEnvInt("HEARTH_COMPACTION_MAX_MESSAGES", cfg.Compaction.MaxMessagesPerChat)
	cfg.Compaction.Workers = getEnvInt("HEARTH_COMPACTION_WORKERS", cfg.Compaction.Workers)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. An unparseable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no"
// as false (case-insensitive). An unparseable value falls back to the
// default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                    = "THRESHOLD"
	defaultHTTPAddress           = "127.0.0.1:8520"
	defaultDatabasePath          = "threshold.db"
	defaultLogLevel              = "info"
	defaultBatchDebounceMillis   = 500
	defaultTombstoneRetentionDay = 30
	defaultMaintenanceInterval   = 6 * time.Hour
)

// AppConfig captures runtime configuration for the sync daemon.
type AppConfig struct {
	HTTPAddress            string
	DatabasePath           string
	LogLevel               string
	LogFile                string
	BatchDebounce          time.Duration
	TombstoneRetentionDays int
	MaintenanceInterval    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("sync.batch_debounce_ms", defaultBatchDebounceMillis)
	configViper.SetDefault("sync.tombstone_retention_days", defaultTombstoneRetentionDay)
	configViper.SetDefault("sync.maintenance_interval", defaultMaintenanceInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		DatabasePath:           configViper.GetString("database.path"),
		LogLevel:               configViper.GetString("log.level"),
		LogFile:                configViper.GetString("log.file"),
		BatchDebounce:          time.Duration(configViper.GetInt("sync.batch_debounce_ms")) * time.Millisecond,
		TombstoneRetentionDays: configViper.GetInt("sync.tombstone_retention_days"),
		MaintenanceInterval:    configViper.GetDuration("sync.maintenance_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BatchDebounce <= 0 {
		return fmt.Errorf("sync.batch_debounce_ms must be positive")
	}
	if c.TombstoneRetentionDays <= 0 {
		return fmt.Errorf("sync.tombstone_retention_days must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("sync.maintenance_interval must be positive")
	}
	return nil
}

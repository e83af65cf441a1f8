// Package config loads and validates the archiver configuration. Settings
// come from three sources with increasing priority: built-in defaults, an
// optional JSON file, and environment variables.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/engine"
	"github.com/johnayoung/go-timeseries-archiver/internal/provider"
)

const dateLayout = "2006-01-02"

// AppConfig is the complete application configuration.
type AppConfig struct {
	AppName    string `json:"app_name" env:"TSARCHIVER_APP_NAME"`
	ConfigPath string `json:"-" env:"TSARCHIVER_CONFIG"`

	Archive  ArchiveConfig  `json:"archive" envPrefix:"TSARCHIVER_ARCHIVE_"`
	Sync     SyncConfig     `json:"sync" envPrefix:"TSARCHIVER_SYNC_"`
	Provider ProviderConfig `json:"provider" envPrefix:"TSARCHIVER_PROVIDER_"`
	Logging  LoggingConfig  `json:"logging" envPrefix:"TSARCHIVER_LOG_"`
}

// ArchiveConfig locates the on-disk archive.
type ArchiveConfig struct {
	// Root is the directory holding one subtree per granularity.
	Root string `json:"root" env:"ROOT"`

	// Granularity selects the partitioning: yearly, monthly, daily,
	// or sub-hour.
	Granularity string `json:"granularity" env:"GRANULARITY"`

	// Instruments are synced when a command names none explicitly.
	Instruments []string `json:"instruments" env:"INSTRUMENTS" envSeparator:","`
}

// SyncConfig tunes the sync engine. Durations are strings in Go duration
// syntax ("100ms", "1m30s") so they read naturally in JSON and the
// environment.
type SyncConfig struct {
	MaxAttempts         int    `json:"max_attempts" env:"MAX_ATTEMPTS"`
	MinCallSpacing      string `json:"min_call_spacing" env:"MIN_CALL_SPACING"`
	ThrottleCooldown    string `json:"throttle_cooldown" env:"THROTTLE_COOLDOWN"`
	RetryBackoffBase    string `json:"retry_backoff_base" env:"RETRY_BACKOFF_BASE"`
	Epoch               string `json:"epoch" env:"EPOCH"`
	MonthlyLookbackDays int    `json:"monthly_lookback_days" env:"MONTHLY_LOOKBACK_DAYS"`
	SubHourLookbackDays int    `json:"sub_hour_lookback_days" env:"SUB_HOUR_LOOKBACK_DAYS"`

	// Every, when set, re-runs the sync on that interval instead of
	// once.
	Every string `json:"every" env:"EVERY"`
}

// ProviderConfig selects and tunes the data source.
type ProviderConfig struct {
	Type         string   `json:"type" env:"TYPE"`
	Step         string   `json:"step" env:"STEP"`
	Fields       []string `json:"fields" env:"FIELDS" envSeparator:","`
	Earliest     string   `json:"earliest" env:"EARLIEST"`
	Instruments  []string `json:"instruments" env:"INSTRUMENTS" envSeparator:","`
	SkipWeekends bool     `json:"skip_weekends" env:"SKIP_WEEKENDS"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string            `json:"level" env:"LEVEL"`
	Format        string            `json:"format" env:"FORMAT"`
	Output        string            `json:"output" env:"OUTPUT"`
	FilePath      string            `json:"file_path" env:"FILE_PATH"`
	MaxSizeMB     int               `json:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups    int               `json:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays    int               `json:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress      bool              `json:"compress" env:"COMPRESS"`
	ContextFields map[string]string `json:"context_fields"`
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "tsarchiver",
		Archive: ArchiveConfig{
			Root:        "archive",
			Granularity: "daily",
		},
		Sync: SyncConfig{
			MaxAttempts:         5,
			MinCallSpacing:      "100ms",
			ThrottleCooldown:    "60s",
			RetryBackoffBase:    "500ms",
			Epoch:               "1980-01-01",
			MonthlyLookbackDays: 730,
			SubHourLookbackDays: 30,
		},
		Provider: ProviderConfig{
			Type:     "synthetic",
			Step:     "30m",
			Fields:   []string{"close", "high", "low", "open"},
			Earliest: "2000-01-01",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigManager loads configuration with the priority order defaults <
// file < environment and validates the result.
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a manager reading the given JSON file. An
// empty path skips the file source.
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigManager{configPath: configPath, logger: logger}
}

// LoadConfig builds the effective configuration.
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	cfg := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cm.config = cfg
	cm.logger.Info("configuration loaded",
		"config_path", cm.configPath,
		"archive_root", cfg.Archive.Root,
		"granularity", cfg.Archive.Granularity,
		"provider", cfg.Provider.Type,
		"log_level", cfg.Logging.Level)
	return cfg, nil
}

// Config returns the last configuration LoadConfig produced.
func (cm *ConfigManager) Config() *AppConfig {
	return cm.config
}

func (cm *ConfigManager) loadFromFile(cfg *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", cm.configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// Validate checks the whole configuration and reports every problem in
// one error.
func (c *AppConfig) Validate() error {
	var problems []string

	if c.Archive.Root == "" {
		problems = append(problems, "archive root must be set")
	}
	if _, err := c.Granularity(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.EngineConfig(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.SyncEvery(); err != nil {
		problems = append(problems, err.Error())
	}

	if c.Provider.Type != "synthetic" {
		problems = append(problems, fmt.Sprintf("unknown provider type %q", c.Provider.Type))
	}
	if _, err := c.SyntheticConfig(); err != nil {
		problems = append(problems, err.Error())
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			problems = append(problems, `log file path is required when log output is "file"`)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown log output %q", c.Logging.Output))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Granularity parses the configured archive granularity.
func (c *AppConfig) Granularity() (chunk.Granularity, error) {
	return chunk.ParseGranularity(c.Archive.Granularity)
}

// EngineConfig translates the sync settings into the engine's tuning.
func (c *AppConfig) EngineConfig() (*engine.Config, error) {
	spacing, err := parseDuration("sync.min_call_spacing", c.Sync.MinCallSpacing)
	if err != nil {
		return nil, err
	}
	cooldown, err := parseDuration("sync.throttle_cooldown", c.Sync.ThrottleCooldown)
	if err != nil {
		return nil, err
	}
	base, err := parseDuration("sync.retry_backoff_base", c.Sync.RetryBackoffBase)
	if err != nil {
		return nil, err
	}
	epoch, err := parseDate("sync.epoch", c.Sync.Epoch)
	if err != nil {
		return nil, err
	}

	cfg := &engine.Config{
		MaxAttempts:      c.Sync.MaxAttempts,
		MinCallSpacing:   spacing,
		ThrottleCooldown: cooldown,
		RetryBackoffBase: base,
		Epoch:            epoch,
		MonthlyLookback:  time.Duration(c.Sync.MonthlyLookbackDays) * 24 * time.Hour,
		SubHourLookback:  time.Duration(c.Sync.SubHourLookbackDays) * 24 * time.Hour,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SyntheticConfig translates the provider settings for the synthetic
// source.
func (c *AppConfig) SyntheticConfig() (provider.SyntheticConfig, error) {
	step, err := parseDuration("provider.step", c.Provider.Step)
	if err != nil {
		return provider.SyntheticConfig{}, err
	}
	earliest, err := parseDate("provider.earliest", c.Provider.Earliest)
	if err != nil {
		return provider.SyntheticConfig{}, err
	}
	return provider.SyntheticConfig{
		Step:         step,
		Fields:       c.Provider.Fields,
		Earliest:     earliest,
		Instruments:  c.Provider.Instruments,
		SkipWeekends: c.Provider.SkipWeekends,
	}, nil
}

// SyncEvery returns the periodic re-sync interval; zero means one-shot.
func (c *AppConfig) SyncEvery() (time.Duration, error) {
	if c.Sync.Every == "" {
		return 0, nil
	}
	every, err := parseDuration("sync.every", c.Sync.Every)
	if err != nil {
		return 0, err
	}
	if every == 0 {
		return 0, fmt.Errorf("sync.every must be positive when set")
	}
	return every, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration", name, value)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", name)
	}
	return d, nil
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %q is not a YYYY-MM-DD date", name, value)
	}
	return t, nil
}

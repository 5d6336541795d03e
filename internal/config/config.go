// =============================================================================
// Ledger Reconciliation - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing all configuration.
// There are two layers:
//
// CONFIGURATION FILES:
//   1. Settings (settings.yaml, .env, RECON_* environment variables):
//      application-wide settings such as the output directory, logging and
//      the record store. Loaded through viper.
//   2. Job configs (jobs/*.yaml or jobs/*.toml): one reconciliation run,
//      naming the ledger, the counterparty files and the pricing.
//
// Both layers follow the same pattern: read, apply defaults, validate.
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
)

// EnvPrefix prefixes every environment override (RECON_LOG_LEVEL, ...).
const EnvPrefix = "RECON"

// =============================================================================
// SETTINGS STRUCTURE
// =============================================================================

// Settings holds the application-wide configuration.
type Settings struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// OutputDir receives result copies, reports and exported documents.
	// Default: "./output"
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// JobsDir is searched for job files given by bare name.
	// Default: "./jobs"
	JobsDir string `mapstructure:"jobs_dir" yaml:"jobs_dir"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is the path to the application log file. Empty logs to stderr.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// FileNameFormat names exported files.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {job}       - Job name
	//   {type}      - Report type (unmatched, warnings, summary, document)
	// Default: "{job}_{type}_{timestamp}"
	FileNameFormat string `mapstructure:"file_name_format" yaml:"file_name_format"`

	// =========================================================================
	// STORE SETTINGS
	// =========================================================================

	Store StoreSettings `mapstructure:"store" yaml:"store"`

	// PersistAttempts is how many times each store write is tried.
	// Default: 3
	PersistAttempts int `mapstructure:"persist_attempts" yaml:"persist_attempts"`
}

// StoreSettings selects the record store backend.
type StoreSettings struct {
	// Driver is "json", "sqlite" or "postgres".
	// Default: "json"
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the JSON file or SQLite database.
	// Default: "./data/records.json" (json) or "./data/records.db" (sqlite)
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// StoreOptions converts the settings into store options.
func (s StoreSettings) StoreOptions() store.Options {
	return store.Options{Driver: s.Driver, Path: s.Path, DSN: s.DSN}
}

// =============================================================================
// SETTINGS LOADING
// =============================================================================

// NewViper returns a viper instance with defaults and RECON_ environment
// overrides registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("output_dir", "./output")
	v.SetDefault("jobs_dir", "./jobs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("file_name_format", "{job}_{type}_{timestamp}")
	v.SetDefault("store.driver", store.DriverJSON)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("persist_attempts", 3)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads settingsPath (if non-empty) into v and returns the
// resulting Settings. Without a path, ./settings.yaml is used when present.
func LoadSettings(v *viper.Viper, settingsPath string) (*Settings, error) {
	if settingsPath != "" {
		v.SetConfigFile(settingsPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read settings file: %w", err)
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	applySettingsDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// applySettingsDefaults fills values viper defaults cannot express.
func applySettingsDefaults(s *Settings) {
	if s.OutputDir == "" {
		s.OutputDir = "./output"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Store.Driver == "" {
		s.Store.Driver = store.DriverJSON
	}
	if s.Store.Path == "" {
		switch strings.ToLower(s.Store.Driver) {
		case store.DriverSQLite, "sqlite3":
			s.Store.Path = "./data/records.db"
		default:
			s.Store.Path = "./data/records.json"
		}
	}
	if s.PersistAttempts <= 0 {
		s.PersistAttempts = 3
	}
	if s.FileNameFormat == "" {
		s.FileNameFormat = "{job}_{type}_{timestamp}"
	}
}

// validateSettings checks the settings and creates the output directory.
func validateSettings(s *Settings) error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log_level", Problem: fmt.Sprintf("unknown level %q", s.LogLevel)}
	}

	switch strings.ToLower(s.Store.Driver) {
	case store.DriverJSON, store.DriverSQLite, "sqlite3":
	case store.DriverPostgres, "postgresql", "pgx":
		if s.Store.DSN == "" {
			return &ConfigError{Field: "store.dsn", Problem: "required for the postgres driver"}
		}
	default:
		return &ConfigError{Field: "store.driver", Problem: fmt.Sprintf("unknown driver %q", s.Store.Driver)}
	}

	if _, err := os.Stat(s.OutputDir); os.IsNotExist(err) {
		if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", s.OutputDir, err)
		}
	}
	return nil
}

package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/syncledger/pkg/constants"
	"github.com/agentstation/syncledger/pkg/errors"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "SYNCLEDGER"

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Ledger configuration
	StoreDSN         string
	RulesFile        string
	MinConfidence    *int
	StaleDays        int
	RetentionMonths  int
	BatchSize        int
	AutoResolve      bool
	PlatformMismatch bool

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
//  1. Command-line flags (applied later by UpdateFromFlags)
//  2. Environment variables (SYNCLEDGER_STORE_DSN, ...)
//  3. .env files
//  4. Config file (file, or ~/.syncledger.yaml when empty)
//  5. Defaults
func LoadConfig(file string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store_dsn", defaultDSN())
	v.SetDefault("stale_conflict_days", constants.DefaultStaleConflictDays)
	v.SetDefault("snapshot_retention_months", constants.DefaultSnapshotRetentionMonths)
	v.SetDefault("batch_size", constants.DefaultBatchSize)

	if file == "" {
		file = v.GetString("config")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError("config", "reading "+file, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".syncledger")
		// A missing default config file is fine.
		_ = v.ReadInConfig()
	}

	config := &Config{
		Format:     v.GetString("format"),
		ConfigFile: v.ConfigFileUsed(),

		StoreDSN:         v.GetString("store_dsn"),
		RulesFile:        v.GetString("rules_file"),
		StaleDays:        v.GetInt("stale_conflict_days"),
		RetentionMonths:  v.GetInt("snapshot_retention_months"),
		BatchSize:        v.GetInt("batch_size"),
		AutoResolve:      v.GetBool("auto_resolve"),
		PlatformMismatch: v.GetBool("platform_mismatch"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", v.GetString("log_level")),
		LogFormat: getEnvOrDefault("LOG_FORMAT", v.GetString("log_format")),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", v.GetString("log_output")),
	}
	if v.IsSet("min_confidence") {
		n := v.GetInt("min_confidence")
		config.MinConfidence = &n
	}
	if config.LogFormat == "" {
		config.LogFormat = "auto"
	}
	if config.LogOutput == "" {
		config.LogOutput = "stderr"
	}
	return config, nil
}

// UpdateFromFlags updates config values from parsed command flags so flag
// values take precedence over the config file and environment.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel, storeDSN string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if storeDSN != "" {
		c.StoreDSN = storeDSN
	}
}

// loadEnvFiles loads environment variables from .env files. Variables
// already set in the environment win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// defaultDSN points at the SQLite file under the user's data directory.
func defaultDSN() string {
	dir := strings.TrimPrefix(constants.DefaultDataPath, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, dir)
	}
	return "sqlite://" + filepath.Join(dir, constants.DefaultDatabaseFile)
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

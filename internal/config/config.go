// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/wp-statistics/wp-statistics-sub013/internal/timeframe"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Query engine settings
	FactRetentionDays   int    `mapstructure:"factretentiondays"`
	QueryWorkers        int    `mapstructure:"queryworkers"`
	QueryTimeoutSeconds int    `mapstructure:"querytimeoutseconds"`
	DefaultPerPage      int    `mapstructure:"defaultperpage"`
	MaxPerPage          int    `mapstructure:"maxperpage"`
	ComparisonPolicy    string `mapstructure:"comparisonpolicy"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		loaded, err := load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	})
	return cfg
}

func load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "wpstats")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("storagepath", "storage")
	v.SetDefault("publicdir", "public")
	v.SetDefault("publicassetsurlprefix", "/")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbtype", SQLiteDatabase)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("factretentiondays", 60)
	v.SetDefault("queryworkers", 6)
	v.SetDefault("querytimeoutseconds", 30)
	v.SetDefault("defaultperpage", 10)
	v.SetDefault("maxperpage", 1000)
	v.SetDefault("comparisonpolicy", string(timeframe.PreviousPolicyPreceding))

	v.BindEnv("appname", "WPSTATS_APP_NAME")
	v.BindEnv("appport", "WPSTATS_APP_PORT")
	v.BindEnv("environment", "WPSTATS_ENV")
	v.BindEnv("loglevel", "WPSTATS_LOG_LEVEL")
	v.BindEnv("storagepath", "WPSTATS_STORAGE_PATH")
	v.BindEnv("publicdir", "WPSTATS_PUBLIC_DIR")
	v.BindEnv("publicassetsurlprefix", "WPSTATS_PUBLIC_ASSETS_URL_PREFIX")
	v.BindEnv("logsdir", "WPSTATS_LOGS_DIR")
	v.BindEnv("logsmaxsizeinmb", "WPSTATS_LOGS_MAX_SIZE_IN_MB")
	v.BindEnv("logsmaxbackups", "WPSTATS_LOGS_MAX_BACKUPS")
	v.BindEnv("logsmaxageindays", "WPSTATS_LOGS_MAX_AGE_IN_DAYS")
	v.BindEnv("dbtype", "WPSTATS_DB_TYPE")
	v.BindEnv("dbmaxopenconns", "WPSTATS_DB_MAX_OPEN_CONNS")
	v.BindEnv("dbmaxidleconns", "WPSTATS_DB_MAX_IDLE_CONNS")
	v.BindEnv("factretentiondays", "WPSTATS_FACT_RETENTION_DAYS")
	v.BindEnv("queryworkers", "WPSTATS_QUERY_WORKERS")
	v.BindEnv("querytimeoutseconds", "WPSTATS_QUERY_TIMEOUT_SECONDS")
	v.BindEnv("defaultperpage", "WPSTATS_DEFAULT_PER_PAGE")
	v.BindEnv("maxperpage", "WPSTATS_MAX_PER_PAGE")
	v.BindEnv("comparisonpolicy", "WPSTATS_COMPARISON_POLICY")

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Set derived values
	c.DatabaseName = c.GetDatabasePath()
	return c, nil
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.FactRetentionDays < 0 {
		return fmt.Errorf("fact retention days must not be negative: %d", c.FactRetentionDays)
	}
	if c.QueryWorkers < 1 {
		return fmt.Errorf("query workers must be at least 1: %d", c.QueryWorkers)
	}
	if c.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("query timeout must not be negative: %d", c.QueryTimeoutSeconds)
	}
	if c.DefaultPerPage < 1 || c.MaxPerPage < 1 {
		return fmt.Errorf("page sizes must be positive: default %d, max %d", c.DefaultPerPage, c.MaxPerPage)
	}
	if c.DefaultPerPage > c.MaxPerPage {
		return fmt.Errorf("default per page %d exceeds max per page %d", c.DefaultPerPage, c.MaxPerPage)
	}
	if _, err := timeframe.ParsePreviousPolicy(c.ComparisonPolicy); err != nil {
		return err
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name.
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string.
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (one connection per concurrent sub-query plus headroom)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetQueryTimeout returns the per-batch deadline; zero disables it.
func (c *Config) GetQueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// GetComparisonPolicy returns the validated previous-period policy.
func (c *Config) GetComparisonPolicy() timeframe.PreviousPolicy {
	policy, err := timeframe.ParsePreviousPolicy(c.ComparisonPolicy)
	if err != nil {
		return timeframe.PreviousPolicyPreceding
	}
	return policy
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}

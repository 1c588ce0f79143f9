package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Combine-Capital/assetdb/internal/migration"
)

// DefaultEnvPrefix prefixes every environment override, e.g.
// ASSETDB_DATABASE_PATH.
const DefaultEnvPrefix = "ASSETDB"

// Config holds the service configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DatabaseConfig locates the global asset store
type DatabaseConfig struct {
	Path          string        `mapstructure:"path"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`   // Default: 5s
	TargetVersion int           `mapstructure:"target_version"` // Default: latest
}

// CacheConfig configures the optional Redis asset cache
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addrs    []string      `mapstructure:"addrs"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // Default: 60m
}

// OracleConfig configures the price oracle
type OracleConfig struct {
	Provider           string        `mapstructure:"provider"` // coingecko | none
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Currency           string        `mapstructure:"currency"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// MetricsConfig configures the Prometheus endpoint; an empty address
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from an optional file and environment variables.
// Environment variables take precedence over the file.
func Load(configPath, envPrefix string) (*Config, error) {
	v := viper.New()
	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}

	// Read environment variables with the service prefix
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", configPath)
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads configuration and panics on error.
// This is useful in main() where configuration errors should be fatal.
func MustLoad(configPath, envPrefix string) *Config {
	cfg, err := Load(configPath, envPrefix)
	if err != nil {
		panic(err)
	}
	return cfg
}

// applyDefaults registers every key with its default so environment
// overrides are picked up by Unmarshal.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "global.db")
	v.SetDefault("database.busy_timeout", 5*time.Second)
	v.SetDefault("database.target_version", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addrs", []string{"localhost:6379"})
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 60*time.Minute)

	v.SetDefault("oracle.provider", "coingecko")
	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.currency", "usd")
	v.SetDefault("oracle.rate_limit_per_second", 0.5) // Free tier limit
	v.SetDefault("oracle.timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.addr", "")
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database busy timeout must not be negative, got: %s", c.Database.BusyTimeout)
	}
	if c.Database.TargetVersion != 0 && c.Database.TargetVersion != migration.LatestVersion {
		return fmt.Errorf("database target version must be 0 or %d, got: %d", migration.LatestVersion, c.Database.TargetVersion)
	}

	if c.Cache.Enabled {
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("at least one cache address is required when the cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive, got: %s", c.Cache.TTL)
		}
	}

	switch c.Oracle.Provider {
	case "none":
	case "coingecko":
		if c.Oracle.RateLimitPerSecond <= 0 || c.Oracle.RateLimitPerSecond > 100 {
			return fmt.Errorf("oracle rate limit must be between 0-100 requests/second, got: %g", c.Oracle.RateLimitPerSecond)
		}
	default:
		return fmt.Errorf("unknown oracle provider: %q", c.Oracle.Provider)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console, got: %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the root logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Package config provides configuration management for reelpool using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8085
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultPoolCapacity      = 5
	defaultMaxConcurrent     = 3
	defaultFailureBackoff    = 30 * time.Second
	defaultProbeInterval     = 100 * time.Millisecond
	defaultProbeAttempts     = 70
	defaultMinBuffered       = 1.0
	defaultElevatedCapacity  = 4
	defaultCriticalCapacity  = 2
	defaultEmergencyCapacity = 2
	defaultBurstThreshold    = 3
	defaultBurstWindow       = 10 * time.Second
	defaultQuietPeriod       = 25 * time.Second
	defaultSamplerSchedule   = "@every 5s"
	defaultSamplerTimeout    = 2 * time.Second
	defaultWarningAvailable  = 512 * MB
	defaultCriticalAvailable = 256 * MB
	defaultEventBuffer       = 64
	defaultPlayerHTTPTimeout = 15 * time.Second
	defaultMaxBufferSeconds  = 8.0
	defaultMaxPlaylistSize   = 1 * MB
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "REELPOOL"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Pressure PressureConfig `mapstructure:"pressure"`
	Preload  PreloadConfig  `mapstructure:"preload"`
	Player   PlayerConfig   `mapstructure:"player"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds catalog database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the on-disk media cache location.
type StorageConfig struct {
	// CacheDir is the base for relative cached media paths in the catalog.
	CacheDir string `mapstructure:"cache_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// PoolConfig holds playback pool configuration.
type PoolConfig struct {
	Capacity         int           `mapstructure:"capacity"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	FailureBackoff   time.Duration `mapstructure:"failure_backoff"`
	StrictInvariants bool          `mapstructure:"strict_invariants"`
}

// ProbeConfig holds readiness probe configuration.
type ProbeConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	MinBufferedSeconds float64       `mapstructure:"min_buffered_seconds"`
}

// PressureConfig holds memory pressure monitor configuration.
type PressureConfig struct {
	ElevatedCapacity  int           `mapstructure:"elevated_capacity"`
	CriticalCapacity  int           `mapstructure:"critical_capacity"`
	EmergencyCapacity int           `mapstructure:"emergency_capacity"`
	BurstThreshold    int           `mapstructure:"burst_threshold"`
	BurstWindow       time.Duration `mapstructure:"burst_window"`
	QuietPeriod       time.Duration `mapstructure:"quiet_period"`
	Sampler           SamplerConfig `mapstructure:"sampler"`
}

// SamplerConfig holds OS memory sampling configuration.
type SamplerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	// Schedule is a cron expression or descriptor such as "@every 5s".
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// WarningAvailable and CriticalAvailable are available-memory thresholds.
	// Supports human-readable values like "512MB" or raw byte counts.
	WarningAvailable  ByteSize `mapstructure:"warning_available"`
	CriticalAvailable ByteSize `mapstructure:"critical_available"`
}

// PreloadConfig holds preload scheduling and event dispatch configuration.
type PreloadConfig struct {
	EventBuffer int `mapstructure:"event_buffer"`
}

// PlayerConfig holds media player backend configuration.
type PlayerConfig struct {
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	MaxBufferSeconds float64       `mapstructure:"max_buffer_seconds"`
	MaxPlaylistSize  ByteSize      `mapstructure:"max_playlist_size"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REELPOOL_ and use underscores for nesting.
// Example: REELPOOL_POOL_CAPACITY=8.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/reelpool")
		v.AddConfigPath("$HOME/.reelpool")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Decode unmarshals v into a Config without validating it.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reelpool.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.cache_dir", "./cache")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Pool defaults
	v.SetDefault("pool.capacity", defaultPoolCapacity)
	v.SetDefault("pool.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("pool.failure_backoff", defaultFailureBackoff)
	v.SetDefault("pool.strict_invariants", false)

	// Probe defaults
	v.SetDefault("probe.interval", defaultProbeInterval)
	v.SetDefault("probe.max_attempts", defaultProbeAttempts)
	v.SetDefault("probe.min_buffered_seconds", defaultMinBuffered)

	// Pressure defaults
	v.SetDefault("pressure.elevated_capacity", defaultElevatedCapacity)
	v.SetDefault("pressure.critical_capacity", defaultCriticalCapacity)
	v.SetDefault("pressure.emergency_capacity", defaultEmergencyCapacity)
	v.SetDefault("pressure.burst_threshold", defaultBurstThreshold)
	v.SetDefault("pressure.burst_window", defaultBurstWindow)
	v.SetDefault("pressure.quiet_period", defaultQuietPeriod)
	v.SetDefault("pressure.sampler.enabled", true)
	v.SetDefault("pressure.sampler.schedule", defaultSamplerSchedule)
	v.SetDefault("pressure.sampler.timeout", defaultSamplerTimeout)
	v.SetDefault("pressure.sampler.warning_available", int64(defaultWarningAvailable))
	v.SetDefault("pressure.sampler.critical_available", int64(defaultCriticalAvailable))

	// Preload defaults
	v.SetDefault("preload.event_buffer", defaultEventBuffer)

	// Player defaults
	v.SetDefault("player.http_timeout", defaultPlayerHTTPTimeout)
	v.SetDefault("player.max_buffer_seconds", defaultMaxBufferSeconds)
	v.SetDefault("player.max_playlist_size", int64(defaultMaxPlaylistSize))
	v.SetDefault("player.user_agent", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Pool validation
	if c.Pool.Capacity < 1 {
		return fmt.Errorf("pool.capacity must be at least 1")
	}
	if c.Pool.MaxConcurrent < 1 {
		return fmt.Errorf("pool.max_concurrent must be at least 1")
	}
	if c.Pool.FailureBackoff < 0 {
		return fmt.Errorf("pool.failure_backoff must not be negative")
	}

	// Probe validation
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	if c.Probe.MaxAttempts < 1 {
		return fmt.Errorf("probe.max_attempts must be at least 1")
	}
	if c.Probe.MinBufferedSeconds < 0 {
		return fmt.Errorf("probe.min_buffered_seconds must not be negative")
	}

	// Pressure validation
	p := c.Pressure
	if p.EmergencyCapacity < 2 {
		return fmt.Errorf("pressure.emergency_capacity must be at least 2")
	}
	if p.EmergencyCapacity > p.CriticalCapacity || p.CriticalCapacity > p.ElevatedCapacity {
		return fmt.Errorf("pressure capacities must satisfy emergency <= critical <= elevated")
	}
	if p.ElevatedCapacity > c.Pool.Capacity {
		return fmt.Errorf("pressure.elevated_capacity must not exceed pool.capacity")
	}
	if p.BurstThreshold < 1 {
		return fmt.Errorf("pressure.burst_threshold must be at least 1")
	}
	if p.BurstWindow <= 0 || p.QuietPeriod <= 0 {
		return fmt.Errorf("pressure.burst_window and pressure.quiet_period must be positive")
	}
	if p.Sampler.Enabled {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(p.Sampler.Schedule); err != nil {
			return fmt.Errorf("pressure.sampler.schedule is invalid: %w", err)
		}
		if p.Sampler.CriticalAvailable > p.Sampler.WarningAvailable {
			return fmt.Errorf("pressure.sampler.critical_available must not exceed warning_available")
		}
	}

	// Preload validation
	if c.Preload.EventBuffer < 1 {
		return fmt.Errorf("preload.event_buffer must be at least 1")
	}

	// Player validation
	if c.Player.MaxBufferSeconds <= 0 {
		return fmt.Errorf("player.max_buffer_seconds must be positive")
	}
	if c.Player.MaxPlaylistSize <= 0 {
		return fmt.Errorf("player.max_playlist_size must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Package config loads dispatcher configuration from defaults, an optional
// YAML file and DISPATCHER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use "__":
// DISPATCHER_DATABASE__URL sets database.url.
const EnvPrefix = "DISPATCHER_"

// Config is the application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	Redis      RedisConfig      `koanf:"redis"`
	AMQP       AMQPConfig       `koanf:"amqp"`
	Channels   ChannelsConfig   `koanf:"channels"`
}

// ServerConfig configures the HTTP servers.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"required"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"min=1"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// DispatcherConfig configures the campaign queue dispatcher.
type DispatcherConfig struct {
	Enabled                  bool          `koanf:"enabled"`
	TickInterval             time.Duration `koanf:"tick_interval" validate:"required"`
	ScanLimit                int           `koanf:"scan_limit" validate:"min=1"`
	MaxConcurrentConnections int           `koanf:"max_concurrent_connections" validate:"min=1"`
	SubBatchSize             int           `koanf:"sub_batch_size" validate:"min=1"`
	SubBatchPause            time.Duration `koanf:"sub_batch_pause"`
	ConnectionMinGap         time.Duration `koanf:"connection_min_gap"`
	ConnectionMaxPerHour     int           `koanf:"connection_max_per_hour" validate:"min=1"`
	ConnectionMaxPerDay      int           `koanf:"connection_max_per_day" validate:"min=1"`
	PoolIdleTTL              time.Duration `koanf:"pool_idle_ttl" validate:"required"`
	CleanupSchedule          string        `koanf:"cleanup_schedule" validate:"required"`
	AnalyticsSchedule        string        `koanf:"analytics_schedule"`
	Timezone                 string        `koanf:"timezone" validate:"required"`
	DefaultMaxAttempts       int           `koanf:"default_max_attempts" validate:"min=1"`
	CappedFallback           string        `koanf:"capped_fallback" validate:"oneof=best_effort strict"`
}

// RedisConfig configures the shared usage ledger.
type RedisConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Address   string `koanf:"address" validate:"required_if=Enabled true"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"min=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// AMQPConfig configures the progress event publisher.
type AMQPConfig struct {
	Enabled          bool   `koanf:"enabled"`
	URL              string `koanf:"url" validate:"required_if=Enabled true"`
	Exchange         string `koanf:"exchange"`
	RoutingKeyPrefix string `koanf:"routing_key_prefix"`
	BufferSize       int    `koanf:"buffer_size" validate:"min=0"`
}

// ChannelsConfig configures the channel adapters.
type ChannelsConfig struct {
	Official   OfficialConfig   `koanf:"official"`
	Unofficial UnofficialConfig `koanf:"unofficial"`
}

// OfficialConfig configures the Cloud API adapter.
type OfficialConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BaseURL      string        `koanf:"base_url" validate:"omitempty,url"`
	APIVersion   string        `koanf:"api_version"`
	RateLimit    float64       `koanf:"rate_limit" validate:"min=0"`
	Timeout      time.Duration `koanf:"timeout"`
	MediaBaseURL string        `koanf:"media_base_url" validate:"omitempty,url"`
}

// UnofficialConfig configures the WhatsApp Web adapter.
type UnofficialConfig struct {
	Enabled       bool    `koanf:"enabled"`
	MediaRoot     string  `koanf:"media_root"`
	MaxMediaBytes int64   `koanf:"max_media_bytes" validate:"min=0"`
	RateLimit     float64 `koanf:"rate_limit" validate:"min=0"`
	// StoreURL is the database holding linked device sessions. Empty means database.url.
	StoreURL string `koanf:"store_url"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	d := dispatch.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Dispatcher: DispatcherConfig{
			Enabled:                  true,
			TickInterval:             d.TickInterval,
			ScanLimit:                d.ScanLimit,
			MaxConcurrentConnections: d.MaxConcurrentConnections,
			SubBatchSize:             d.SubBatchSize,
			SubBatchPause:            d.SubBatchPause,
			ConnectionMinGap:         d.Connection.MinGap,
			ConnectionMaxPerHour:     d.Connection.MaxPerHour,
			ConnectionMaxPerDay:      d.Connection.MaxPerDay,
			PoolIdleTTL:              d.PoolIdleTTL,
			CleanupSchedule:          d.CleanupSchedule,
			AnalyticsSchedule:        d.AnalyticsSchedule,
			Timezone:                 "UTC",
			DefaultMaxAttempts:       d.Retry.MaxAttempts,
			CappedFallback:           string(d.CappedFallback),
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		AMQP: AMQPConfig{
			Exchange:         "campaign.progress",
			RoutingKeyPrefix: "campaign.",
			BufferSize:       1024,
		},
		Channels: ChannelsConfig{
			Official: OfficialConfig{
				Enabled:    true,
				BaseURL:    "https://graph.facebook.com",
				APIVersion: "v22.0",
				RateLimit:  20,
				Timeout:    10 * time.Second,
			},
			Unofficial: UnofficialConfig{
				MediaRoot:     "./uploads",
				MaxMediaBytes: 64 << 20,
				RateLimit:     5,
			},
		},
	}
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Dispatcher.Timezone); err != nil {
		return fmt.Errorf("invalid config: dispatcher.timezone: %w", err)
	}
	if !c.Channels.Official.Enabled && !c.Channels.Unofficial.Enabled {
		return errors.New("invalid config: at least one channel adapter must be enabled")
	}
	return nil
}

// DispatchConfig converts the dispatcher section into dispatch.Config.
func (c *Config) DispatchConfig() (dispatch.Config, error) {
	loc, err := time.LoadLocation(c.Dispatcher.Timezone)
	if err != nil {
		return dispatch.Config{}, fmt.Errorf("load timezone %q: %w", c.Dispatcher.Timezone, err)
	}

	d := c.Dispatcher
	retry := dispatch.DefaultRetryPolicy()
	retry.MaxAttempts = d.DefaultMaxAttempts

	return dispatch.Config{
		TickInterval:             d.TickInterval,
		ScanLimit:                d.ScanLimit,
		MaxConcurrentConnections: d.MaxConcurrentConnections,
		SubBatchSize:             d.SubBatchSize,
		SubBatchPause:            d.SubBatchPause,
		Connection: dispatch.ConnectionLimits{
			MinGap:     d.ConnectionMinGap,
			MaxPerHour: d.ConnectionMaxPerHour,
			MaxPerDay:  d.ConnectionMaxPerDay,
		},
		PoolIdleTTL:       d.PoolIdleTTL,
		CleanupSchedule:   d.CleanupSchedule,
		AnalyticsSchedule: d.AnalyticsSchedule,
		Location:          loc,
		CappedFallback:    dispatch.FallbackPolicy(d.CappedFallback),
		Retry:             retry,
	}, nil
}

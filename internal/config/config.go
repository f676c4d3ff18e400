package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Environment string `toml:"environment"`
	// ops server (metrics, health)
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// calendar
	Location  string `toml:"location"`
	WeekStart string `toml:"week_start" validate:"omitempty,oneof=monday sunday"`
	// storage
	StoreBackend    string `toml:"store_backend" validate:"oneof=memory redis postgres"`
	CacheSizeMB     int    `toml:"cache_size_mb" validate:"gte=0"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds" validate:"gte=0"`
	FlushInterval   int    `toml:"flush_interval_seconds" validate:"gt=0"`
	// redis
	RedisHost      string `toml:"redis_host" validate:"required_if=StoreBackend redis"`
	RedisPort      string `toml:"redis_port" validate:"required_if=StoreBackend redis"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`
	// postgres
	PostgresHost   string `toml:"postgres_host" validate:"required_if=StoreBackend postgres"`
	PostgresPort   string `toml:"postgres_port" validate:"required_if=StoreBackend postgres"`
	PostgresDBName string `toml:"postgres_db_name" validate:"required_if=StoreBackend postgres"`
	// external biometric source
	BiosourcePath string `toml:"biosource_path"`
	SyncInterval  int    `toml:"sync_interval_seconds" validate:"gt=0"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the validated config of env.
func Load(env, path string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode toml config [%s]: %w", path, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config [%s]: %w", env, err)
	}

	return cfg, nil
}

// CalendarLocation resolves the configured location, defaulting to the host local time.
func (c *Config) CalendarLocation() (*time.Location, error) {
	if c.Location == "" || strings.EqualFold(c.Location, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location)
}

func (c *Config) CalendarWeekStart() time.Weekday {
	if strings.EqualFold(c.WeekStart, "sunday") {
		return time.Sunday
	}
	return time.Monday
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) FlushEvery() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}

func (c *Config) SyncEvery() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

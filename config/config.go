package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the report storage service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL            string `mapstructure:"url"`
	PoolSize       int    `mapstructure:"pool_size"`
	SSLMode        string `mapstructure:"sslmode"`
	ChannelBinding bool   `mapstructure:"channel_binding"`
}

// Configured reports whether a database URL was provided.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != ""
}

func (p PostgresConfig) Validate() error {
	if p.PoolSize < 0 || p.PoolSize > 50 {
		return fmt.Errorf("storage.postgres.pool_size must be between 1 and 50, got %d", p.PoolSize)
	}
	return nil
}

// RedisConfig contains Redis connection settings. Redis is optional and only
// used to serialise retention sweeps across replicas.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// RetentionConfig controls the periodic purge of old sessions.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Days     int           `mapstructure:"days"`
	Schedule string        `mapstructure:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// Normalize applies defaults for unset retention values.
func (c RetentionConfig) Normalize() RetentionConfig {
	if c.Days <= 0 {
		c.Days = 30
	}
	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.Schedule == "" {
		c.Schedule = "0 0 * * *"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

func (c RetentionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cronexpr.Parse(c.Schedule); err != nil {
		return fmt.Errorf("retention.schedule: %w", err)
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// envAliases binds keys to the plain environment names used by existing
// deployments, after the prefixed name.
var envAliases = map[string][]string{
	"storage.postgres.url":       {"NEON_DATABASE_URL", "DATABASE_URL"},
	"storage.postgres.pool_size": {"DB_POOL_SIZE"},
	"storage.postgres.sslmode":   {"DB_SSL_MODE"},
}

const envPrefix = "TRADINGAGENTS"

// LoadConfig reads configuration from path, or from config.json in the usual
// locations when path is empty, and overlays TRADINGAGENTS_* environment
// variables. A missing config file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("storage.postgres.pool_size", 10)
	v.SetDefault("storage.postgres.sslmode", "require")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.schedule", "0 0 * * *")
	v.SetDefault("telemetry.service_name", "tradingagents-reports")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{key}, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		if err := v.BindEnv(append(names, aliases...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Retention = cfg.Retention.Normalize()

	for _, validate := range []func() error{
		cfg.Storage.Postgres.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Retention.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

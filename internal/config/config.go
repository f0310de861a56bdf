package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fieldconfig-backend/internal/grouping"
)

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Storage         StorageConfig         `mapstructure:"storage"`
	Upstream        UpstreamConfig        `mapstructure:"upstream"`
	Gateway         GatewayConfig         `mapstructure:"gateway"`
	Session         SessionConfig         `mapstructure:"session"`
	Grouping        GroupingConfig        `mapstructure:"grouping"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	Log             LogConfig             `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for the SQLite database file
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

type StorageConfig struct {
	LocalPath   string `mapstructure:"local_path"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

// UpstreamConfig points at the metadata catalog the canonical service syncs
// from: either an HTTP endpoint or a local file.
type UpstreamConfig struct {
	MetadataURL  string `mapstructure:"metadata_url"`
	MetadataFile string `mapstructure:"metadata_file"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	Insecure     bool   `mapstructure:"insecure"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

// GatewayConfig locates the canonical config service used by portal
// sessions. An empty BaseURL means the service in this process.
type GatewayConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

type SessionConfig struct {
	Secret           string `mapstructure:"secret"`
	TTLMinutes       int    `mapstructure:"ttl_minutes"`
	NoticeTTLSeconds int    `mapstructure:"notice_ttl_seconds"`
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

func (s SessionConfig) NoticeTTL() time.Duration {
	return time.Duration(s.NoticeTTLSeconds) * time.Second
}

type GroupingConfig struct {
	Overrides []grouping.Override `mapstructure:"overrides"`
}

type InstrumentationConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RetentionDays   int  `mapstructure:"retention_days"`
	BufferSize      int  `mapstructure:"buffer_size"`
	FlushIntervalMs int  `mapstructure:"flush_interval_ms"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(any) error {
			return validation.Validate(c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535))
		})),
		validation.Field(&c.Database, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Database,
				validation.Field(&c.Database.Driver, validation.Required, validation.In("postgres", "sqlite")),
				validation.Field(&c.Database.Name, validation.Required),
				validation.Field(&c.Database.Path, validation.When(c.Database.IsSQLite(), validation.Required)),
				validation.Field(&c.Database.Host, validation.When(!c.Database.IsSQLite(), validation.Required)),
			)
		})),
		validation.Field(&c.Upstream, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Upstream,
				validation.Field(&c.Upstream.MetadataURL, is.URL),
				validation.Field(&c.Upstream.TimeoutMs, validation.Min(0)),
			)
		})),
		validation.Field(&c.Gateway, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Gateway,
				validation.Field(&c.Gateway.BaseURL, is.URL),
				validation.Field(&c.Gateway.TimeoutMs, validation.Min(0)),
			)
		})),
		validation.Field(&c.Session, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Session,
				validation.Field(&c.Session.Secret, validation.Required, validation.Length(8, 0)),
				validation.Field(&c.Session.TTLMinutes, validation.Min(1)),
			)
		})),
		validation.Field(&c.Log, validation.By(func(any) error {
			return validation.Validate(c.Log.Level, validation.In("debug", "info", "warn", "error"))
		})),
	)
}

// Load reads app.yaml from the given directories (default "." and "../.."),
// applying a .env file and environment overrides such as SESSION_SECRET.
// A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "../.."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fieldconfig")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.max_file_size", 10485760)
	v.SetDefault("upstream.metadata_url", "")
	v.SetDefault("upstream.metadata_file", "")
	v.SetDefault("upstream.username", "")
	v.SetDefault("upstream.password", "")
	v.SetDefault("upstream.timeout_ms", 30000)
	v.SetDefault("upstream.insecure", false)
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.timeout_ms", 30000)
	v.SetDefault("session.secret", "changeme-session-secret")
	v.SetDefault("session.ttl_minutes", 30)
	v.SetDefault("session.notice_ttl_seconds", 5)
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.retention_days", 30)
	v.SetDefault("instrumentation.buffer_size", 100)
	v.SetDefault("instrumentation.flush_interval_ms", 1000)
	v.SetDefault("log.level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the storefront backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Uploads     UploadConfig      `mapstructure:"uploads"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the cache backend and per-resource snapshot TTLs.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
	TTL   CacheTTLConfig   `mapstructure:"ttl"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheTTLConfig bounds how long cached snapshots may serve stale reads.
type CacheTTLConfig struct {
	Item time.Duration `mapstructure:"item"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Driver string   `mapstructure:"driver"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds connection options for S3-compatible object storage.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	CreateBucket    bool   `mapstructure:"create_bucket"`
}

// UploadConfig bounds multipart ingestion.
type UploadConfig struct {
	MaxBytesPerField int64    `mapstructure:"max_bytes_per_field"`
	MaxFiles         int      `mapstructure:"max_files"`
	AllowedTypes     []string `mapstructure:"allowed_types"`
	SpoolDir         string   `mapstructure:"spool_dir"`
}

// AuthConfig captures token verification settings.
type AuthConfig struct {
	Mode string       `mapstructure:"mode"`
	JWT  JWTSettings  `mapstructure:"jwt"`
	OIDC OIDCSettings `mapstructure:"oidc"`
}

// JWTSettings configures local HMAC token verification.
type JWTSettings struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OIDCSettings configures verification against an external identity provider.
type OIDCSettings struct {
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
}

// MaintenanceConfig schedules the background reconciler.
type MaintenanceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	FinalizeSpec   string        `mapstructure:"finalize_spec"`
	CachePurgeSpec string        `mapstructure:"cache_purge_spec"`
	FinalizeAge    time.Duration `mapstructure:"finalize_age"`
}

// MonitoringConfig enables metrics exposure.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/storefront.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.ttl.item", "15m")

	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("storage.s3.create_bucket", false)

	v.SetDefault("uploads.max_bytes_per_field", 10<<20)
	v.SetDefault("uploads.max_files", 10)
	v.SetDefault("uploads.allowed_types", []string{})
	v.SetDefault("uploads.spool_dir", "")

	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt.issuer", "storefront")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.finalize_spec", "@hourly")
	v.SetDefault("maintenance.cache_purge_spec", "@hourly")
	v.SetDefault("maintenance.finalize_age", "10m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

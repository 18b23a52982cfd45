package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "cache.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.Cache.Redis.TLS)
	require.Equal(t, 2*time.Second, cfg.Cache.Redis.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Cache.TTL.Item)

	require.Equal(t, "s3", cfg.Storage.Driver)
	require.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	require.Equal(t, "storefront-media", cfg.Storage.S3.Bucket)
	require.Equal(t, "http://minio.local:9000", cfg.Storage.S3.Endpoint)
	require.True(t, cfg.Storage.S3.PathStyle)
	require.True(t, cfg.Storage.S3.CreateBucket)

	require.Equal(t, int64(5*1024*1024), cfg.Uploads.MaxBytesPerField)
	require.Equal(t, 4, cfg.Uploads.MaxFiles)
	require.Equal(t, []string{"image/*", "application/pdf"}, cfg.Uploads.AllowedTypes)
	require.Equal(t, "/tmp/storefront-spool", cfg.Uploads.SpoolDir)

	require.Equal(t, "oidc", cfg.Auth.Mode)
	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "storefront-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, "https://keycloak.example.com/realms/shop", cfg.Auth.OIDC.Issuer)
	require.Equal(t, "storefront-api", cfg.Auth.OIDC.ClientID)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "*/10 * * * *", cfg.Maintenance.FinalizeSpec)
	require.Equal(t, "@daily", cfg.Maintenance.CachePurgeSpec)
	require.Equal(t, 30*time.Minute, cfg.Maintenance.FinalizeAge)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 15*time.Minute, cfg.Cache.TTL.Item)
	require.Equal(t, "s3", cfg.Storage.Driver)
	require.Equal(t, int64(10<<20), cfg.Uploads.MaxBytesPerField)
	require.Equal(t, 10, cfg.Uploads.MaxFiles)
	require.Equal(t, "jwt", cfg.Auth.Mode)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.FinalizeSpec)
	require.Equal(t, 10*time.Minute, cfg.Maintenance.FinalizeAge)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestConfigAdapters(t *testing.T) {
	cfg := Config{}
	cfg.Cache.Redis = RedisCacheConfig{Address: " cache:6379 ", Username: " app ", DB: 3}
	cfg.Cache.TTL.Item = 0
	cfg.Storage.S3 = S3Config{Region: " eu-west-1 ", Bucket: " media ", PathStyle: true}
	cfg.Uploads = UploadConfig{MaxBytesPerField: 1024, MaxFiles: 2, AllowedTypes: []string{"image/png"}, SpoolDir: " /tmp/spool "}
	cfg.Auth = AuthConfig{Mode: " JWT ", JWT: JWTSettings{Secret: " s ", Issuer: " i "}}

	redis := cfg.Cache.RedisClientConfig()
	require.Equal(t, "cache:6379", redis.Address)
	require.Equal(t, "app", redis.Username)
	require.Equal(t, 3, redis.DB)

	require.Equal(t, defaultItemTTL, cfg.Cache.ItemTTL())
	cfg.Cache.TTL.Item = time.Minute
	require.Equal(t, time.Minute, cfg.Cache.ItemTTL())

	s3cfg := cfg.Storage.S3StoreConfig()
	require.Equal(t, "eu-west-1", s3cfg.Region)
	require.Equal(t, "media", s3cfg.Bucket)
	require.True(t, s3cfg.UsePathStyle)

	opts := cfg.Uploads.IngestOptions()
	require.Equal(t, int64(1024), opts.MaxFileBytes)
	require.Equal(t, 2, opts.MaxFiles)
	require.Equal(t, []string{"image/png"}, opts.AllowedTypes)
	require.Equal(t, "/tmp/spool", opts.SpoolDir)

	verifier := cfg.Auth.VerifierConfig()
	require.Equal(t, "jwt", verifier.Mode)
	require.Equal(t, "s", verifier.JWT.Secret)
	require.Equal(t, "i", verifier.JWT.Issuer)
}

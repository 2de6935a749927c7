package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"annocore/internal/blob"
	"annocore/internal/config"
	"annocore/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "annocore.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, "./blobdata", cfg.Blob.FSRoot)
	assert.Equal(t, 30*time.Second, cfg.Changes.SubmitTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, ":8999", cfg.Server.Addr)
	assert.True(t, cfg.Server.Metrics)
	assert.Zero(t, cfg.Server.SubmitRate)
	assert.Equal(t, 20, cfg.Server.SubmitBurst)
	assert.Empty(t, cfg.Server.URL)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annocore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
driver = "postgres"
postgres_dsn = "postgres://file"

[blob]
driver = "s3"

[blob.s3]
bucket = "sequences"
path_style = true

[changes]
submit_timeout = "5s"
`), 0o600))

	t.Setenv("ANNOCORE_STORAGE_POSTGRES_DSN", "postgres://env")
	t.Setenv("ANNOCORE_LOG_JSON", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, "sequences", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, "us-east-1", cfg.Blob.S3.Region)
	assert.Equal(t, 5*time.Second, cfg.Changes.SubmitTimeout)
	assert.True(t, cfg.Log.JSON)

	sc := cfg.StorageConfig()
	assert.Equal(t, core.StoragePostgres, sc.Driver)
	assert.Equal(t, "postgres://env", sc.PostgresDSN)

	bc := cfg.BlobConfig()
	assert.Equal(t, blob.DriverS3, bc.Driver)
	assert.Equal(t, "sequences", bc.S3.Bucket)
	assert.True(t, bc.S3.PathStyle)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Storage: config.StorageConfig{Driver: "sqlite", SQLitePath: "x.db"},
			Blob:    config.BlobConfig{Driver: "memory"},
		}
	}
	cases := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"memory storage", func(c *config.Config) { c.Storage = config.StorageConfig{Driver: "memory"} }, ""},
		{"unknown storage", func(c *config.Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *config.Config) { c.Storage.SQLitePath = "" }, "sqlite_path"},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }, "postgres_dsn"},
		{"unknown blob", func(c *config.Config) { c.Blob.Driver = "gcs" }, "blob.driver"},
		{"s3 without bucket", func(c *config.Config) { c.Blob.Driver = "s3" }, "bucket"},
		{"negative rate", func(c *config.Config) { c.Server.SubmitRate = -1 }, "submit_rate"},
		{"negative timeout", func(c *config.Config) { c.Changes.SubmitTimeout = -time.Second }, "submit_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestEnvironmentRejectsBadDriver(t *testing.T) {
	t.Setenv("ANNOCORE_BLOB_DRIVER", "ftp")
	_, err := config.Load("")
	require.Error(t, err)
}

// Package config loads annocore settings from defaults, an optional TOML file
// and ANNOCORE_* environment variables, in increasing precedence.
package config

import (
	"strings"
	"time"

	"annocore/internal/blob"
	"annocore/internal/core"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// ANNOCORE_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "ANNOCORE"

// Config is the full process configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Changes ChangesConfig `mapstructure:"changes"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
}

// StorageConfig selects the persistent feature store.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // memory, sqlite, postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BlobConfig selects where uploaded sequence files are kept.
type BlobConfig struct {
	Driver string       `mapstructure:"driver"` // fs, s3, memory
	FSRoot string       `mapstructure:"fs_root"`
	S3     BlobS3Config `mapstructure:"s3"`
}

// BlobS3Config holds S3 or MinIO connection settings.
type BlobS3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// ChangesConfig tunes change submission.
type ChangesConfig struct {
	// SubmitTimeout bounds one dispatch; 0 disables the bound.
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// ServerConfig configures the HTTP change endpoint.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
	// SubmitRate caps accepted submissions per second; 0 means unlimited.
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
	// URL is the server the CLI talks to; empty means the local store.
	URL string `mapstructure:"url"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("storage.sqlite_path", "annocore.db")
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./blobdata")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("blob.s3.path_style", false)

	v.SetDefault("changes.submit_timeout", 30*time.Second)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8999")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.submit_rate", 0.0)
	v.SetDefault("server.submit_burst", 20)
	v.SetDefault("server.url", "")
}

// NewViper returns a viper instance with defaults and environment binding.
// AutomaticEnv only sees keys viper already knows, which SetDefaults covers.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and settings a driver cannot work without.
func (c *Config) Validate() error {
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory:
	case core.StorageSQLite, "":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path cannot be empty for the sqlite driver")
		}
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return errors.Newf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver)
	}

	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverMemory, blob.DriverFilesystem, "":
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return errors.Newf("blob.driver %q is not one of fs, s3, memory", c.Blob.Driver)
	}

	if c.Server.SubmitRate < 0 {
		return errors.Newf("server.submit_rate must be >= 0, got %f", c.Server.SubmitRate)
	}
	if c.Changes.SubmitTimeout < 0 {
		return errors.Newf("changes.submit_timeout must be >= 0, got %s", c.Changes.SubmitTimeout)
	}
	return nil
}

// StorageConfig converts the storage section for core.OpenPersistentStore.
func (c *Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// BlobConfig converts the blob section for blob.Open.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          c.Blob.S3.Region,
			Bucket:          c.Blob.S3.Bucket,
			Endpoint:        c.Blob.S3.Endpoint,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			SessionToken:    c.Blob.S3.SessionToken,
			PathStyle:       c.Blob.S3.PathStyle,
		},
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/relay/internal/progress"
)

const (
	// MinPartSizeMB is the smallest multipart part size object stores accept.
	MinPartSizeMB = 5

	minPartSize = MinPartSizeMB * 1024 * 1024

	// MultipartConcurrency is the number of parts uploaded in parallel.
	MultipartConcurrency = 4
)

// Config defines configuration for the relay service and worker.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Transfer TransferConfig `yaml:"transfer"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// StorageConfig selects and configures the object store.
//
// When BucketURL is set it is opened with gocloud.dev/blob; otherwise an
// S3-compatible client is built from the R2 credentials.
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	BucketURL       string `yaml:"bucket_url"`
	AccountID       string `yaml:"account_id"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	PublicBaseURL   string `yaml:"public_base_url"`
	PartSizeMB      int    `yaml:"part_size_mb"`

	// PartSize is a human readable size such as "32MiB". It takes
	// precedence over PartSizeMB when set.
	PartSize string `yaml:"part_size"`
}

// DatabaseConfig configures the status store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// TransferConfig tunes the download and upload phases.
type TransferConfig struct {
	ConnectTimeout time.Duration `yaml:"-"`
	DownloadRetry  int           `yaml:"download_retry"`
	UploadRetry    int           `yaml:"upload_retry"`
	InsecureTLS    bool          `yaml:"insecure_tls"`
	TempDir        string        `yaml:"temp_dir"`
	UserAgent      string        `yaml:"user_agent"`
}

// UnmarshalYAML accepts connect_timeout as whole seconds (30) or as a
// duration string ("30s").
func (t *TransferConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain TransferConfig
	if err := value.Decode((*plain)(t)); err != nil {
		return err
	}

	var raw struct {
		ConnectTimeout yaml.Node `yaml:"connect_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ConnectTimeout.Kind == 0 {
		return nil
	}
	d, err := parseTimeout(raw.ConnectTimeout.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: connect_timeout", raw.ConnectTimeout.Line)
	}
	t.ConnectTimeout = d
	return nil
}

// parseTimeout reads a bare integer as seconds and anything else as a Go
// duration.
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// ServerConfig configures the dispatch API.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	APIKey        string `yaml:"api_key"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"admin_pass_hash"`
	SpawnMode     string `yaml:"spawn_mode"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigurationError reports a missing or invalid setting. It is raised
// before any status row is written and is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Region:     "auto",
			PartSizeMB: 32,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Port:   3306,
		},
		Transfer: TransferConfig{
			ConnectTimeout: 30 * time.Second,
			DownloadRetry:  3,
			UploadRetry:    3,
			UserAgent:      "R2-Uploader/1.0",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			AdminUser: "admin",
			SpawnMode: "goroutine",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file, then the optional dotenv file, then the process environment.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}
	if dotenv != "" {
		if err := gotenv.Load(dotenv); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return Config{}, errors.Wrapf(err, "load %s", dotenv)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}
	cfg.normalize()
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables. The names
// match the .env keys used by existing deployments.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"R2_BUCKET":        &c.Storage.Bucket,
		"R2_BUCKET_URL":    &c.Storage.BucketURL,
		"R2_ACCOUNT_ID":    &c.Storage.AccountID,
		"R2_ENDPOINT":      &c.Storage.Endpoint,
		"R2_KEY_ID":        &c.Storage.AccessKeyID,
		"R2_SECRET_KEY":    &c.Storage.SecretAccessKey,
		"R2_REGION":        &c.Storage.Region,
		"R2_CUSTOM_DOMAIN": &c.Storage.PublicBaseURL,
		"R2_PART_SIZE":     &c.Storage.PartSize,
		"DB_DRIVER":        &c.Database.Driver,
		"DB_DSN":           &c.Database.DSN,
		"DB_HOST":          &c.Database.Host,
		"DB_NAME":          &c.Database.Name,
		"DB_USER":          &c.Database.User,
		"DB_PASS":          &c.Database.Password,
		"TMP_DIR":          &c.Transfer.TempDir,
		"LISTEN_ADDR":      &c.Server.Addr,
		"API_ACCESS_KEY":   &c.Server.APIKey,
		"ADMIN_USER":       &c.Server.AdminUser,
		"ADMIN_PASS_HASH":  &c.Server.AdminPassHash,
		"SPAWN_MODE":       &c.Server.SpawnMode,
		"LOG_LEVEL":        &c.Log.Level,
		"LOG_FORMAT":       &c.Log.Format,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"R2_PART_SIZE_MB": &c.Storage.PartSizeMB,
		"DB_PORT":         &c.Database.Port,
		"DOWNLOAD_RETRY":  &c.Transfer.DownloadRetry,
		"UPLOAD_RETRY":    &c.Transfer.UploadRetry,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "parse %s", name)
			}
			*dst = n
		}
	}

	if v := os.Getenv("DL_CONNECT_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return errors.Wrap(err, "parse DL_CONNECT_TIMEOUT")
		}
		c.Transfer.ConnectTimeout = d
	}
	if v := os.Getenv("DL_INSECURE_TLS"); v != "" {
		c.Transfer.InsecureTLS = v == "true" || v == "1"
	}

	c.normalize()
	return nil
}

// normalize clamps values that have a hard lower bound.
func (c *Config) normalize() {
	if c.Storage.PartSizeMB < MinPartSizeMB {
		c.Storage.PartSizeMB = MinPartSizeMB
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
}

// PartSize returns the multipart part size in bytes, never below the
// 5 MiB minimum. An unparsable storage.part_size falls back to
// storage.part_size_mb; Validate reports it.
func (c *Config) PartSize() int64 {
	if c.Storage.PartSize != "" {
		if n, err := progress.ParseBytes(c.Storage.PartSize); err == nil {
			if n < minPartSize {
				return minPartSize
			}
			return n
		}
	}
	mb := c.Storage.PartSizeMB
	if mb < MinPartSizeMB {
		mb = MinPartSizeMB
	}
	return int64(mb) * 1024 * 1024
}

// R2Endpoint returns the S3 API endpoint for the configured account.
func (c *Config) R2Endpoint() string {
	if c.Storage.Endpoint != "" {
		return c.Storage.Endpoint
	}
	if c.Storage.AccountID == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.Storage.AccountID)
}

// DatabaseDSN returns the DSN for the configured driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == "sqlite" {
		return c.Database.Name
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Name)
}

// Validate checks everything a transfer worker needs.
func (c *Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.Storage.PartSize != "" {
		if _, err := progress.ParseBytes(c.Storage.PartSize); err != nil {
			return invalid("storage.part_size", "is not a byte size")
		}
	}
	if c.Transfer.DownloadRetry <= 0 {
		return invalid("transfer.download_retry", "must be positive")
	}
	if c.Transfer.UploadRetry <= 0 {
		return invalid("transfer.upload_retry", "must be positive")
	}
	if c.Transfer.ConnectTimeout <= 0 {
		return invalid("transfer.connect_timeout", "must be positive")
	}
	switch c.Server.SpawnMode {
	case "goroutine", "process":
	default:
		return invalid("server.spawn_mode", "must be goroutine or process")
	}
	return nil
}

// ValidateStorage checks the object store settings only.
func (c *Config) ValidateStorage() error {
	if c.Storage.PublicBaseURL == "" {
		return invalid("storage.public_base_url", "is required")
	}
	if c.Storage.BucketURL != "" {
		return nil
	}
	if c.Storage.Bucket == "" {
		return invalid("storage.bucket", "is required")
	}
	if c.R2Endpoint() == "" {
		return invalid("storage.account_id", "or storage.endpoint is required")
	}
	if c.Storage.AccessKeyID == "" || c.Storage.SecretAccessKey == "" {
		return invalid("storage.access_key_id", "and storage.secret_access_key are required")
	}
	return nil
}

// ValidateDatabase checks the status store settings only.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			return invalid("database", "requires dsn or host and name")
		}
	case "sqlite":
		if c.DatabaseDSN() == "" {
			return invalid("database", "requires dsn or name for sqlite")
		}
	default:
		return invalid("database.driver", "must be mysql or sqlite")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Storage.Bucket != "" {
		c.Storage.Bucket = override.Storage.Bucket
	}
	if override.Storage.BucketURL != "" {
		c.Storage.BucketURL = override.Storage.BucketURL
	}
	if override.Storage.PublicBaseURL != "" {
		c.Storage.PublicBaseURL = override.Storage.PublicBaseURL
	}
	if override.Storage.PartSizeMB != 0 {
		c.Storage.PartSizeMB = override.Storage.PartSizeMB
	}
	if override.Storage.PartSize != "" {
		c.Storage.PartSize = override.Storage.PartSize
	}
	if override.Database.Driver != "" {
		c.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		c.Database.DSN = override.Database.DSN
	}
	if override.Transfer.ConnectTimeout != 0 {
		c.Transfer.ConnectTimeout = override.Transfer.ConnectTimeout
	}
	if override.Transfer.DownloadRetry != 0 {
		c.Transfer.DownloadRetry = override.Transfer.DownloadRetry
	}
	if override.Transfer.UploadRetry != 0 {
		c.Transfer.UploadRetry = override.Transfer.UploadRetry
	}
	if override.Transfer.TempDir != "" {
		c.Transfer.TempDir = override.Transfer.TempDir
	}
	if override.Server.Addr != "" {
		c.Server.Addr = override.Server.Addr
	}
	if override.Server.SpawnMode != "" {
		c.Server.SpawnMode = override.Server.SpawnMode
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	c.normalize()
	return c
}

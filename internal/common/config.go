// Package common provides shared utilities for Skald
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Skald
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Engine      EngineConfig      `toml:"engine"`
	Quota       QuotaConfig       `toml:"quota"`
	Worker      WorkerConfig      `toml:"worker"`
	Auth        AuthConfig        `toml:"auth"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ObjectStoreConfig holds Cloudflare R2 (S3-compatible) configuration.
// Endpoint is derived from AccountID when not set explicitly.
type ObjectStoreConfig struct {
	AccountID       string `toml:"account_id"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	PublicURL       string `toml:"public_url"`
}

// ResolveEndpoint returns the configured endpoint or the R2 default for the account.
func (c *ObjectStoreConfig) ResolveEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

// EngineConfig selects and configures the transcription engine.
type EngineConfig struct {
	Kind      string `toml:"kind"` // "whispercpp" or "gemini"
	BinPath   string `toml:"bin_path"`
	ModelPath string `toml:"model_path"`
	Model     string `toml:"model"` // gemini model name
	APIKey    string `toml:"api_key"`
	Language  string `toml:"language"` // "auto" for detection
	BeamSize  int    `toml:"beam_size"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the per-job engine timeout
func (c *EngineConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// QuotaConfig holds daily usage limits.
type QuotaConfig struct {
	DailyLimitMinutes int `toml:"daily_limit_minutes"`
}

// WorkerConfig holds the worker run-loop configuration.
type WorkerConfig struct {
	ID                   string `toml:"id"`
	PollInterval         string `toml:"poll_interval"`
	MaxPollInterval      string `toml:"max_poll_interval"`
	MaxJobsPerRun        int    `toml:"max_jobs_per_run"` // 0 = unlimited
	ShutdownOnEmpty      bool   `toml:"shutdown_on_empty"`
	EmptyShutdownMinutes int    `toml:"empty_shutdown_minutes"`
	LockTTLMinutes       int    `toml:"lock_ttl_minutes"`
	StaleCheckMinutes    int    `toml:"stale_check_minutes"`
	TempDir              string `toml:"temp_dir"`
	DownloadTimeout      string `toml:"download_timeout"`
	HeartbeatInterval    string `toml:"heartbeat_interval"`
	ProgressInterval     string `toml:"progress_interval"`
}

// GetPollInterval parses and returns the base poll interval
func (c *WorkerConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetMaxPollInterval parses and returns the empty-queue backoff cap
func (c *WorkerConfig) GetMaxPollInterval() time.Duration {
	d, err := time.ParseDuration(c.MaxPollInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetDownloadTimeout parses and returns the media download timeout
func (c *WorkerConfig) GetDownloadTimeout() time.Duration {
	d, err := time.ParseDuration(c.DownloadTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetHeartbeatInterval parses and returns the heartbeat ticker period
func (c *WorkerConfig) GetHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetProgressInterval parses and returns the minimum gap between progress writes
func (c *WorkerConfig) GetProgressInterval() time.Duration {
	d, err := time.ParseDuration(c.ProgressInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetLockTTL returns the stale-lock threshold as a duration
func (c *WorkerConfig) GetLockTTL() time.Duration {
	if c.LockTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// GetStaleCheckInterval returns how often the stale sweep runs
func (c *WorkerConfig) GetStaleCheckInterval() time.Duration {
	if c.StaleCheckMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StaleCheckMinutes) * time.Minute
}

// AuthConfig holds bearer token validation configuration.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "skald",
			Database:  "skald",
			Username:  "root",
			Password:  "root",
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "skald-media",
		},
		Engine: EngineConfig{
			Kind:     "whispercpp",
			BinPath:  "whisper-cli",
			Model:    "gemini-2.0-flash",
			Language: "auto",
			BeamSize: 5,
			Timeout:  "2h",
		},
		Quota: QuotaConfig{
			DailyLimitMinutes: 60,
		},
		Worker: WorkerConfig{
			PollInterval:         "5s",
			MaxPollInterval:      "60s",
			MaxJobsPerRun:        0,
			ShutdownOnEmpty:      false,
			EmptyShutdownMinutes: 10,
			LockTTLMinutes:       30,
			StaleCheckMinutes:    5,
			TempDir:              os.TempDir(),
			DownloadTimeout:      "10m",
			HeartbeatInterval:    "30s",
			ProgressInterval:     "5s",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-jwt-secret-change-in-production",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SKALD_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("SKALD_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SKALD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("SKALD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage overrides
	if v := os.Getenv("SKALD_DB_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("SKALD_DB_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("SKALD_DB_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("SKALD_DB_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("SKALD_DB_PASSWORD"); v != "" {
		config.Storage.Password = v
	}

	// Object store overrides
	if v := os.Getenv("R2_ACCOUNT_ID"); v != "" {
		config.ObjectStore.AccountID = v
	}
	if v := os.Getenv("R2_ACCESS_KEY_ID"); v != "" {
		config.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("R2_SECRET_ACCESS_KEY"); v != "" {
		config.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv("R2_BUCKET_NAME"); v != "" {
		config.ObjectStore.Bucket = v
	}
	if v := os.Getenv("R2_PUBLIC_URL"); v != "" {
		config.ObjectStore.PublicURL = v
	}

	// Engine overrides
	if v := os.Getenv("SKALD_ENGINE"); v != "" {
		config.Engine.Kind = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Engine.APIKey = v
	}
	if v := os.Getenv("TRANSCRIPTION_LANGUAGE"); v != "" {
		config.Engine.Language = v
	}
	if v := os.Getenv("TRANSCRIPTION_DAILY_LIMIT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Quota.DailyLimitMinutes = n
		}
	}

	// Worker overrides
	if v := os.Getenv("WORKER_ID"); v != "" {
		config.Worker.ID = v
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL"); v != "" {
		config.Worker.PollInterval = normalizeSeconds(v)
	}
	if v := os.Getenv("WORKER_MAX_POLL_INTERVAL"); v != "" {
		config.Worker.MaxPollInterval = normalizeSeconds(v)
	}
	if v := os.Getenv("WORKER_MAX_JOBS_PER_RUN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.MaxJobsPerRun = n
		}
	}
	if v := os.Getenv("WORKER_SHUTDOWN_ON_EMPTY"); v != "" {
		config.Worker.ShutdownOnEmpty = parseBool(v)
	}
	if v := os.Getenv("WORKER_EMPTY_SHUTDOWN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.EmptyShutdownMinutes = n
		}
	}
	if v := os.Getenv("WORKER_LOCK_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.LockTTLMinutes = n
		}
	}
	if v := os.Getenv("WORKER_STALE_CHECK_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.StaleCheckMinutes = n
		}
	}
	if v := os.Getenv("WORKER_TEMP_DIR"); v != "" {
		config.Worker.TempDir = v
	}

	// Auth overrides
	if v := os.Getenv("SKALD_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
}

// normalizeSeconds accepts either a duration string ("5s") or a bare number
// of seconds ("5") and returns a duration string.
func normalizeSeconds(v string) string {
	if _, err := strconv.Atoi(v); err == nil {
		return v + "s"
	}
	return v
}

// parseBool accepts the usual truthy spellings.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

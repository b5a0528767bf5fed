// Package config provides unified configuration loading for finsight.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the worker, CLI and API.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Cache         CacheConfig         `yaml:"cache"`
	Queue         QueueConfig         `yaml:"queue"`
	Artifacts     ArtifactConfig      `yaml:"artifacts"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Worker        WorkerConfig        `yaml:"worker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
}

// CacheConfig holds result cache and status store settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	StatusTTL  time.Duration `yaml:"status_ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings. URL wins over Addr.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	Driver      string        `yaml:"driver"` // memory or redis
	Name        string        `yaml:"name"`
	Visibility  time.Duration `yaml:"visibility"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// ArtifactConfig selects where submissions are materialized.
type ArtifactConfig struct {
	Driver string      `yaml:"driver"` // file or minio
	Dir    string      `yaml:"dir"`
	MinIO  MinIOConfig `yaml:"minio"`
}

// MinIOConfig holds object storage settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// DatabaseConfig holds run ledger settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig holds OpenRouter settings.
type LLMConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PipelineConfig tunes the stages.
type PipelineConfig struct {
	CacheLookup        bool   `yaml:"cache_lookup"`
	ClassifierMaxChars int    `yaml:"classifier_max_chars"`
	ExtractorMaxChars  int    `yaml:"extractor_max_chars"`
	MaxOCRPages        int    `yaml:"max_ocr_pages"`
	SpreadsheetMaxRows int    `yaml:"spreadsheet_max_rows"`
	FallbackType       string `yaml:"fallback_type"`
}

// WorkerConfig holds queue consumer settings.
type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	HardTimeLimit    time.Duration `yaml:"hard_time_limit"`
	SoftTimeLimit    time.Duration `yaml:"soft_time_limit"`
	ReclaimInterval  time.Duration `yaml:"reclaim_interval"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxBodyBytes:     64 << 20,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        7 * 24 * time.Hour,
			StatusTTL:  time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Queue: QueueConfig{
			Driver:      "memory",
			Name:        "document_processing",
			Visibility:  35 * time.Minute,
			MaxAttempts: 3,
		},
		Artifacts: ArtifactConfig{
			Driver: "file",
			MinIO: MinIOConfig{
				Bucket: "finsight-artifacts",
				Region: "us-east-1",
				Prefix: "uploads/",
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "/tmp/finsight.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		LLM: LLMConfig{
			Model:          "google/gemini-2.5-flash",
			BaseURL:        "https://openrouter.ai/api/v1",
			Timeout:        120 * time.Second,
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Pipeline: PipelineConfig{
			CacheLookup:        false,
			ClassifierMaxChars: 4000,
			ExtractorMaxChars:  60000,
			MaxOCRPages:        20,
			SpreadsheetMaxRows: 5000,
			FallbackType:       "bank_statement",
		},
		Worker: WorkerConfig{
			Concurrency:      2,
			PollTimeout:      5 * time.Second,
			HardTimeLimit:    30 * time.Minute,
			SoftTimeLimit:    25 * time.Minute,
			ReclaimInterval:  time.Minute,
			BatchConcurrency: 4,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "finsight",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Queue.Driver != "memory" && c.Queue.Driver != "redis" {
		return fmt.Errorf("invalid queue driver: %s", c.Queue.Driver)
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	switch c.Artifacts.Driver {
	case "file":
	case "minio":
		if c.Artifacts.MinIO.Endpoint == "" || c.Artifacts.MinIO.Bucket == "" {
			return fmt.Errorf("minio artifacts need an endpoint and a bucket")
		}
	default:
		return fmt.Errorf("invalid artifact driver: %s", c.Artifacts.Driver)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver needs a dsn")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Worker.SoftTimeLimit > c.Worker.HardTimeLimit {
		return fmt.Errorf("soft time limit %s exceeds hard time limit %s", c.Worker.SoftTimeLimit, c.Worker.HardTimeLimit)
	}
	if c.Queue.Visibility <= c.Worker.HardTimeLimit {
		return fmt.Errorf("queue visibility %s must exceed the hard time limit %s", c.Queue.Visibility, c.Worker.HardTimeLimit)
	}

	return nil
}

// LLMEnabled reports whether an API key is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// ListenAddr is the API listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Queue.Driver = "redis"
		cfg.Cache.Redis.URL = v
	}

	if v := getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := getenv("ARTIFACT_DRIVER"); v != "" {
		cfg.Artifacts.Driver = v
	}

	if v := getenv("ARTIFACT_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}

	if v := getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Artifacts.MinIO.Endpoint = v
	}
	if v := getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Artifacts.MinIO.AccessKey = v
	}
	if v := getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Artifacts.MinIO.SecretKey = v
	}
	if v := getenv("MINIO_BUCKET"); v != "" {
		cfg.Artifacts.MinIO.Bucket = v
	}
	if v := getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Artifacts.MinIO.UseSSL = b
		}
	}

	if v := getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

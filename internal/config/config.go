// Package config loads engine configuration from defaults, an optional YAML
// file, a .env file and EINVOICE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rezonia/einvoice-engine/internal/llm"
	"github.com/rezonia/einvoice-engine/internal/validation/external"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "EINVOICE"

// Config holds all engine configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Batch     BatchConfig     `mapstructure:"batch"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Validator external.Config `mapstructure:"validator"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb" validate:"min=1"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig selects the ledger and job store backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
}

// RedisConfig is shared by the work queue and the provider rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BatchConfig tunes the batch orchestrator
type BatchConfig struct {
	Concurrency           int           `mapstructure:"concurrency" validate:"min=1"`
	MaxAttempts           int           `mapstructure:"max_attempts" validate:"min=1"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffMax            time.Duration `mapstructure:"backoff_max"`
	StaleAfter            time.Duration `mapstructure:"stale_after"`
	AbandonAfter          time.Duration `mapstructure:"abandon_after"`
	ProviderRatePerMinute int           `mapstructure:"provider_rate_per_minute" validate:"min=0"`
	RecoverySchedule      string        `mapstructure:"recovery_schedule"`
}

// LLMConfig configures the extraction provider
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects where batch sources and artifacts live
type StorageConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=local minio"`
	LocalDir  string `mapstructure:"local_dir" validate:"required_if=Driver local"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Driver minio"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Driver minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Load reads configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_mb", 32)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/einvoice.db")
	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.max_attempts", 3)
	v.SetDefault("batch.backoff_base", 500*time.Millisecond)
	v.SetDefault("batch.backoff_max", 8*time.Second)
	v.SetDefault("batch.stale_after", 10*time.Second)
	v.SetDefault("batch.abandon_after", 30*time.Minute)
	v.SetDefault("batch.provider_rate_per_minute", 60)
	v.SetDefault("batch.recovery_schedule", "@every 1m")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", llm.DefaultBaseURL)
	v.SetDefault("llm.model", llm.ModelClaude35Sonnet)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("validator.enabled", false)
	v.SetDefault("validator.executable", "")
	v.SetDefault("validator.scenarios", "")
	v.SetDefault("validator.timeout", 60*time.Second)
	v.SetDefault("validator.temp_dir", "")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "data/artifacts")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucket", "einvoice")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Batch.BackoffMax < c.Batch.BackoffBase {
		return fmt.Errorf("batch.backoff_max (%s) is below batch.backoff_base (%s)", c.Batch.BackoffMax, c.Batch.BackoffBase)
	}
	if c.Validator.Enabled && c.Validator.Executable == "" {
		return fmt.Errorf("validator.executable is required when the validator is enabled")
	}
	return nil
}

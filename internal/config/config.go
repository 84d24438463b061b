package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/italolelis/s3_batcher/internal/s3store"
	"github.com/italolelis/s3_batcher/internal/telemetry"
	"github.com/italolelis/s3_batcher/internal/transfer"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Region           string `envconfig:"AWS_REGION" default:"us-east-1"`
	MaxConcurrency   int    `envconfig:"MAX_CONCURRENCY" default:"5"`
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3ForcePathStyle bool   `envconfig:"S3_FORCE_PATH_STYLE" default:"false"`
	S3MaxRetries     int    `envconfig:"S3_MAX_RETRIES" default:"3"`

	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string        `envconfig:"DB_PATH" default:"batches.db"`
	KeepHistoryFor    time.Duration `envconfig:"KEEP_HISTORY_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"s3_batcher"`
		OTLPEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		RootDir         string        `split_words:"true" default:"data"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}
}

// LoadConfig reads an optional .env file, then environment variables, into Config.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the engine cannot start with.
func (c *Config) Validate() error {
	engine := c.EngineConfig()
	if err := engine.Validate(); err != nil {
		return err
	}

	if c.MaxConcurrency < 1 {
		return &transfer.ConfigError{Field: "MAX_CONCURRENCY", Reason: "must be a positive integer"}
	}

	if err := c.S3Options().Validate(); err != nil {
		return err
	}

	if c.CleanupInterval <= 0 {
		return &transfer.ConfigError{Field: "CLEANUP_INTERVAL", Reason: "must be a positive duration"}
	}

	if (c.Web.Username == "") != (c.Web.Password == "") {
		return &transfer.ConfigError{Field: "WEB_USERNAME/WEB_PASSWORD", Reason: "must be set together"}
	}

	return nil
}

// ValidateServe checks the settings only the HTTP API needs. Binding beyond
// loopback requires basic auth.
func (c *Config) ValidateServe() error {
	if strings.TrimSpace(c.Web.RootDir) == "" {
		return &transfer.ConfigError{Field: "WEB_ROOT_DIR", Reason: "must not be empty"}
	}

	host, _, err := net.SplitHostPort(c.Web.BindAddress)
	if err != nil {
		return &transfer.ConfigError{Field: "WEB_BIND_ADDRESS", Reason: err.Error()}
	}

	if c.Web.Username == "" && !isLoopback(host) {
		return &transfer.ConfigError{
			Field:  "WEB_BIND_ADDRESS",
			Reason: "binding beyond loopback requires WEB_USERNAME and WEB_PASSWORD",
		}
	}

	return nil
}

// isLoopback reports false for an empty host, which listens on every interface.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

func (c *Config) EngineConfig() transfer.EngineConfig {
	return transfer.EngineConfig{
		Region:         c.Region,
		MaxConcurrency: c.MaxConcurrency,
	}
}

func (c *Config) S3Options() s3store.Options {
	return s3store.Options{
		Region:         c.Region,
		Endpoint:       c.S3Endpoint,
		ForcePathStyle: c.S3ForcePathStyle,
		MaxRetries:     c.S3MaxRetries,
	}
}

func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

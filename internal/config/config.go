package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. SYNCBOX_EXECUTOR.
const Prefix = "SYNCBOX"

// Config struct for environment variables.
type Config struct {
	Executor string `envconfig:"EXECUTOR" default:"fs"`
	Store    string `envconfig:"STORE" default:"sqlite"`

	MaxConcurrency     int           `envconfig:"MAX_CONCURRENCY" default:"2"`
	CompletedLimit     int           `envconfig:"COMPLETED_LIMIT" default:"500"`
	SimulatedStepDelay time.Duration `envconfig:"SIMULATED_STEP_DELAY" default:"50ms"`

	DataDir   string `envconfig:"DATA_DIR" required:"true"`
	RemoteDir string `envconfig:"REMOTE_DIR"`

	DBPath      string `envconfig:"DB_PATH" default:"syncbox.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	PutioToken string `envconfig:"PUTIO_TOKEN"`

	S3 struct {
		Bucket       string `split_words:"true"`
		Region       string `split_words:"true" default:"us-east-1"`
		Endpoint     string `split_words:"true"`
		UsePathStyle bool   `split_words:"true"`
		Prefix       string `split_words:"true"`
	}

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string `envconfig:"LOG_FILE"`
	LogFileMaxSizeMB  int    `envconfig:"LOG_FILE_MAX_SIZE_MB" default:"50"`
	LogFileMaxBackups int    `envconfig:"LOG_FILE_MAX_BACKUPS" default:"3"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	// Conditions reported to uploads restricted to Wi-Fi or charging.
	Conditions struct {
		WiFi     bool `envconfig:"WIFI" default:"true"`
		Charging bool `split_words:"true" default:"true"`
	}

	ExitWhenIdle bool          `envconfig:"EXIT_WHEN_IDLE" default:"false"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"1m"`
	IdleInterval time.Duration `envconfig:"IDLE_INTERVAL" default:"10s"`

	RPC struct {
		Socket       string `split_words:"true" default:"/tmp/syncbox.sock"`
		SessionQueue int    `split_words:"true" default:"256"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool          `split_words:"true" default:"true"`
		ServiceName  string        `split_words:"true" default:"syncbox"`
		OTLPEndpoint string        `envconfig:"OTLP_ENDPOINT"`
		OTLPInterval time.Duration `envconfig:"OTLP_INTERVAL" default:"1m"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}

	switch c.Executor {
	case "fs":
		if c.RemoteDir == "" {
			return fmt.Errorf("REMOTE_DIR is required for the fs executor")
		}
	case "putio":
		if c.PutioToken == "" {
			return fmt.Errorf("PUTIO_TOKEN is required for the putio executor")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 executor")
		}
	default:
		return fmt.Errorf("invalid executor: %s", c.Executor)
	}

	switch c.Store {
	case "sqlite":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid store: %s", c.Store)
	}

	return nil
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

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	StorageDir string `envconfig:"STORAGE_DIR" required:"true"`
	DBPath     string `envconfig:"DB_PATH" default:"downloads.db"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"INFO"`

	TransferTimeout   time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"4h"`
	ProgressInterval  time.Duration `envconfig:"PROGRESS_INTERVAL" default:"2s"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"media_downloader"`
	}

	Web struct {
		BindAddress string        `split_words:"true" default:"0.0.0.0:8085"`
		ReadTimeout time.Duration `split_words:"true" default:"30s"`
		// WriteTimeout stays 0: stream responses run as long as playback.
		WriteTimeout    time.Duration `split_words:"true" default:"0"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
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

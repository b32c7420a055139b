package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Serial connection
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`

	// Working directory for downloaded images and backups
	WorkDir string `mapstructure:"work-dir"`

	// Run history database
	HistoryPath string `mapstructure:"history-path"`

	// External flashing tool
	EsptoolPath string `mapstructure:"esptool-path"`

	// Firmware feed endpoints
	ReleaseFeedURL     string `mapstructure:"release-feed-url"`
	DevelopmentFeedURL string `mapstructure:"development-feed-url"`

	// S3 configuration for s3:// image URLs
	S3Region string `mapstructure:"s3-region"`

	// Cancellation grace period in milliseconds
	CancelGraceMS int `mapstructure:"cancel-grace-ms"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("port", "")
	viper.SetDefault("baud", 115200)
	viper.SetDefault("work-dir", ".tasmotizer")
	viper.SetDefault("history-path", ".tasmotizer/history.db")
	viper.SetDefault("esptool-path", "esptool.py")
	viper.SetDefault("release-feed-url", "http://thehackbox.org/tasmota/release/release.php")
	viper.SetDefault("development-feed-url", "http://thehackbox.org/tasmota/development.php")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("cancel-grace-ms", 2000)

	// Environment variables (will be TASMOTIZER_PORT, etc.)
	viper.SetEnvPrefix("TASMOTIZER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.tasmotizer")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.HistoryPath == "" {
		return fmt.Errorf("history-path cannot be empty")
	}
	if c.EsptoolPath == "" {
		return fmt.Errorf("esptool-path cannot be empty")
	}
	if c.CancelGraceMS <= 0 {
		return fmt.Errorf("cancel-grace-ms must be positive")
	}
	return nil
}

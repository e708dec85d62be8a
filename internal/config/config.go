// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"memories-downloader/pkg/models"
)

// Config represents the application configuration
type Config struct {
	OutputRoot    string `env:"OUTPUT_ROOT" envDefault:"./memories"`
	ExportPath    string `env:"EXPORT_PATH"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	DownloadsDir  string `env:"DOWNLOADS_DIR" envDefault:"downloads"`
	MediaDir      string `env:"MEDIA_DIR" envDefault:"media"`
	DuplicatesDir string `env:"DUPLICATES_DIR" envDefault:"duplicates"`
	FailuresDir   string `env:"FAILURES_DIR" envDefault:"failures"`
	FFmpegBin     string `env:"FFMPEG_BIN" envDefault:"ffmpeg"`
	FFprobeBin    string `env:"FFPROBE_BIN" envDefault:"ffprobe"`
	ExifToolBin   string `env:"EXIFTOOL_BIN" envDefault:"exiftool"`

	Concurrency     int           `env:"CONCURRENCY" envDefault:"4"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	AttemptTimeout  time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"2m"`
	ThrottleDelay   time.Duration `env:"THROTTLE_DELAY" envDefault:"250ms"`
	DuplicatePolicy string        `env:"DUPLICATE_POLICY" envDefault:"move"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevel := strings.ToLower(c.LogLevel)
	isValidLevel := false
	for _, level := range validLogLevels {
		if logLevel == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("invalid log level %q, must be one of: %v", c.LogLevel, validLogLevels)
	}

	if c.OutputRoot == "" {
		return fmt.Errorf("OUTPUT_ROOT cannot be empty")
	}
	cleanRoot := filepath.Clean(c.OutputRoot)
	if info, err := os.Stat(cleanRoot); err == nil && !info.IsDir() {
		return fmt.Errorf("OUTPUT_ROOT must be a directory, got file: %s", cleanRoot)
	}
	c.OutputRoot = cleanRoot

	for name, value := range map[string]string{
		"DOWNLOADS_DIR":  c.DownloadsDir,
		"MEDIA_DIR":      c.MediaDir,
		"DUPLICATES_DIR": c.DuplicatesDir,
		"FAILURES_DIR":   c.FailuresDir,
	} {
		if value == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		if filepath.IsAbs(value) || strings.Contains(value, string(os.PathSeparator)) {
			return fmt.Errorf("%s must be a bare directory name, got: %s", name, value)
		}
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got: %d", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got: %d", c.MaxAttempts)
	}

	switch models.DuplicatePolicy(c.DuplicatePolicy) {
	case models.DuplicateMove, models.DuplicateDelete, models.DuplicateNone:
	default:
		return fmt.Errorf("invalid duplicate policy %q, must be one of: move, delete, none", c.DuplicatePolicy)
	}

	return nil
}

// DownloadsPath returns the absolute raw download directory
func (c *Config) DownloadsPath() string { return filepath.Join(c.OutputRoot, c.DownloadsDir) }

// MediaPath returns the absolute finalized media directory
func (c *Config) MediaPath() string { return filepath.Join(c.OutputRoot, c.MediaDir) }

// DuplicatesPath returns the absolute duplicate quarantine directory
func (c *Config) DuplicatesPath() string { return filepath.Join(c.OutputRoot, c.DuplicatesDir) }

// FailuresPath returns the absolute composition-failure archive directory
func (c *Config) FailuresPath() string { return filepath.Join(c.OutputRoot, c.FailuresDir) }

// RunOptions translates the configured defaults into engine options
func (c *Config) RunOptions() models.RunOptions {
	opts := models.DefaultRunOptions()
	opts.Concurrency = c.Concurrency
	opts.MaxAttempts = c.MaxAttempts
	opts.AttemptTimeout = c.AttemptTimeout
	opts.ThrottleDelay = c.ThrottleDelay
	opts.DuplicatePolicy = models.DuplicatePolicy(c.DuplicatePolicy)
	return opts
}

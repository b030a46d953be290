// Package config loads receiver configuration from defaults, an optional
// YAML file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"
)

// DownloadConfig configures image mirroring.
type DownloadConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	Concurrency    int           `yaml:"concurrency"`
	UserAgent      string        `yaml:"user_agent"`
}

// TelemetryConfig configures trace export. Tracing is off when OTLPEndpoint
// is empty.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Headers      map[string]string `yaml:"headers"`
}

// Config represents the receiver configuration.
type Config struct {
	Port          int             `yaml:"port"`
	Host          string          `yaml:"host"`
	SavePath      string          `yaml:"save_path"`
	AssetsPath    string          `yaml:"assets_path"`
	ContentFormat string          `yaml:"content_format"`
	MetricsAddr   string          `yaml:"metrics_addr"`
	LogLevel      string          `yaml:"log_level"`
	Downloads     DownloadConfig  `yaml:"downloads"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:          8000,
		Host:          "0.0.0.0",
		SavePath:      "notes",
		AssetsPath:    "assets",
		ContentFormat: "html",
		LogLevel:      "info",
		Downloads: DownloadConfig{
			Attempts:       3,
			InitialBackoff: 1 * time.Second,
			Timeout:        10 * time.Second,
			Concurrency:    1,
			UserAgent:      "cpexport/1.0 (compatible; CP-Exporter receiver)",
		},
	}
}

// Addr returns the ingestion listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.SavePath == "" {
		errs = append(errs, errors.New("save_path must not be empty"))
	}
	if c.AssetsPath == "" {
		errs = append(errs, errors.New("assets_path must not be empty"))
	}
	if c.ContentFormat != "html" && c.ContentFormat != "markdown" {
		errs = append(errs, fmt.Errorf("content_format must be html or markdown, got %q", c.ContentFormat))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Downloads.Attempts < 1 {
		errs = append(errs, fmt.Errorf("downloads.attempts must be at least 1, got %d", c.Downloads.Attempts))
	}
	if c.Downloads.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("downloads.concurrency must be at least 1, got %d", c.Downloads.Concurrency))
	}
	if c.Downloads.InitialBackoff <= 0 {
		errs = append(errs, errors.New("downloads.initial_backoff must be positive"))
	}
	if c.Downloads.Timeout <= 0 {
		errs = append(errs, errors.New("downloads.timeout must be positive"))
	}
	if endpoint := c.Telemetry.OTLPEndpoint; endpoint != "" {
		if u, err := url.Parse(endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("telemetry.otlp_endpoint must be an http or https URL, got %q", endpoint))
		}
	}

	return errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pevans/cpexport/config"
	"github.com/pevans/cpexport/problem"
	"github.com/pevans/cpexport/telemetry"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "cpexport",
	Short:        "cpexport turns problem exports from judge scrapers into Markdown notes.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.cpexport/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("save-path", "", "Folder notes are written to")
	rootCmd.PersistentFlags().String("assets-path", "", "Assets folder, relative to the save path")
	rootCmd.PersistentFlags().String("format", "", "Content format: html or markdown")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP/HTTP traces endpoint (tracing is off when empty)")
}

// loadConfig layers defaults, the config file, the environment and the
// flags set on cmd, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	flags := cmd.Flags()
	overrides := []struct {
		flag   string
		target *string
	}{
		{"save-path", &cfg.SavePath},
		{"assets-path", &cfg.AssetsPath},
		{"format", &cfg.ContentFormat},
		{"host", &cfg.Host},
		{"metrics-addr", &cfg.MetricsAddr},
		{"otlp-endpoint", &cfg.Telemetry.OTLPEndpoint},
	}
	for _, o := range overrides {
		if flags.Lookup(o.flag) == nil || !flags.Changed(o.flag) {
			continue
		}
		if *o.target, err = flags.GetString(o.flag); err != nil {
			return nil, err
		}
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		if cfg.Port, err = flags.GetInt("port"); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the default.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// startTelemetry installs the trace exporter configured in cfg and returns
// the function that flushes it.
func startTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(), error) {
	tel, err := telemetry.Setup(ctx, "cpexport", telemetry.Config{
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Headers:  cfg.Telemetry.Headers,
	})
	if err != nil {
		return nil, err
	}
	if tel.Enabled() {
		logger.Info("exporting traces", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}, nil
}

// readExport decodes a payload file as POST /add would receive it.
func readExport(path string) (*problem.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	p, err := problem.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload %s: %w", path, err)
	}
	return p, nil
}

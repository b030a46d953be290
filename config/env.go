package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvPort         = "CPEXPORT_PORT"
	EnvHost         = "CPEXPORT_HOST"
	EnvSavePath     = "CPEXPORT_SAVE_PATH"
	EnvAssetsPath   = "CPEXPORT_ASSETS_PATH"
	EnvMetricsAddr  = "CPEXPORT_METRICS_ADDR"
	EnvLogLevel     = "CPEXPORT_LOG_LEVEL"
	EnvOTLPEndpoint = "CPEXPORT_OTLP_ENDPOINT"
)

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ApplyEnv overrides settings from CPEXPORT_* environment variables.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv(EnvPort); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = n
	}

	c.Host = getEnv(EnvHost, c.Host)
	c.SavePath = getEnv(EnvSavePath, c.SavePath)
	c.AssetsPath = getEnv(EnvAssetsPath, c.AssetsPath)
	c.MetricsAddr = getEnv(EnvMetricsAddr, c.MetricsAddr)
	c.LogLevel = getEnv(EnvLogLevel, c.LogLevel)
	c.Telemetry.OTLPEndpoint = getEnv(EnvOTLPEndpoint, c.Telemetry.OTLPEndpoint)

	return nil
}

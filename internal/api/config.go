// Package api provides the HTTP server for potholewatch. The JSON endpoints
// live in the v1 subpackage.
package api

import (
	"fmt"
	"time"

	"github.com/potholewatch/potholewatch/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string   // address:port
	AllowedOrigins []string // CORS allowed origins
	BodyLimit      string   // e.g. "12M"
	MaxConnections int      // 0 means unlimited

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // applies per SSE message as well, deadlines are extended on every write
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	MetricsEnabled bool
	MetricsPath    string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		AllowedOrigins:  []string{"*"},
		BodyLimit:       "12M",
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MetricsPath:     DefaultMetricsPath,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if len(settings.WebServer.CORS) > 0 {
		cfg.AllowedOrigins = settings.WebServer.CORS
	}
	if settings.WebServer.BodyLimit != "" {
		cfg.BodyLimit = settings.WebServer.BodyLimit
	}
	cfg.MaxConnections = settings.WebServer.MaxConnections
	cfg.MetricsEnabled = settings.Telemetry.Metrics.Enabled
	if settings.Telemetry.Metrics.Path != "" {
		cfg.MetricsPath = settings.Telemetry.Metrics.Path
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	if c.MetricsEnabled && (c.MetricsPath == "" || c.MetricsPath[0] != '/') {
		return fmt.Errorf("metrics path %q must start with /", c.MetricsPath)
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: listen=%s, metrics=%v, debug=%v", c.Listen, c.MetricsEnabled, c.Debug)
}

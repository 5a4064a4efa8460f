// Package config loads duckframe settings from the environment and .env files.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"duckframe/internal/engine"
)

// Config holds the engine, storage and host settings.
type Config struct {
	DBPath             string // DuckDB database file; empty means in-memory
	Threads            int    // engine worker threads; 0 keeps the DuckDB default
	MemoryLimit        string // e.g. "4GB"
	InformationSchema  bool   // allow information_schema queries (default true)
	AutoLoadExtensions bool   // let DuckDB autoload known extensions (default true)

	// Defaults for object store registrations.
	S3Endpoint string // S3-compatible endpoint URL or host[:port]
	S3URLStyle string // "path" or "vhost"

	LogLevel      string // debug, info, warn, error (default "info")
	FlightSQLAddr string // listen address of the Flight SQL host (default ":32010")

	// Per-client Flight SQL call limit; RateLimitRPS 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// Warnings collects non-fatal problems found while loading. The caller
	// logs them once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Engine returns the engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Path:               c.DBPath,
		Threads:            c.Threads,
		MemoryLimit:        c.MemoryLimit,
		InformationSchema:  c.InformationSchema,
		AutoLoadExtensions: c.AutoLoadExtensions,
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:             os.Getenv("DUCKFRAME_DB_PATH"),
		MemoryLimit:        os.Getenv("DUCKFRAME_MEMORY_LIMIT"),
		InformationSchema:  parseBoolEnvDefault("DUCKFRAME_INFORMATION_SCHEMA", true),
		AutoLoadExtensions: parseBoolEnvDefault("DUCKFRAME_AUTOLOAD_EXTENSIONS", true),
		S3Endpoint:         os.Getenv("DUCKFRAME_S3_ENDPOINT"),
		S3URLStyle:         strings.ToLower(os.Getenv("DUCKFRAME_S3_URL_STYLE")),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		FlightSQLAddr:      os.Getenv("FLIGHT_SQL_ADDR"),
	}

	if v := os.Getenv("DUCKFRAME_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("DUCKFRAME_THREADS must be a non-negative integer, got %q", v)
		}
		cfg.Threads = n
	}
	if v := os.Getenv("FLIGHT_SQL_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return nil, fmt.Errorf("FLIGHT_SQL_RATE_LIMIT_RPS must be a non-negative number, got %q", v)
		}
		cfg.RateLimitRPS = rps
	}
	if v := os.Getenv("FLIGHT_SQL_RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst < 1 {
			return nil, fmt.Errorf("FLIGHT_SQL_RATE_LIMIT_BURST must be a positive integer, got %q", v)
		}
		cfg.RateLimitBurst = burst
	}
	switch cfg.S3URLStyle {
	case "", "path", "vhost":
	default:
		return nil, fmt.Errorf("DUCKFRAME_S3_URL_STYLE must be path or vhost, got %q", cfg.S3URLStyle)
	}

	if strings.HasPrefix(cfg.S3Endpoint, "http://") {
		cfg.Warnings = append(cfg.Warnings, "DUCKFRAME_S3_ENDPOINT uses plain HTTP; credentials are sent unencrypted")
	}
	if !cfg.InformationSchema {
		cfg.Warnings = append(cfg.Warnings, "information_schema queries are disabled")
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.FlightSQLAddr == "" {
		cfg.FlightSQLAddr = ":32010"
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return defaultVal
	}
}

// LoadDotEnv reads KEY=VALUE lines from path and sets the variables that are
// not already set. Blank lines and # comments are skipped; a missing file is
// not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

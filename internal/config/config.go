// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the service configuration from a YAML file with
// defaults and WORKFLOW_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	wferrors "github.com/keduman/workflow-app/pkg/errors"
	"github.com/keduman/workflow-app/pkg/workflow"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Backend types.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config represents the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Seed    SeedConfig    `yaml:"seed"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the TCP address to listen on.
	// Environment: WORKFLOW_ADDR
	// Default: :8080
	Addr string `yaml:"addr"`

	// ReadTimeout bounds reading a full request, including the body.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Environment: WORKFLOW_SHUTDOWN_TIMEOUT
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	// Default: 1 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// BackendConfig configures the storage backend.
type BackendConfig struct {
	// Type is the backend type: "memory", "sqlite" or "postgres".
	// Environment: WORKFLOW_BACKEND
	// Default: memory
	Type string `yaml:"type"`

	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Environment: WORKFLOW_SQLITE_PATH
	Path string `yaml:"path"`

	// WAL enables write-ahead logging.
	WAL bool `yaml:"wal"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection URL.
	// Environment: WORKFLOW_POSTGRES_URL
	ConnectionString string `yaml:"connection_string"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// AuthConfig configures bearer token authentication.
type AuthConfig struct {
	// Enabled requires a valid JWT on every API request. When disabled the
	// caller is taken from the X-User header.
	// Environment: WORKFLOW_AUTH_ENABLED
	Enabled bool `yaml:"enabled"`

	// JWTSecret is the HS256 signing key.
	// Environment: WORKFLOW_JWT_SECRET
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	Issuer    string        `yaml:"issuer,omitempty"`
	Audience  string        `yaml:"audience,omitempty"`
	ClockSkew time.Duration `yaml:"clock_skew,omitempty"`

	// RateLimit is the sustained requests per second allowed per caller.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the burst size for RateLimit.
	RateBurst int `yaml:"rate_burst"`
}

// EngineConfig configures the instance lifecycle.
type EngineConfig struct {
	// AdminRole grants access to every instance.
	// Environment: WORKFLOW_ADMIN_ROLE
	// Default: ADMIN
	AdminRole string `yaml:"admin_role"`

	// MaxFormDataSize caps the combined size, in characters, of an
	// instance's form log.
	// Environment: WORKFLOW_MAX_FORM_DATA_SIZE
	// Default: 50000
	MaxFormDataSize int `yaml:"max_form_data_size"`

	// ExpressionCacheSize bounds the number of compiled rule conditions kept.
	// Default: 512
	ExpressionCacheSize int `yaml:"expression_cache_size"`
}

// CacheConfig configures the template and identity read-through caches.
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// SeedConfig configures the seed data file.
type SeedConfig struct {
	// Path is a YAML file of identities and templates loaded at startup.
	// Environment: WORKFLOW_SEED_FILE
	Path string `yaml:"path,omitempty"`

	// Watch reloads the file when it changes.
	Watch bool `yaml:"watch"`

	// Debounce delays a reload until writes have settled.
	Debounce time.Duration `yaml:"debounce"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled turns on span export.
	// Environment: WORKFLOW_TRACING_ENABLED
	Enabled bool `yaml:"enabled"`

	// Exporter selects the span exporter: "stdout" or "none".
	Exporter string `yaml:"exporter"`

	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces recorded, between 0 and 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			Type: BackendMemory,
			SQLite: SQLiteConfig{
				WAL: true,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Auth: AuthConfig{
			ClockSkew: 30 * time.Second,
			RateLimit: 20,
			RateBurst: 40,
		},
		Engine: EngineConfig{
			AdminRole:           workflow.DefaultAdminRole,
			MaxFormDataSize:     workflow.DefaultMaxFormDataSize,
			ExpressionCacheSize: 512,
		},
		Cache: CacheConfig{
			Size: 1024,
			TTL:  5 * time.Minute,
		},
		Seed: SeedConfig{
			Debounce: 250 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "workflow",
			SampleRatio: 1,
		},
	}
}

// Load loads configuration from the given file path and the environment.
// An empty path means environment and defaults only.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &wferrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &wferrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Backend.Type == "" {
		c.Backend.Type = d.Backend.Type
	}
	if c.Engine.AdminRole == "" {
		c.Engine.AdminRole = d.Engine.AdminRole
	}
	if c.Engine.MaxFormDataSize == 0 {
		c.Engine.MaxFormDataSize = d.Engine.MaxFormDataSize
	}
	if c.Engine.ExpressionCacheSize == 0 {
		c.Engine.ExpressionCacheSize = d.Engine.ExpressionCacheSize
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = d.Cache.Size
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Seed.Debounce == 0 {
		c.Seed.Debounce = d.Seed.Debounce
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides. Malformed numeric, boolean or
// duration values are reported rather than silently ignored.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("WORKFLOW_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if err := envDuration("WORKFLOW_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout); err != nil {
		return err
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if err := envBool("LOG_SOURCE", &c.Log.AddSource); err != nil {
		return err
	}

	if val := os.Getenv("WORKFLOW_BACKEND"); val != "" {
		c.Backend.Type = strings.ToLower(val)
	}
	if val := os.Getenv("WORKFLOW_SQLITE_PATH"); val != "" {
		c.Backend.SQLite.Path = val
	}
	if val := os.Getenv("WORKFLOW_POSTGRES_URL"); val != "" {
		c.Backend.Postgres.ConnectionString = val
	}

	if err := envBool("WORKFLOW_AUTH_ENABLED", &c.Auth.Enabled); err != nil {
		return err
	}
	if val := os.Getenv("WORKFLOW_JWT_SECRET"); val != "" {
		c.Auth.JWTSecret = val
	}

	if val := os.Getenv("WORKFLOW_ADMIN_ROLE"); val != "" {
		c.Engine.AdminRole = val
	}
	if err := envInt("WORKFLOW_MAX_FORM_DATA_SIZE", &c.Engine.MaxFormDataSize); err != nil {
		return err
	}

	if val := os.Getenv("WORKFLOW_SEED_FILE"); val != "" {
		c.Seed.Path = val
	}
	if err := envBool("WORKFLOW_SEED_WATCH", &c.Seed.Watch); err != nil {
		return err
	}

	if err := envBool("WORKFLOW_TRACING_ENABLED", &c.Tracing.Enabled); err != nil {
		return err
	}

	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return envError(key, val, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return envError(key, val, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return envError(key, val, err)
	}
	*dst = d
	return nil
}

func envError(key, val string, err error) error {
	return &wferrors.ConfigError{
		Key:    key,
		Reason: fmt.Sprintf("invalid value %q", val),
		Cause:  err,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Backend.Type {
	case BackendMemory:
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			errs = append(errs, "backend.sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Backend.Postgres.ConnectionString == "" {
			errs = append(errs, "backend.postgres.connection_string is required for the postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, sqlite, postgres], got %q", c.Backend.Type))
	}

	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth.jwt_secret must be at least 32 bytes when auth is enabled")
	}
	if c.Auth.RateLimit < 0 {
		errs = append(errs, fmt.Sprintf("auth.rate_limit must be non-negative, got %v", c.Auth.RateLimit))
	}
	if c.Auth.RateLimit > 0 && c.Auth.RateBurst < 1 {
		errs = append(errs, fmt.Sprintf("auth.rate_burst must be at least 1 when rate limiting, got %d", c.Auth.RateBurst))
	}

	if strings.TrimSpace(c.Engine.AdminRole) == "" {
		errs = append(errs, "engine.admin_role cannot be blank")
	}
	if c.Engine.MaxFormDataSize < 0 {
		errs = append(errs, fmt.Sprintf("engine.max_form_data_size must be non-negative, got %d", c.Engine.MaxFormDataSize))
	}
	if c.Engine.ExpressionCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("engine.expression_cache_size must be positive, got %d", c.Engine.ExpressionCacheSize))
	}

	if c.Cache.Size < 1 {
		errs = append(errs, fmt.Sprintf("cache.size must be positive, got %d", c.Cache.Size))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Sprintf("cache.ttl must be non-negative, got %v", c.Cache.TTL))
	}

	if c.Seed.Watch && c.Seed.Path == "" {
		errs = append(errs, "seed.watch requires seed.path")
	}

	if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "none" {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, none], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

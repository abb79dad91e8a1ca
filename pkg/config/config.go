// Package config loads service configuration from an optional YAML file
// overridden by environment variables, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peregrinehq/stacks/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Remote        RemoteConfig        `yaml:"remote"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RemoteConfig holds the external content-repository configuration
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds the permission-resolution cache configuration
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	L1Size   int           `yaml:"l1_size"`
	TTL      time.Duration `yaml:"ttl"`
	RedisURL string        `yaml:"redis_url"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
	GaugeInterval  time.Duration          `yaml:"gauge_interval"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	ServiceName     string `yaml:"service_name"`
	ServiceVersion  string `yaml:"service_version"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
}

// LoadConfig loads configuration. Defaults are overlaid with the YAML file
// named by STACKS_CONFIG_FILE (if set), then with STACKS_* environment
// variables, so the environment always wins.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("STACKS_CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	loadEnv(cfg)
	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			L1Size:  1024,
			TTL:     time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevelName:    "info",
			MetricsEnabled:  true,
			GaugeInterval:   30 * time.Second,
			TracingEndpoint: "localhost:4317",
			ServiceName:     "stacks",
			ServiceVersion:  "1.0.0",
			TracingInsecure: true,
		},
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	cfg.Server.Host = getEnv("STACKS_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("STACKS_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("STACKS_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("STACKS_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("STACKS_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("STACKS_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("STACKS_HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Database.URL = getEnv("STACKS_POSTGRES_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("STACKS_POSTGRES_MAX_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("STACKS_POSTGRES_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = getEnvDuration("STACKS_POSTGRES_CONN_LIFETIME", cfg.Database.ConnMaxLifetime)

	cfg.Remote.BaseURL = getEnv("STACKS_REMOTE_URL", cfg.Remote.BaseURL)
	cfg.Remote.APIKey = getEnv("STACKS_REMOTE_API_KEY", cfg.Remote.APIKey)
	cfg.Remote.Timeout = getEnvDuration("STACKS_REMOTE_TIMEOUT", cfg.Remote.Timeout)

	cfg.Cache.Enabled = getEnvBool("STACKS_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.L1Size = getEnvInt("STACKS_CACHE_L1_SIZE", cfg.Cache.L1Size)
	cfg.Cache.TTL = getEnvDuration("STACKS_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.RedisURL = getEnv("STACKS_REDIS_URL", cfg.Cache.RedisURL)

	cfg.Observability.LogLevelName = getEnv("STACKS_LOG_LEVEL", cfg.Observability.LogLevelName)
	cfg.Observability.MetricsEnabled = getEnvBool("STACKS_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.GaugeInterval = getEnvDuration("STACKS_GAUGE_INTERVAL", cfg.Observability.GaugeInterval)
	cfg.Observability.TracingEnabled = getEnvBool("STACKS_TRACING_ENABLED", cfg.Observability.TracingEnabled)
	cfg.Observability.TracingEndpoint = getEnv("STACKS_TRACING_ENDPOINT", cfg.Observability.TracingEndpoint)
	cfg.Observability.ServiceName = getEnv("STACKS_SERVICE_NAME", cfg.Observability.ServiceName)
	cfg.Observability.ServiceVersion = getEnv("STACKS_SERVICE_VERSION", cfg.Observability.ServiceVersion)
	cfg.Observability.TracingInsecure = getEnvBool("STACKS_TRACING_INSECURE", cfg.Observability.TracingInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("content repository URL is required")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}
	if c.Cache.Enabled && c.Cache.L1Size <= 0 {
		return fmt.Errorf("cache L1 size must be positive when caching is enabled")
	}
	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`

	// BackendURL is the fixed base URL of the processing backend
	BackendURL string `yaml:"backend_url"`
	// BackendTimeout bounds a single backend call; zero means no timeout
	BackendTimeout time.Duration `yaml:"backend_timeout"`

	MaxUploadSize int64         `yaml:"max_upload_size"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	RedisAddr string        `yaml:"redis_addr"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`

	HistoryDSN string `yaml:"history_dsn"`

	// AllowPrivateSources lets the API fetch source images from loopback and private addresses
	AllowPrivateSources bool `yaml:"allow_private_sources"`

	AzureAccount   string `yaml:"azure_account"`
	AzureKey       string `yaml:"-"`
	AzureContainer string `yaml:"azure_container"`
	OutputDir      string `yaml:"output_dir"`

	JWTSecret   string `yaml:"-"`
	JWTAudience string `yaml:"jwt_audience"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// AzureEnabled reports whether blob storage credentials are configured
func (c *Config) AzureEnabled() bool {
	return c.AzureAccount != "" && c.AzureKey != "" && c.AzureContainer != ""
}

// Defaults returns the configuration used when neither a file nor the environment sets a value
func Defaults() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           "8080",
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		BackendURL:     "http://localhost:5000",
		MaxUploadSize:  10 * 1024 * 1024, // 10MB
		SessionTTL:     30 * time.Minute,
		CacheTTL:       10 * time.Minute,
		AzureContainer: "processed",
		OutputDir:      "output",
	}
}

// LoadFromEnv builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and the environment (including a .env file in the working directory).
func LoadFromEnv() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Host = getEnvOrDefault("HOST", cfg.Host)
	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.BackendURL = getEnvOrDefault("BACKEND_URL", cfg.BackendURL)
	cfg.BackendTimeout = parseDurationOrDefault("BACKEND_TIMEOUT", cfg.BackendTimeout)
	cfg.MaxUploadSize = parseIntOrDefault("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.SessionTTL = parseDurationOrDefault("SESSION_TTL", cfg.SessionTTL)
	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.CacheTTL = parseDurationOrDefault("CACHE_TTL", cfg.CacheTTL)
	cfg.HistoryDSN = getEnvOrDefault("HISTORY_DSN", cfg.HistoryDSN)
	cfg.AllowPrivateSources = parseBoolOrDefault("ALLOW_PRIVATE_SOURCES", cfg.AllowPrivateSources)
	cfg.AzureAccount = getEnvOrDefault("AZURE_ACCOUNT", cfg.AzureAccount)
	cfg.AzureKey = getEnvOrDefault("AZURE_KEY", cfg.AzureKey)
	cfg.AzureContainer = getEnvOrDefault("AZURE_CONTAINER", cfg.AzureContainer)
	cfg.OutputDir = getEnvOrDefault("OUTPUT_DIR", cfg.OutputDir)
	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTAudience = getEnvOrDefault("JWT_AUDIENCE", cfg.JWTAudience)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and formats of the loaded values
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	u, err := url.Parse(strings.TrimSpace(c.BackendURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL: %q", c.BackendURL)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 || c.SessionTTL <= 0 || c.CacheTTL <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, session=%s, cache=%s)",
			c.RequestTimeout, c.SessionTTL, c.CacheTTL)
	}
	if c.BackendTimeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be >= 0 (got %s)", c.BackendTimeout)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

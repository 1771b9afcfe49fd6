package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection envelope rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins  []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize  int64           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	SendBufferSize  int             `yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
	StoreTimeout    time.Duration   `yaml:"store_timeout" env:"STORE_TIMEOUT"`
	DatabasePath    string          `yaml:"database_path" env:"DATABASE_PATH"`
	LogLevel        string          `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string          `yaml:"log_format" env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 64 * 1024
	defaultBurst           = 50
	defaultRefillInterval  = time.Second
	defaultSendBufferSize  = 256
	defaultStoreTimeout    = 5 * time.Second
	defaultDatabasePath    = "relaychat.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownTimeout = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendBufferSize:  defaultSendBufferSize,
		StoreTimeout:    defaultStoreTimeout,
		DatabasePath:    defaultDatabasePath,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// sanitizeConfig replaces unusable values with defaults and normalizes the
// origin allowlist. Invalid origins are returned so the caller can report them.
func sanitizeConfig(cfg Config) (Config, []string) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	origins, rejected := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = origins
	return cfg, rejected
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by CONFIG_FILE if set, then environment variables. Later layers
// override earlier ones field by field.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	sanitized, _ := sanitizeConfig(cfg)
	return &sanitized, nil
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

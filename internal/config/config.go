package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Product identity constants shared by the client core and the issuer.
const (
	// ProductID identifies the product in license payloads and payment requests.
	ProductID = "baize-ai"

	// ProductVersion is the client version stamped into license records.
	// A stored record whose version differs from this value is invalid.
	ProductVersion = "1.0.0"
)

// Config represents the complete application configuration
type Config struct {
	Client  ClientConfig  `yaml:"client" envconfig:"CLIENT"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Issuer  IssuerConfig  `yaml:"issuer" envconfig:"ISSUER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ClientConfig contains settings for the desktop-side license core.
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL" default:"https://license.baize-ai.app"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	TrialDays      int           `yaml:"trial_days" envconfig:"TRIAL_DAYS" default:"30"`
}

// ServerConfig contains HTTP server configuration for the license server.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	AdminToken      string        `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration for activation endpoints
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"5"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"10"`
}

// IssuerConfig contains settings for the server-side code issuer.
type IssuerConfig struct {
	DatabasePath   string `yaml:"database_path" envconfig:"DATABASE_PATH" default:"data/issuer.db"`
	KeyDir         string `yaml:"key_dir" envconfig:"KEY_DIR" default:"data/keys"`
	CheckoutURL    string `yaml:"checkout_url" envconfig:"CHECKOUT_URL" default:"https://pay.baize-ai.app/checkout"`
	SessionTTL     time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL" default:"24h"`
	MaxActivations int    `yaml:"max_activations" envconfig:"MAX_ACTIVATIONS" default:"1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/baize.log"`
}

// Load loads configuration from environment variables and an optional config file.
// Environment variables win over file values, file values win over defaults.
func Load() (*Config, error) {
	var fileCfg Config

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		loaded, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		fileCfg = *loaded
	}

	cfg := fileCfg
	if err := envconfig.Process("BAIZE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getConfigFilePath returns the config file path next to the executable,
// falling back to the working directory during development.
func getConfigFilePath() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "baize.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "baize.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client request timeout must be positive: %s", c.Client.RequestTimeout)
	}
	if c.Client.TrialDays <= 0 {
		return fmt.Errorf("trial days must be positive: %d", c.Client.TrialDays)
	}
	if c.Issuer.MaxActivations <= 0 {
		return fmt.Errorf("max activations must be positive: %d", c.Issuer.MaxActivations)
	}
	return nil
}

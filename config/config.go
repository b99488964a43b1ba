// Package config provides configuration management for the mailroute service
// and CLI. It supports loading configuration from YAML files and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailroute/mailroute/pkg/db"
	"github.com/mailroute/mailroute/pkg/extraction"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/reasoning"
)

// Default configuration values.
const (
	DefaultPort            = 8080
	DefaultPipelineTimeout = 30 * time.Second
	DefaultReasoningURL    = "http://localhost:11434/v1"
	DefaultReasoningModel  = "gpt-4o-mini"
	DefaultConfigDir       = ".mailroute"
	DefaultConfigFile      = "config.yaml"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Port is the listen port for the ingestion and chat endpoints.
	Port int `yaml:"port"`

	// PipelineTimeout bounds one event run end to end.
	PipelineTimeout time.Duration `yaml:"-"`
}

// RedisConfig holds delivery-dedup store settings. Dedup is optional; with
// Addr empty every delivery is treated as fresh.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Enabled reports whether a dedup store is configured.
func (c *RedisConfig) Enabled() bool {
	return c != nil && c.Addr != ""
}

// ExtractionConfig holds attachment-relay settings. With ServiceURL empty the
// pipeline routes on event text alone.
type ExtractionConfig struct {
	ServiceURL string        `yaml:"service_url,omitempty"`
	Timeout    time.Duration `yaml:"-"`
}

// ChatConfig holds the interactive tool-loop settings.
type ChatConfig struct {
	// Trusted lets the assistant write records without per-write
	// confirmation.
	Trusted bool `yaml:"trusted,omitempty"`
}

// Config is the root configuration for the service and CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   *db.Config       `yaml:"-"`
	Redis      RedisConfig      `yaml:"redis"`
	Reasoning  reasoning.Config `yaml:"reasoning"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chat       ChatConfig       `yaml:"chat"`

	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel logging.Level `yaml:"log_level,omitempty"`

	// LogJSON switches logs to JSON output for machine collection.
	LogJSON bool `yaml:"log_json,omitempty"`
}

// DefaultConfig returns a Config with default values. Database settings come
// from DB_* environment variables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			PipelineTimeout: DefaultPipelineTimeout,
		},
		Database: db.ConfigFromEnv(),
		Reasoning: reasoning.Config{
			BaseURL: DefaultReasoningURL,
			Model:   DefaultReasoningModel,
		},
		Extraction: ExtractionConfig{
			Timeout: extraction.DefaultTimeout,
		},
		LogLevel: logging.LevelInfo,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $MAILROUTE_CONFIG_DIR if set, otherwise ~/.mailroute
func ConfigDir() (string, error) {
	if dir := os.Getenv("MAILROUTE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load builds the configuration. Sources are applied in order (later
// overrides earlier):
//  1. Default values
//  2. Config file (~/.mailroute/config.yaml or $MAILROUTE_CONFIG_DIR/config.yaml)
//  3. Environment variables (MAILROUTE_*, DB_*)
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile is the on-disk shape; durations are strings there.
type configFile struct {
	Server struct {
		Port            int    `yaml:"port"`
		PipelineTimeout string `yaml:"pipeline_timeout"`
	} `yaml:"server"`
	Redis     RedisConfig `yaml:"redis"`
	Reasoning struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"reasoning"`
	Extraction struct {
		ServiceURL string `yaml:"service_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"extraction"`
	Chat     ChatConfig    `yaml:"chat"`
	LogLevel logging.Level `yaml:"log_level"`
	LogJSON  bool          `yaml:"log_json"`
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.Server.Port != 0 {
		cfg.Server.Port = fileCfg.Server.Port
	}
	if fileCfg.Server.PipelineTimeout != "" {
		d, err := time.ParseDuration(fileCfg.Server.PipelineTimeout)
		if err != nil {
			return fmt.Errorf("parsing pipeline_timeout: %w", err)
		}
		cfg.Server.PipelineTimeout = d
	}
	if fileCfg.Redis.Addr != "" {
		cfg.Redis = fileCfg.Redis
	}
	if fileCfg.Reasoning.BaseURL != "" {
		cfg.Reasoning.BaseURL = fileCfg.Reasoning.BaseURL
	}
	if fileCfg.Reasoning.APIKey != "" {
		cfg.Reasoning.APIKey = fileCfg.Reasoning.APIKey
	}
	if fileCfg.Reasoning.Model != "" {
		cfg.Reasoning.Model = fileCfg.Reasoning.Model
	}
	if fileCfg.Reasoning.Timeout != "" {
		d, err := time.ParseDuration(fileCfg.Reasoning.Timeout)
		if err != nil {
			return fmt.Errorf("parsing reasoning timeout: %w", err)
		}
		cfg.Reasoning.Timeout = d
	}
	if fileCfg.Reasoning.MaxRetries != 0 {
		cfg.Reasoning.MaxRetries = fileCfg.Reasoning.MaxRetries
	}
	if fileCfg.Extraction.ServiceURL != "" {
		cfg.Extraction.ServiceURL = fileCfg.Extraction.ServiceURL
	}
	if fileCfg.Extraction.Timeout != "" {
		d, err := time.ParseDuration(fileCfg.Extraction.Timeout)
		if err != nil {
			return fmt.Errorf("parsing extraction timeout: %w", err)
		}
		cfg.Extraction.Timeout = d
	}
	cfg.Chat = fileCfg.Chat
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	cfg.LogJSON = fileCfg.LogJSON

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MAILROUTE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("MAILROUTE_PIPELINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.PipelineTimeout = d
		}
	}

	if v := os.Getenv("MAILROUTE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	if v := os.Getenv("MAILROUTE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("MAILROUTE_REASONING_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}

	if v := os.Getenv("MAILROUTE_REASONING_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}

	if v := os.Getenv("MAILROUTE_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}

	if v := os.Getenv("MAILROUTE_EXTRACTION_URL"); v != "" {
		cfg.Extraction.ServiceURL = v
	}

	if v := os.Getenv("MAILROUTE_CHAT_TRUSTED"); v == "true" || v == "1" {
		cfg.Chat.Trusted = true
	}

	if v := os.Getenv("MAILROUTE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = logging.Level(v)
	}

	if v := os.Getenv("MAILROUTE_LOG_JSON"); v == "true" || v == "1" {
		cfg.LogJSON = true
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.PipelineTimeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}

	if c.Reasoning.BaseURL == "" {
		return fmt.Errorf("reasoning base_url is required")
	}

	switch c.LogLevel {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}

	return nil
}

// LoggingConfig returns the logger configuration derived from this config.
func (c *Config) LoggingConfig() *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.JSONFormat = c.LogJSON
	return lc
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

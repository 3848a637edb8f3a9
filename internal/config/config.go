// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Data   DataConfig   `mapstructure:"data" yaml:"data"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Fetch  FetchConfig  `mapstructure:"fetch" yaml:"fetch"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DataConfig locates the per-task input data on disk.
type DataConfig struct {
	// Dir is the root directory holding task_<n> folders. A leading "~" is
	// expanded to the user's home directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LLMConfig configures the vision model used for narration validation.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model       string        `mapstructure:"model" yaml:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// RequestsPerSecond throttles outbound API calls across the whole batch.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// Concurrency bounds the number of in-flight validation calls.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// FetchConfig tunes the screenshot downloader.
type FetchConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// NewDefaultConfig builds a Config populated with defaults only. Primarily
// used by tests and as the fallback when no config file is present.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are hardcoded below; an unmarshal failure here is a bug.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stepbook-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Data layout defaults
	v.SetDefault("data.dir", "Input Data")

	// LLM defaults
	v.SetDefault("llm.endpoint", "https://api.anthropic.com/v1/messages")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.concurrency", 5)

	// Screenshot fetcher defaults
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.max_retries", 3)
}

// Load unmarshals the already-initialized viper state into a Config and
// finalizes derived values (home expansion, env fallbacks).
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	expanded, err := homedir.Expand(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand data dir %q: %w", cfg.Data.Dir, err)
	}
	cfg.Data.Dir = expanded

	return &cfg, nil
}

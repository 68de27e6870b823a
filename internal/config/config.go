// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is assembled once at
// startup and treated as immutable by the core packages; none of them read the
// environment directly.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	State   StateConfig   `mapstructure:"state" yaml:"state"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
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

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// StateConfig controls session-state persistence.
type StateConfig struct {
	// Dir is the directory holding profile directories and their state files.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Persistence disables all disk writes when false; sessions become
	// in-memory only for the run.
	Persistence      bool          `mapstructure:"persistence" yaml:"persistence"`
	AutosaveInterval time.Duration `mapstructure:"autosave_interval" yaml:"autosave_interval"`
}

// RelevanceWeights are the sub-score weights of the relevance formula. They are
// empirically chosen defaults, not constants the engine depends on.
type RelevanceWeights struct {
	Title   float64 `mapstructure:"title" yaml:"title"`
	Summary float64 `mapstructure:"summary" yaml:"summary"`
	Author  float64 `mapstructure:"author" yaml:"author"`
}

// SearchConfig tunes the pagination driver and the relevance engine.
type SearchConfig struct {
	MaxPages            int              `mapstructure:"max_pages" yaml:"max_pages"`
	MinRelevance        float64          `mapstructure:"min_relevance" yaml:"min_relevance"`
	PerPageTimeout      time.Duration    `mapstructure:"per_page_timeout" yaml:"per_page_timeout"`
	PageRetries         int              `mapstructure:"page_retries" yaml:"page_retries"`
	PagesPerMinute      float64          `mapstructure:"pages_per_minute" yaml:"pages_per_minute"`
	WaitForVerification bool             `mapstructure:"wait_for_verification" yaml:"wait_for_verification"`
	Weights             RelevanceWeights `mapstructure:"weights" yaml:"weights"`
}

// ServerConfig holds settings for the control-plane HTTP server.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// DefaultStateDir resolves the default on-disk location for browser profiles and
// state files.
func DefaultStateDir() string {
	return filepath.Join(xdg.DataHome, "scout-cli", "browser_data")
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scout-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- State --
	v.SetDefault("state.dir", DefaultStateDir())
	v.SetDefault("state.persistence", true)
	v.SetDefault("state.autosave_interval", "30s")

	// -- Search --
	v.SetDefault("search.max_pages", 3)
	v.SetDefault("search.min_relevance", 0.5)
	v.SetDefault("search.per_page_timeout", "15s")
	v.SetDefault("search.page_retries", 2)
	v.SetDefault("search.pages_per_minute", 10.0)
	// Off by default: a waiting check_login blocks its caller until a human
	// clears the wall, which only interactive setups want.
	v.SetDefault("search.wait_for_verification", false)
	v.SetDefault("search.weights.title", 0.6)
	v.SetDefault("search.weights.summary", 0.3)
	v.SetDefault("search.weights.author", 0.1)

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8192")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir must not be empty")
	}
	if c.State.AutosaveInterval <= 0 {
		return fmt.Errorf("state.autosave_interval must be a positive duration")
	}
	if c.Search.MaxPages < 1 {
		return fmt.Errorf("search.max_pages must be at least 1")
	}
	if c.Search.MinRelevance < 0.0 || c.Search.MinRelevance > 1.0 {
		return fmt.Errorf("search.min_relevance must be between 0.0 and 1.0")
	}
	if c.Search.PerPageTimeout <= 0 {
		return fmt.Errorf("search.per_page_timeout must be a positive duration")
	}
	if c.Search.PageRetries < 0 {
		return fmt.Errorf("search.page_retries must not be negative")
	}
	if err := c.Search.Weights.Validate(); err != nil {
		return fmt.Errorf("search.weights invalid: %w", err)
	}
	if c.Browser.LaunchTimeout <= 0 || c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive durations")
	}
	return nil
}

// Validate checks that every weight stays inside [0,1].
func (w RelevanceWeights) Validate() error {
	for name, val := range map[string]float64{"title": w.Title, "summary": w.Summary, "author": w.Author} {
		if val < 0.0 || val > 1.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0", name)
		}
	}
	return nil
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/keybridge/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	Settings() SettingsConfig
	Database() DatabaseConfig
	Overlay() OverlayConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	SettingsCfg SettingsConfig `mapstructure:"settings" yaml:"settings"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	OverlayCfg  OverlayConfig  `mapstructure:"overlay" yaml:"overlay"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }
func (c *Config) Settings() SettingsConfig { return c.SettingsCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Overlay() OverlayConfig   { return c.OverlayCfg }

func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string) { c.BrowserCfg.RemoteURL = u }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL      string         `mapstructure:"remote_url" yaml:"remote_url"`
	UserDataDir    string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args           []string       `mapstructure:"args" yaml:"args"`
	Viewport       map[string]int `mapstructure:"viewport" yaml:"viewport"`
	StartupTimeout time.Duration  `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	ActionTimeout  time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderAnthropic LLMProvider = "anthropic"
)

// AgentConfig configures the remote model round trip.
type AgentConfig struct {
	Provider LLMProvider `mapstructure:"provider" yaml:"provider"`
	Model    string      `mapstructure:"model" yaml:"model"`
	// FastModel, when set, serves fast-tier requests such as periodic analysis.
	FastModel string `mapstructure:"fast_model" yaml:"fast_model"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	// APITimeout bounds a single HTTP call to the provider.
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// RequestTimeout bounds a whole round, retries and screenshot included.
	// Zero disables the bound.
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK              int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetryElapsed   time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	SystemPrompt      string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// SettingsBackend selects where user settings are persisted.
type SettingsBackend string

const (
	SettingsBackendFile     SettingsBackend = "file"
	SettingsBackendPostgres SettingsBackend = "postgres"
)

// SettingsConfig configures the user settings store and its defaults.
type SettingsConfig struct {
	Backend SettingsBackend `mapstructure:"backend" yaml:"backend"`
	Path    string          `mapstructure:"path" yaml:"path"`
	// Profile namespaces settings rows in the database backend.
	Profile  string                 `mapstructure:"profile" yaml:"profile"`
	Defaults map[string]interface{} `mapstructure:"defaults" yaml:"defaults"`
}

// ResolvedPath expands a leading ~ in Path.
func (s SettingsConfig) ResolvedPath() (string, error) {
	p, err := homedir.Expand(s.Path)
	if err != nil {
		return "", fmt.Errorf("expanding settings path %q: %w", s.Path, err)
	}
	return p, nil
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// ArchiveTranscripts copies finished chat transcripts into the database.
	ArchiveTranscripts bool `mapstructure:"archive_transcripts" yaml:"archive_transcripts"`
}

// OverlayConfig configures the in-page panel.
type OverlayConfig struct {
	BindingName string `mapstructure:"binding_name" yaml:"binding_name"`
	// AnalyzeEvery runs a scheduled analysis at this interval while the
	// bridge is attached. Zero disables it.
	AnalyzeEvery time.Duration `mapstructure:"analyze_every" yaml:"analyze_every"`
	BusBuffer    int           `mapstructure:"bus_buffer" yaml:"bus_buffer"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.SettingsCfg.Defaults = restoreSettingKeys(cfg.SettingsCfg.Defaults)
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "keybridge")
	v.SetDefault("logger.log_file", "keybridge.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	v.SetDefault("browser.startup_timeout", "30s")
	v.SetDefault("browser.action_timeout", "10s")

	// -- Agent --
	v.SetDefault("agent.provider", string(ProviderGemini))
	v.SetDefault("agent.model", "gemini-2.5-flash")
	v.SetDefault("agent.fast_model", "")
	v.SetDefault("agent.api_timeout", "60s")
	v.SetDefault("agent.request_timeout", "90s")
	v.SetDefault("agent.temperature", 0.2)
	v.SetDefault("agent.top_p", 0.95)
	v.SetDefault("agent.top_k", 40)
	v.SetDefault("agent.max_tokens", 2048)
	v.SetDefault("agent.requests_per_minute", 30)
	v.SetDefault("agent.max_retry_elapsed", "45s")

	// -- Settings --
	v.SetDefault("settings.backend", string(SettingsBackendFile))
	v.SetDefault("settings.path", "~/.config/keybridge/settings.yaml")
	v.SetDefault("settings.profile", "default")
	v.SetDefault("settings.defaults", map[string]interface{}{
		"llmEnabled":           true,
		"llmIncludeScreenshot": true,
		"llmUserPrompt":        "Look at this page and decide the next keyboard action.",
		"llmApiKey":            "",
	})

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.archive_transcripts", false)

	// -- Overlay --
	v.SetDefault("overlay.binding_name", "__keybridgeSend")
	v.SetDefault("overlay.analyze_every", "0s")
	v.SetDefault("overlay.bus_buffer", 16)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// viper lower-cases nested map keys; settings keys are camelCase.
	cfg.SettingsCfg.Defaults = restoreSettingKeys(cfg.SettingsCfg.Defaults)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var knownSettingKeys = []string{
	schemas.SettingLLMEnabled,
	schemas.SettingLLMAPIKey,
	schemas.SettingLLMIncludeScreenshot,
	schemas.SettingLLMUserPrompt,
}

func restoreSettingKeys(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, val := range in {
		key := k
		for _, known := range knownSettingKeys {
			if strings.EqualFold(k, known) {
				key = known
				break
			}
		}
		out[key] = val
	}
	return out
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	switch c.SettingsCfg.Backend {
	case SettingsBackendFile:
		if c.SettingsCfg.Path == "" {
			return fmt.Errorf("settings.path is required for the file backend")
		}
	case SettingsBackendPostgres:
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres settings backend")
		}
	default:
		return fmt.Errorf("unknown settings.backend %q", c.SettingsCfg.Backend)
	}
	if c.DatabaseCfg.ArchiveTranscripts && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when database.archive_transcripts is set")
	}
	if c.OverlayCfg.BindingName == "" {
		return fmt.Errorf("overlay.binding_name must not be empty")
	}
	if c.OverlayCfg.AnalyzeEvery < 0 {
		return fmt.Errorf("overlay.analyze_every must not be negative")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	switch a.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported provider %q", a.Provider)
	}
	if a.Model == "" {
		return fmt.Errorf("model is required")
	}
	if a.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	if a.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

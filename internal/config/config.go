package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, loaded once at startup and
// read-only afterwards.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`

	DefaultProvider    string   `mapstructure:"default_provider"`
	FallbackOrder      []string `mapstructure:"fallback_order"`
	EnableReflection   bool     `mapstructure:"enable_reflection"`
	AutoImproveSummary bool     `mapstructure:"auto_improve_summary"`

	Prompts PromptsConfig `mapstructure:"prompts"`
	RunLogs RunLogsConfig `mapstructure:"run_logs"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig describes the single-admin allow-list. Tokens are signed with
// Secret; only subjects listed in AdminUserIDs pass the middleware.
type AuthConfig struct {
	Secret       string  `mapstructure:"secret"`
	AdminUserIDs []int64 `mapstructure:"admin_user_ids"`
}

// ProviderConfig is one backend's settings. One instance per provider name,
// validated eagerly at startup.
type ProviderConfig struct {
	APIKey             string `mapstructure:"api_key"`
	BaseURL            string `mapstructure:"base_url"`
	Model              string `mapstructure:"model"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	MaxRetries         int    `mapstructure:"max_retries"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// PromptsConfig holds deployment-configurable prompt templates. Empty fields
// fall back to the built-in English defaults.
type PromptsConfig struct {
	Summarization  string `mapstructure:"summarization"`
	Reflection     string `mapstructure:"reflection"`
	Improvement    string `mapstructure:"improvement"`
	Cleaning       string `mapstructure:"cleaning"`
	Classification string `mapstructure:"classification"`
	Extraction     string `mapstructure:"extraction"`
	ParentSummary  string `mapstructure:"parent_summary"`
}

type RunLogsConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Load reads the configuration from config.json (working directory, ./config,
// or ~/.tgmaxsummarizer) with TGMAX_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".tgmaxsummarizer"))
	}

	setDefaults(v)

	v.SetEnvPrefix("TGMAX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine; defaults plus env cover development setups.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "data/bot_database.db")
	v.SetDefault("default_provider", "gigachat")
	v.SetDefault("fallback_order", []string{"gigachat", "openrouter", "gemini", "chatgpt", "ollama"})
	v.SetDefault("enable_reflection", false)
	v.SetDefault("auto_improve_summary", false)
	v.SetDefault("run_logs.dir", "llm_logs")
	v.SetDefault("run_logs.retention_days", 30)

	v.SetDefault("providers.gigachat.timeout_seconds", 30)
	v.SetDefault("providers.chatgpt.timeout_seconds", 30)
	v.SetDefault("providers.chatgpt.model", "gpt-4")
	v.SetDefault("providers.gemini.timeout_seconds", 30)
	v.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	v.SetDefault("providers.openrouter.timeout_seconds", 60)
	v.SetDefault("providers.openrouter.model", "deepseek/deepseek-chat-v3.1:free")
	v.SetDefault("providers.openrouter.max_retries", 4)
	v.SetDefault("providers.ollama.base_url", "http://localhost:11434")
	v.SetDefault("providers.ollama.model", "gpt-oss:20b")
	// Local models are slow; anything under five minutes times out routinely.
	v.SetDefault("providers.ollama.timeout_seconds", 300)
}

// Validate fails fast on structurally broken configuration. A missing API key
// is not an error here: a provider without credentials simply never becomes
// available.
func (c *Config) Validate() error {
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q has no providers entry", c.DefaultProvider)
		}
	}
	for _, name := range c.FallbackOrder {
		if _, ok := c.Providers[name]; !ok {
			return fmt.Errorf("fallback_order entry %q has no providers entry", name)
		}
	}
	for name, p := range c.Providers {
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("provider %q: negative timeout_seconds", name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("provider %q: negative max_retries", name)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// Provider returns the named provider config, or a zero value when absent.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

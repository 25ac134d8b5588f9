package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gigachat", cfg.DefaultProvider)
	assert.Equal(t, []string{"gigachat", "openrouter", "gemini", "chatgpt", "ollama"}, cfg.FallbackOrder)
	assert.False(t, cfg.EnableReflection)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "llm_logs", cfg.RunLogs.Dir)

	assert.Equal(t, 300, cfg.Provider("ollama").TimeoutSeconds)
	assert.Equal(t, "gpt-oss:20b", cfg.Provider("ollama").Model)
	assert.Equal(t, 4, cfg.Provider("openrouter").MaxRetries)
	assert.Equal(t, "gpt-4", cfg.Provider("chatgpt").Model)

	// TLS verification is never disabled by default.
	for name, p := range cfg.Providers {
		assert.False(t, p.InsecureSkipVerify, name)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := chdirTemp(t)

	content := `{
		"default_provider": "openrouter",
		"enable_reflection": true,
		"providers": {
			"openrouter": {"api_key": "sk-or-test", "model": "deepseek/deepseek-r1:free"}
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "openrouter", cfg.DefaultProvider)
	assert.True(t, cfg.EnableReflection)
	assert.Equal(t, "sk-or-test", cfg.Provider("openrouter").APIKey)
	assert.Equal(t, "deepseek/deepseek-r1:free", cfg.Provider("openrouter").Model)
	// Defaults for untouched fields survive the merge.
	assert.Equal(t, 4, cfg.Provider("openrouter").MaxRetries)
}

func TestLoadRejectsBrokenConfig(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{not json`), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:          ServerConfig{Port: 8080},
			Providers:       map[string]ProviderConfig{"gigachat": {}},
			DefaultProvider: "gigachat",
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown default provider", func(t *testing.T) {
		cfg := base()
		cfg.DefaultProvider = "missing"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown fallback entry", func(t *testing.T) {
		cfg := base()
		cfg.FallbackOrder = []string{"missing"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative timeout", func(t *testing.T) {
		cfg := base()
		cfg.Providers["gigachat"] = ProviderConfig{TimeoutSeconds: -1}
		assert.Error(t, cfg.Validate())
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvConfigPath, "PERSONAKIT_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"ZHIPU_API_KEY", "GEMINI_API_KEY", "PORT", "DATA_DIR", "LOG_LEVEL", "DEBUG_MODE", EnvSecretKey, "RATE_LIMIT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 10, cfg.Dialogue.ContextWindow)
	assert.Equal(t, 60, cfg.Concurrent.TimeoutSeconds)
	assert.Equal(t, "json", cfg.Storage.Format)
	assert.Empty(t, cfg.Source)
}

func TestLoadFileWithEnvSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("MY_ZHIPU_KEY", "secret-key")
	t.Setenv("LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ai:
  provider: zhipu
  providers:
    zhipu:
      api_key: ${MY_ZHIPU_KEY}
      model: ${ZHIPU_MODEL:-glm-4-flash}
dialogue:
  context_window: 4
storage:
  format: yaml
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	name, pc := cfg.ActiveProvider()
	assert.Equal(t, "zhipu", name)
	assert.Equal(t, "secret-key", pc.APIKey)
	assert.Equal(t, "glm-4-flash", pc.Model)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4/", pc.BaseURL)
	assert.Equal(t, 4, cfg.Dialogue.ContextWindow)
	assert.Equal(t, 50, cfg.Dialogue.MaxHistory)
	assert.Equal(t, "yaml", cfg.Storage.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, path, cfg.Source)
}

func TestEnvKeyFillsProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	t.Setenv("PERSONAKIT_PROVIDER", "Anthropic")

	cfg, err := Load("")
	require.NoError(t, err)
	name, pc := cfg.ActiveProvider()
	assert.Equal(t, "anthropic", name)
	assert.Equal(t, "ak", pc.APIKey)
}

func TestExplicitMissingFileIsConfigError(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestRejectsUnknownStorageFormat(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  format: xml\n"), 0644))

	_, err := Load(path)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestSealedKeysRoundTrip(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSecretKey, "passphrase")

	cfg := Default()
	cfg.AI.Provider = "anthropic"
	pc := cfg.AI.Providers["anthropic"]
	pc.APIKey = "sk-plain"
	cfg.AI.Providers["anthropic"] = pc

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-plain")
	assert.Contains(t, string(raw), "enc:")
	assert.Equal(t, "sk-plain", cfg.AI.Providers["anthropic"].APIKey, "Save must not modify the receiver")

	loaded, err := Load(path)
	require.NoError(t, err)
	_, active := loaded.ActiveProvider()
	assert.Equal(t, "sk-plain", active.APIKey)

	t.Setenv(EnvSecretKey, "")
	_, err = Load(path)
	assert.True(t, apperrors.IsConfigError(err))

	t.Setenv(EnvSecretKey, "wrong")
	_, err = Load(path)
	assert.True(t, apperrors.IsConfigError(err))
}

func TestRateLimitFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT", "120")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.Server.RateLimit)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"RAPIDAPI_KEY", "GROQ_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
		"GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "MARKET_LLM_PROVIDER", "DATABASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, []string{"1.9"}, cfg.Normalizer.SentinelCategories)
	assert.Equal(t, 100, cfg.Catalog.TopN)
	assert.Equal(t, 30*time.Second, cfg.Catalog.Timeout.Duration)
	assert.Equal(t, time.Second, cfg.Catalog.MinInterval.Duration)
	assert.Equal(t, 0.5, cfg.Insights.Temperature)
	assert.Equal(t, 4096, cfg.Insights.MaxTokens)
	assert.Equal(t, 160, cfg.Campaigns.SEOMaxChars)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[catalog]
top_n = 10
min_interval = "250ms"
rate_limit_max_backoff = "20s"

[llm]
provider = "gemini"
model = "gemini-2.5-flash"

[normalizer]
sentinel_categories = ["1.9", "NaN"]
`), 0644))

	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("RAPIDAPI_KEY", "r-key")
	t.Setenv("MARKET_TOP_N", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Catalog.TopN, "env overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.Catalog.MinInterval.Duration)
	assert.Equal(t, 20*time.Second, cfg.Catalog.RateLimitMax.Duration)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "r-key", cfg.Catalog.APIKey)
	assert.Equal(t, []string{"1.9", "NaN"}, cfg.Normalizer.SentinelCategories)
	assert.NoError(t, cfg.RequireCatalog())
	assert.NoError(t, cfg.RequireCompletion())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("MARKET_LLM_PROVIDER", "mystery")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestMissingCredentialsAreConfigurationErrors(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.RequireCatalog()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "RAPIDAPI_KEY")

	err = cfg.RequireCompletion()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")
}

func TestPostgresDSN(t *testing.T) {
	pg := NewDefaultConfig().Storage.Postgres
	pg.Password = "secret"
	assert.Equal(t, "host=localhost port=5432 user=market password=secret dbname=market_intel sslmode=disable", pg.DSN())

	pg.URL = "postgres://u:p@db/x"
	assert.Equal(t, "postgres://u:p@db/x", pg.DSN())
}

func TestDatabaseURLEnablesSink(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db/x")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Storage.Postgres.Enabled)
}

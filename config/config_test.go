package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 512, cfg.Chunking.MaxTokens)
	assert.Equal(t, 15, cfg.Agent.MaxIterations)
	assert.Equal(t, BackendPostgres, cfg.VectorStore.Backend)
}

func TestLoadMergesFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fundlens.yaml")
	data := []byte(`
log_level: debug
embeddings:
  provider: openai
  model: text-embedding-3-small
  dimension: 1536
agent:
  max_iterations: 20
  timeout: 90s
vector_store:
  backend: memory
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("LLM_PROVIDER", ProviderAnthropic)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ProviderOpenAI, cfg.Embeddings.Provider)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension)
	assert.Equal(t, 20, cfg.Agent.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, BackendMemory, cfg.VectorStore.Backend)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	// untouched sections keep their defaults
	assert.Equal(t, 100, cfg.Chunking.Overlap)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown embedding provider", func(c *Config) { c.Embeddings.Provider = "cohere" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "mistral" }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "qdrant" }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = 0 }},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("FUNDLENS_TEST_INT", "not-a-number")
	t.Setenv("FUNDLENS_TEST_BOOL", "yes please")

	assert.Equal(t, 7, getEnvInt("FUNDLENS_TEST_INT", 7))
	assert.True(t, getEnvBool("FUNDLENS_TEST_BOOL", true))
	assert.Equal(t, "x", getEnv("FUNDLENS_TEST_UNSET", "x"))
}

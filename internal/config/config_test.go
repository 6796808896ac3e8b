package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, 768, cfg.Storage.PostgresDimension)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.OllamaModel)
	assert.Equal(t, float64(10), cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, "ollama", cfg.Chat.Provider)
	assert.Equal(t, 8, cfg.Retrieval.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Retrieval.DefaultK)
	assert.Equal(t, 2, cfg.Indexing.Workers)
	assert.Equal(t, 256, cfg.Indexing.QueueSize)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RECALL_DATA_DIR", "/var/lib/recall")
	t.Setenv("RECALL_RETRIEVAL_K", "10")
	t.Setenv("RECALL_EMBEDDING_RPS", "2.5")
	t.Setenv("RECALL_INDEX_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/recall", cfg.Storage.DataDir)
	assert.Equal(t, 10, cfg.Retrieval.DefaultK)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, 2, cfg.Indexing.Workers, "unparseable value keeps the default")
}

func TestLoadYAMLOverridesEnv(t *testing.T) {
	t.Setenv("RECALL_RETRIEVAL_K", "10")

	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retrieval:
  default_k: 3
`), 0o644))
	t.Setenv("RECALL_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retrieval.DefaultK, "file value wins over env")
	assert.Equal(t, 8, cfg.Retrieval.TimeoutSeconds, "absent file keys keep env/defaults")
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	t.Setenv("RECALL_CONFIG_FILE", "/does/not/exist.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateBackends(t *testing.T) {
	t.Setenv("RECALL_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err, "postgres without DSN must fail")

	t.Setenv("RECALL_POSTGRES_DSN", "postgres://localhost/recall")
	_, err = Load()
	assert.NoError(t, err)

	t.Setenv("RECALL_BACKEND", "cassandra")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidateProvidersNeedKeys(t *testing.T) {
	t.Setenv("RECALL_EMBEDDING_PROVIDER", "openai")
	_, err := Load()
	assert.Error(t, err, "openai embeddings without an API key must fail")

	t.Setenv("RECALL_OPENAI_API_KEY", "sk-test")
	_, err = Load()
	assert.NoError(t, err)

	t.Setenv("RECALL_CHAT_PROVIDER", "anthropic")
	_, err = Load()
	assert.Error(t, err, "anthropic chat without an API key must fail")

	t.Setenv("RECALL_ANTHROPIC_API_KEY", "ak-test")
	_, err = Load()
	assert.NoError(t, err)
}

// Package config provides configuration management for Recall.
// It loads settings from environment variables with the RECALL_ prefix,
// provides sensible defaults for all options, and optionally overlays a
// YAML file named by RECALL_CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Recall service.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Indexing  IndexingConfig  `yaml:"indexing"`
}

// StorageConfig selects and locates the vector index backend.
type StorageConfig struct {
	Backend           string `yaml:"backend"`            // sqlite or postgres (default: sqlite)
	DataDir           string `yaml:"data_dir"`           // SQLite index directory (default: ./data)
	PostgresDSN       string `yaml:"postgres_dsn"`       // Postgres connection string
	PostgresDimension int    `yaml:"postgres_dimension"` // pgvector column size (default: 768)
}

// EmbeddingConfig selects the embedding provider and its pacing.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`            // ollama or openai (default: ollama)
	OllamaURL         string  `yaml:"ollama_url"`          // default: http://localhost:11434
	OllamaModel       string  `yaml:"ollama_model"`        // default: nomic-embed-text
	OpenAIAPIKey      string  `yaml:"openai_api_key"`      //
	OpenAIModel       string  `yaml:"openai_model"`        // default: text-embedding-3-small
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 10
}

// ChatConfig selects the chat provider for the demo REPL.
type ChatConfig struct {
	Provider        string `yaml:"provider"`          // ollama, openai, anthropic (default: ollama)
	OllamaURL       string `yaml:"ollama_url"`        // default: http://localhost:11434
	OllamaModel     string `yaml:"ollama_model"`      // default: phi3:mini
	OpenAIAPIKey    string `yaml:"openai_api_key"`    //
	OpenAIModel     string `yaml:"openai_model"`      // default: gpt-4o-mini
	AnthropicAPIKey string `yaml:"anthropic_api_key"` //
	AnthropicModel  string `yaml:"anthropic_model"`   // default: claude-haiku-4-5-20251001
}

// RetrievalConfig tunes the retrieval path.
type RetrievalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"` // search deadline (default: 8)
	DefaultK       int `yaml:"default_k"`       // results per retrieval (default: 5)
}

// IndexingConfig tunes the background indexing pool.
type IndexingConfig struct {
	Workers   int `yaml:"workers"`    // default: 2
	QueueSize int `yaml:"queue_size"` // default: 256
}

// Load builds a Config from environment variables, then overlays the YAML
// file named by RECALL_CONFIG_FILE when set.
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Backend:           getEnv("RECALL_BACKEND", "sqlite"),
			DataDir:           getEnv("RECALL_DATA_DIR", "./data"),
			PostgresDSN:       getEnv("RECALL_POSTGRES_DSN", ""),
			PostgresDimension: getEnvInt("RECALL_POSTGRES_DIMENSION", 768),
		},
		Embedding: EmbeddingConfig{
			Provider:          getEnv("RECALL_EMBEDDING_PROVIDER", "ollama"),
			OllamaURL:         getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("RECALL_EMBEDDING_OLLAMA_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:      getEnv("RECALL_OPENAI_API_KEY", ""),
			OpenAIModel:       getEnv("RECALL_EMBEDDING_OPENAI_MODEL", "text-embedding-3-small"),
			RequestsPerSecond: getEnvFloat("RECALL_EMBEDDING_RPS", 10),
		},
		Chat: ChatConfig{
			Provider:        getEnv("RECALL_CHAT_PROVIDER", "ollama"),
			OllamaURL:       getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:     getEnv("RECALL_CHAT_OLLAMA_MODEL", "phi3:mini"),
			OpenAIAPIKey:    getEnv("RECALL_OPENAI_API_KEY", ""),
			OpenAIModel:     getEnv("RECALL_CHAT_OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey: getEnv("RECALL_ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnv("RECALL_CHAT_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
		},
		Retrieval: RetrievalConfig{
			TimeoutSeconds: getEnvInt("RECALL_RETRIEVAL_TIMEOUT_SECONDS", 8),
			DefaultK:       getEnvInt("RECALL_RETRIEVAL_K", 5),
		},
		Indexing: IndexingConfig{
			Workers:   getEnvInt("RECALL_INDEX_WORKERS", 2),
			QueueSize: getEnvInt("RECALL_INDEX_QUEUE_SIZE", 256),
		},
	}

	if path := os.Getenv("RECALL_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile merges a YAML file onto the config. Only keys present in the
// file change; absent keys keep their env/default values.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("config: sqlite backend requires a data directory")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres backend requires RECALL_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.OpenAIAPIKey == "" {
			return fmt.Errorf("config: openai embedding provider requires RECALL_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Chat.Provider {
	case "ollama":
	case "openai":
		if c.Chat.OpenAIAPIKey == "" {
			return fmt.Errorf("config: openai chat provider requires RECALL_OPENAI_API_KEY")
		}
	case "anthropic":
		if c.Chat.AnthropicAPIKey == "" {
			return fmt.Errorf("config: anthropic chat provider requires RECALL_ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown chat provider %q", c.Chat.Provider)
	}

	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

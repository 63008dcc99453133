package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	DefaultPath = "fundlens.yaml"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DataDir   string `yaml:"data_dir"`

	Postgres    PostgresConfig    `yaml:"postgres"`
	Neo4j       Neo4jConfig       `yaml:"neo4j"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	LLM         LLMConfig         `yaml:"llm"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Agent       AgentConfig       `yaml:"agent"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Sources     SourcesConfig     `yaml:"sources"`
	Server      ServerConfig      `yaml:"server"`

	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"-"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type Neo4jConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type VectorStoreConfig struct {
	Backend string `yaml:"backend"`
}

type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	Dimension      int           `yaml:"dimension"`
	BatchSize      int           `yaml:"batch_size"`
	RequestsPerSec float64       `yaml:"requests_per_second"`
	QueryPrefix    string        `yaml:"query_prefix"`
	DocumentPrefix string        `yaml:"document_prefix"`
	CacheDir       string        `yaml:"cache_dir"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type ChunkingConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	Overlap          int `yaml:"overlap"`
	MaxTokens        int `yaml:"max_tokens"`
	MaxTableRows     int `yaml:"max_table_rows"`
	SecondarySize    int `yaml:"secondary_chunk_size"`
	SecondaryOverlap int `yaml:"secondary_overlap"`
}

type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	Timeout          time.Duration `yaml:"timeout"`
	PageSize         int           `yaml:"page_size"`
	ExhaustiveSearch bool          `yaml:"exhaustive_search"`
}

type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxChars       int           `yaml:"max_chars"`
	RequestsPerSec float64       `yaml:"requests_per_second"`
	RenderJS       bool          `yaml:"render_js"`
	UserAgent      string        `yaml:"user_agent"`
}

type SourcesConfig struct {
	TemporaryTTL    time.Duration `yaml:"temporary_ttl"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		DataDir:   "./data",
		Postgres:  PostgresConfig{DSN: "postgres://localhost:5432/fundlens?sslmode=disable"},
		Neo4j: Neo4jConfig{
			URI:      "neo4j://localhost:7687",
			User:     "neo4j",
			Password: "password",
		},
		SQLite:      SQLiteConfig{Path: "./data/memory.db"},
		VectorStore: VectorStoreConfig{Backend: BackendPostgres},
		Embeddings: EmbeddingConfig{
			Provider:       ProviderOllama,
			Model:          "nomic-embed-text",
			Dimension:      768,
			BatchSize:      32,
			RequestsPerSec: 10,
			CacheTTL:       7 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:    ProviderOllama,
			Model:       "llama3.1:8b",
			Temperature: 0.3,
			MaxTokens:   2048,
			Timeout:     120 * time.Second,
		},
		Chunking: ChunkingConfig{
			ChunkSize:        500,
			Overlap:          100,
			MaxTokens:        512,
			MaxTableRows:     20,
			SecondarySize:    500,
			SecondaryOverlap: 50,
		},
		Agent: AgentConfig{
			MaxIterations: 15,
			Timeout:       5 * time.Minute,
			PageSize:      10,
		},
		Fetch: FetchConfig{
			Timeout:        30 * time.Second,
			MaxChars:       15000,
			RequestsPerSec: 2,
			UserAgent:      "Mozilla/5.0 (compatible; fundlens/1.0)",
		},
		Sources: SourcesConfig{
			TemporaryTTL:    24 * time.Hour,
			CleanupSchedule: "@hourly",
		},
		Server:     ServerConfig{Addr: ":8080"},
		OllamaHost: "http://localhost:11434",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a local .env file and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnv("FUNDLENS_CONFIG", DefaultPath)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)

	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Neo4j.Enabled = getEnvBool("NEO4J_ENABLED", cfg.Neo4j.Enabled)
	cfg.Neo4j.URI = getEnv("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = getEnv("NEO4J_USERNAME", cfg.Neo4j.User)
	cfg.Neo4j.Password = getEnv("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.SQLite.Path = getEnv("SQLITE_PATH", cfg.SQLite.Path)
	cfg.VectorStore.Backend = getEnv("VECTOR_BACKEND", cfg.VectorStore.Backend)

	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.CacheDir = getEnv("EMBEDDINGS_CACHE_DIR", cfg.Embeddings.CacheDir)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.Agent.MaxIterations = getEnvInt("AGENT_MAX_ITERATIONS", cfg.Agent.MaxIterations)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)

	cfg.Fetch.RenderJS = getEnvBool("FETCH_RENDER_JS", cfg.Fetch.RenderJS)
	cfg.Server.Addr = getEnv("HTTP_ADDR", cfg.Server.Addr)
}

// Validate rejects settings that would only fail later with a confusing
// symptom. Credentials are checked by the provider constructors.
func (c Config) Validate() error {
	switch c.Embeddings.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embeddings.Provider)
	}
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}
	switch c.VectorStore.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown vector store backend: %q", c.VectorStore.Backend)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Chunking.ChunkSize, c.Chunking.Overlap)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent max iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

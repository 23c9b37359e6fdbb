package askdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the askdoc service.
type Config struct {
	// DBPath is the path to the SQLite database file holding documents,
	// chunks, sessions, and messages. Defaults to askdoc.db in the
	// working directory.
	DBPath string `json:"db_path" yaml:"db_path"`

	Document  DocumentConfig  `json:"document" yaml:"document"`
	Chunking  ChunkingConfig  `json:"chunking" yaml:"chunking"`
	Vector    VectorConfig    `json:"vector" yaml:"vector"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Context   ContextConfig   `json:"context" yaml:"context"`
	RAG       RAGConfig       `json:"rag" yaml:"rag"`
}

// DocumentConfig controls upload handling and file storage.
type DocumentConfig struct {
	StoragePath  string `json:"storage_path" yaml:"storage_path"`
	MaxFileSize  int64  `json:"max_file_size" yaml:"max_file_size"`
	AllowedTypes string `json:"allowed_types" yaml:"allowed_types"` // csv, e.g. "pdf,md,markdown,txt"
}

// AllowedTypeSet returns the allowed file extensions as a lowercase set.
func (c DocumentConfig) AllowedTypeSet() map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Split(c.AllowedTypes, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return set
}

// ChunkingConfig parameterises the recursive character splitter.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
	MinChunkSize int `json:"min_chunk_size" yaml:"min_chunk_size"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Type selects the backend: "memory" (default) or "sqlitevec".
	Type      string          `json:"type" yaml:"type"`
	SQLiteVec SQLiteVecConfig `json:"sqlitevec" yaml:"sqlitevec"`
}

// SQLiteVecConfig configures the sqlite-vec backed vector store.
type SQLiteVecConfig struct {
	Path      string `json:"path" yaml:"path"`
	Dimension int    `json:"dimension" yaml:"dimension"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Type selects the provider: mock, openai, azure, dashscope.
	Type      string                `json:"type" yaml:"type"`
	BatchSize int                   `json:"batch_size" yaml:"batch_size"`
	OpenAI    EmbeddingProviderConf `json:"openai" yaml:"openai"`
	Azure     EmbeddingProviderConf `json:"azure" yaml:"azure"`
	DashScope EmbeddingProviderConf `json:"dashscope" yaml:"dashscope"`
}

// EmbeddingProviderConf holds per-provider embedding credentials.
type EmbeddingProviderConf struct {
	APIKey   string `json:"api_key" yaml:"api_key"`
	Model    string `json:"model" yaml:"model"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LLMConfig configures the primary and fallback chat models.
type LLMConfig struct {
	Primary  ModelConfig `json:"primary" yaml:"primary"`
	Fallback ModelConfig `json:"fallback" yaml:"fallback"`
	Retry    RetryConfig `json:"retry" yaml:"retry"`
}

// ModelConfig configures a single LLM endpoint.
type ModelConfig struct {
	Type       string `json:"type" yaml:"type"`             // mock, openai, azure, dashscope
	APIType    string `json:"api_type" yaml:"api_type"`     // "chat" or "responses"
	APIKey     string `json:"api_key" yaml:"api_key"`
	Model      string `json:"model" yaml:"model"`
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	APIVersion string `json:"api_version" yaml:"api_version"`
	TimeoutMs  int    `json:"timeout" yaml:"timeout"`
	MaxTokens  int    `json:"max_tokens" yaml:"max_tokens"`
}

// RetryConfig controls retry behaviour for non-streaming LLM calls.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	DelayMs     int64   `json:"delay_ms" yaml:"delay_ms"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
}

// ContextConfig controls conversation history handling.
type ContextConfig struct {
	MaxHistoryRounds int `json:"max_history_rounds" yaml:"max_history_rounds"`
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`
	SummaryThreshold int `json:"summary_threshold" yaml:"summary_threshold"`
}

// RAGConfig controls retrieval behaviour.
type RAGConfig struct {
	TopK                       int     `json:"top_k" yaml:"top_k"`
	SimilarityThreshold        float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	ContextualRetrievalEnabled bool    `json:"contextual_retrieval_enabled" yaml:"contextual_retrieval_enabled"`
	SmallDocumentThreshold     int     `json:"small_document_threshold" yaml:"small_document_threshold"`
}

// DefaultConfig returns a Config with development defaults: mock providers,
// in-memory vector store, local file storage.
func DefaultConfig() Config {
	return Config{
		DBPath: "askdoc.db",
		Document: DocumentConfig{
			StoragePath:  "./uploads",
			MaxFileSize:  50 << 20,
			AllowedTypes: "pdf,md,markdown,txt",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
			MinChunkSize: 100,
		},
		Vector: VectorConfig{
			Type: "memory",
			SQLiteVec: SQLiteVecConfig{
				Path:      "askdoc-vec.db",
				Dimension: 1024,
			},
		},
		Embedding: EmbeddingConfig{
			Type:      "mock",
			BatchSize: 16,
			OpenAI:    EmbeddingProviderConf{Model: "text-embedding-3-small"},
			DashScope: EmbeddingProviderConf{Model: "text-embedding-v2"},
			Azure:     EmbeddingProviderConf{Model: "text-embedding-ada-002"},
		},
		LLM: LLMConfig{
			Primary: ModelConfig{
				Type:      "mock",
				APIType:   "chat",
				TimeoutMs: 60000,
				MaxTokens: 2048,
			},
			Fallback: ModelConfig{
				Type:      "none",
				APIType:   "chat",
				TimeoutMs: 60000,
				MaxTokens: 2048,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				DelayMs:     1000,
				Multiplier:  2.0,
			},
		},
		Context: ContextConfig{
			MaxHistoryRounds: 10,
			MaxContextTokens: 4000,
			SummaryThreshold: 6,
		},
		RAG: RAGConfig{
			TopK:                   5,
			SimilarityThreshold:    0.7,
			SmallDocumentThreshold: 10,
		},
	}
}

// LoadConfig reads a config file (JSON or YAML by extension) over the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behaviour.
func (c Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunking.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunking.chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Document.MaxFileSize <= 0 {
		return fmt.Errorf("%w: document.max_file_size must be positive", ErrInvalidConfig)
	}
	switch c.Vector.Type {
	case "", "memory", "sqlitevec":
	default:
		return fmt.Errorf("%w: unknown vector.type %q", ErrInvalidConfig, c.Vector.Type)
	}
	return nil
}

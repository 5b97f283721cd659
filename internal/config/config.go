// Package config provides configuration loading for triaged.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Logging     logging.Config    `koanf:"logging"`
	Analysis    AnalysisConfig    `koanf:"analysis"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Tasks       TasksConfig       `koanf:"tasks"`
}

// AnalysisConfig configures the source tree analyzer.
type AnalysisConfig struct {
	// RootDir is the default tree to analyze.
	RootDir string `koanf:"root_dir"`

	// IgnoreDirs are directory names skipped before recursion.
	IgnoreDirs []string `koanf:"ignore_dirs"`

	// FileExtensions maps extensions to languages (".go" -> "go").
	// Files with unlisted extensions are not analyzed.
	FileExtensions map[string]string `koanf:"file_extensions"`

	// ChunkSize bounds chunk text length in bytes.
	ChunkSize int `koanf:"chunk_size"`

	// MaxFileSize is the per-file size cap; larger files are skipped.
	MaxFileSize int64 `koanf:"max_file_size"`

	// BatchSize is the number of chunks embedded per request batch.
	BatchSize int `koanf:"batch_size"`

	// Parallelism caps concurrent embedding batches.
	Parallelism int `koanf:"parallelism"`
}

// EmbeddingsConfig configures the embedding provider and gateway.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX) or "tei" (HTTP).
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`

	// CacheDir caches downloaded model files (fastembed only).
	CacheDir string `koanf:"cache_dir"`

	// BatchSize bounds texts per provider request.
	BatchSize int `koanf:"batch_size"`

	// MaxConcurrent caps in-flight provider requests.
	MaxConcurrent int `koanf:"max_concurrent"`

	// RequestsPerSecond rate-limits provider requests. Zero disables.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// VectorStoreConfig selects and configures the knowledge store backend.
type VectorStoreConfig struct {
	// Provider is "memory" (in-process, ephemeral) or "qdrant".
	Provider string `koanf:"provider"`

	// Collection is the collection name.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimensionality. Must match the
	// embedding model.
	VectorSize int `koanf:"vector_size"`

	Qdrant QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	UseTLS       bool     `koanf:"use_tls"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// TasksConfig configures the task engine.
type TasksConfig struct {
	// SimilarityThreshold is the minimum score for a result to count
	// as a prior occurrence when weighting priority.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// DuplicateThreshold is the minimum score above which a failure is
	// treated as a recurrence of an existing open task.
	DuplicateThreshold float64 `koanf:"duplicate_threshold"`

	// SearchLimit is the number of similar chunks retrieved per failure.
	SearchLimit int `koanf:"search_limit"`

	// MaxSuggestions caps fix suggestions per triage result.
	MaxSuggestions int `koanf:"max_suggestions"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Analysis.RootDir == "" {
		cfg.Analysis.RootDir = "."
	}
	if len(cfg.Analysis.IgnoreDirs) == 0 {
		cfg.Analysis.IgnoreDirs = []string{
			".git", ".svn", ".hg", "node_modules", "vendor", ".venv", "venv",
			"__pycache__", ".idea", ".vscode", ".cache", "dist", "build", "target",
		}
	}
	if len(cfg.Analysis.FileExtensions) == 0 {
		cfg.Analysis.FileExtensions = map[string]string{
			".go":   "go",
			".py":   "python",
			".js":   "javascript",
			".jsx":  "javascript",
			".ts":   "typescript",
			".tsx":  "typescript",
			".md":   "markdown",
			".json": "json",
			".yml":  "yaml",
			".yaml": "yaml",
			".sh":   "shell",
		}
	}
	if cfg.Analysis.ChunkSize == 0 {
		cfg.Analysis.ChunkSize = 1200
	}
	if cfg.Analysis.MaxFileSize == 0 {
		cfg.Analysis.MaxFileSize = 1024 * 1024 // 1MB
	}
	if cfg.Analysis.BatchSize == 0 {
		cfg.Analysis.BatchSize = 100
	}
	if cfg.Analysis.Parallelism == 0 {
		cfg.Analysis.Parallelism = 4
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}
	if cfg.Embeddings.MaxConcurrent == 0 {
		cfg.Embeddings.MaxConcurrent = 2
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "memory"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "triaged_default"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = Duration(time.Second)
	}

	if cfg.Tasks.SimilarityThreshold == 0 {
		cfg.Tasks.SimilarityThreshold = 0.70
	}
	if cfg.Tasks.DuplicateThreshold == 0 {
		cfg.Tasks.DuplicateThreshold = 0.92
	}
	if cfg.Tasks.SearchLimit == 0 {
		cfg.Tasks.SearchLimit = 5
	}
	if cfg.Tasks.MaxSuggestions == 0 {
		cfg.Tasks.MaxSuggestions = 3
	}
}

// Validate checks the configuration for fatal misconfiguration.
// Validation failures are configuration errors: fatal, never retried.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.Analysis.ChunkSize <= 0 {
		return fmt.Errorf("analysis.chunk_size must be positive, got %d", c.Analysis.ChunkSize)
	}
	if c.Analysis.MaxFileSize <= 0 {
		return fmt.Errorf("analysis.max_file_size must be positive, got %d", c.Analysis.MaxFileSize)
	}
	if c.Analysis.MaxFileSize > 10*1024*1024 {
		return fmt.Errorf("analysis.max_file_size cannot exceed 10MB, got %d", c.Analysis.MaxFileSize)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("embeddings.provider must be fastembed or tei, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url required for tei provider")
	}

	switch c.VectorStore.Provider {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be memory or qdrant, got %q", c.VectorStore.Provider)
	}
	if c.VectorStore.Provider == "qdrant" && c.VectorStore.Qdrant.Host == "" {
		return fmt.Errorf("vectorstore.qdrant.host required for qdrant provider")
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("vectorstore.vector_size must be positive, got %d", c.VectorStore.VectorSize)
	}

	if c.Tasks.DuplicateThreshold <= 0 || c.Tasks.DuplicateThreshold > 1 {
		return fmt.Errorf("tasks.duplicate_threshold must be in (0, 1], got %v", c.Tasks.DuplicateThreshold)
	}
	if c.Tasks.SimilarityThreshold < 0 || c.Tasks.SimilarityThreshold > 1 {
		return fmt.Errorf("tasks.similarity_threshold must be in [0, 1], got %v", c.Tasks.SimilarityThreshold)
	}
	if c.Tasks.SearchLimit <= 0 {
		return fmt.Errorf("tasks.search_limit must be positive, got %d", c.Tasks.SearchLimit)
	}

	return nil
}

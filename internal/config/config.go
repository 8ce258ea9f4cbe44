// Package config loads and validates ragindex configuration.
// Precedence: defaults < YAML file < RAGINDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigName is the per-project configuration file name.
const DefaultConfigName = ".ragindex.yaml"

// Config represents the complete ragindex configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing" json:"indexing"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Watcher   WatcherConfig   `yaml:"watcher" json:"watcher"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// ChunkingConfig bounds chunk sizes in tokens.
type ChunkingConfig struct {
	// MaxTokens is the maximum tokens per chunk.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// MinTokens is the minimum tokens per chunk. The final chunk of a
	// document is exempt.
	MinTokens int `yaml:"min_tokens" json:"min_tokens"`

	// OverlapRatio is the fraction of MaxTokens shared by consecutive
	// windows in fallback chunking (0.0-0.5).
	OverlapRatio float64 `yaml:"overlap_ratio" json:"overlap_ratio"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Provider selects the embedder: "http" or "static".
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the embedding backend base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the embedding model identifier.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding dimension (0 = detect from first response).
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is the maximum texts per backend request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the number of embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexingConfig configures the batch indexing pipeline.
type IndexingConfig struct {
	// BatchSize is the number of documents processed per batch.
	// Kept small so a batch's embeddings fit inside MaxMemoryMB.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxMemoryMB is the resident memory budget for an indexing run.
	MaxMemoryMB int `yaml:"max_memory_mb" json:"max_memory_mb"`

	// MemoryCleanupThreshold is the fraction of MaxMemoryMB that triggers
	// a cleanup pass (0.0-1.0).
	MemoryCleanupThreshold float64 `yaml:"memory_cleanup_threshold" json:"memory_cleanup_threshold"`

	// GCFrequency forces a garbage-collection pass every N batches.
	GCFrequency int `yaml:"gc_frequency" json:"gc_frequency"`

	// MaxConcurrent bounds parallel batch execution.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// MaxAttempts is the retry budget for transient backend failures.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// SemanticWeight is the weight for vector similarity (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// KeywordWeight is the weight for BM25 keyword matching (0.0-1.0).
	// Must sum to 1.0 with SemanticWeight.
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// CandidateMultiplier controls how many candidates each retrieval
	// fetches relative to the requested limit before fusion.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`

	// MaxResults caps the result limit.
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// WatcherConfig configures the continuous indexing monitor.
type WatcherConfig struct {
	// Enabled turns the filesystem watcher on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Debounce is the window for coalescing rapid successive edits.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`

	// QueueSize bounds the pending event queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Chunking: ChunkingConfig{
			MaxTokens:    512,
			MinTokens:    100,
			OverlapRatio: 0.125,
		},
		Embedding: EmbeddingConfig{
			Provider:  "http",
			Endpoint:  "http://localhost:11434",
			Model:     "embeddinggemma",
			BatchSize: 32,
			Timeout:   60 * time.Second,
			CacheSize: 1000,
		},
		Indexing: IndexingConfig{
			BatchSize:              5,
			MaxMemoryMB:            1024,
			MemoryCleanupThreshold: 0.8,
			GCFrequency:            3,
			MaxConcurrent:          2,
			MaxAttempts:            3,
		},
		Search: SearchConfig{
			SemanticWeight:      0.7,
			KeywordWeight:       0.3,
			RRFConstant:         60,
			CandidateMultiplier: 3,
			MaxResults:          100,
		},
		Watcher: WatcherConfig{
			Enabled:   false,
			Debounce:  time.Second,
			QueueSize: 256,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path, applies env overrides, and validates.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies RAGINDEX_* environment variables.
// Env vars have the highest precedence.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGINDEX_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("RAGINDEX_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("RAGINDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.BatchSize = n
		}
	}
	if v := os.Getenv("RAGINDEX_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.MaxMemoryMB = n
		}
	}
	if v := os.Getenv("RAGINDEX_SEMANTIC_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("RAGINDEX_KEYWORD_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.KeywordWeight = f
		}
	}
	if v := os.Getenv("RAGINDEX_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("RAGINDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.MinTokens < 0 || c.Chunking.MinTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.min_tokens must be in [0, max_tokens], got %d", c.Chunking.MinTokens)
	}
	if c.Chunking.OverlapRatio < 0 || c.Chunking.OverlapRatio > 0.5 {
		return fmt.Errorf("chunking.overlap_ratio must be in [0, 0.5], got %g", c.Chunking.OverlapRatio)
	}
	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.MemoryCleanupThreshold <= 0 || c.Indexing.MemoryCleanupThreshold > 1 {
		return fmt.Errorf("indexing.memory_cleanup_threshold must be in (0, 1], got %g", c.Indexing.MemoryCleanupThreshold)
	}
	if c.Indexing.GCFrequency <= 0 {
		return fmt.Errorf("indexing.gc_frequency must be positive, got %d", c.Indexing.GCFrequency)
	}
	sum := c.Search.SemanticWeight + c.Search.KeywordWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("search weights must sum to 1.0, got %g", sum)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Watcher.Debounce < 0 {
		return fmt.Errorf("watcher.debounce must be non-negative")
	}
	return nil
}

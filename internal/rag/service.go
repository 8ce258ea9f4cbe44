// Package rag assembles the indexing and search pipeline behind one facade:
// chunker, embedder, stores, indexer, search engine, and the optional
// continuous indexing monitor.
package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/reynard-dev/ragindex/internal/chunk"
	"github.com/reynard-dev/ragindex/internal/config"
	"github.com/reynard-dev/ragindex/internal/embed"
	ragerr "github.com/reynard-dev/ragindex/internal/errors"
	"github.com/reynard-dev/ragindex/internal/index"
	"github.com/reynard-dev/ragindex/internal/search"
	"github.com/reynard-dev/ragindex/internal/store"
	"github.com/reynard-dev/ragindex/internal/watcher"
)

// Metrics is the operational snapshot exposed to callers.
type Metrics struct {
	WatcherEnabled  bool                   `json:"watcher_enabled"`
	QueueDepth      int                    `json:"queue_depth"`
	IndexerRunning  bool                   `json:"indexer_running"`
	Cache           embed.CacheStats       `json:"cache"`
	VectorCount     int                    `json:"vector_count"`
	KeywordCount    uint64                 `json:"keyword_count"`
	Files           int                    `json:"files"`
	Chunks          int                    `json:"chunks"`
	Progress        index.ProgressSnapshot `json:"progress"`
	EmbeddingModel  string                 `json:"embedding_model"`
	WatcherFailures int                    `json:"watcher_failures"`
}

// Service owns the full pipeline lifecycle. Construct once at process start,
// Close at shutdown.
type Service struct {
	config *config.Config

	embedder   *embed.CachedEmbedder
	vector     *store.HNSWStore
	vectorPath string
	bm25       *store.BleveBM25Index
	metadata   *store.SQLiteMetadataStore
	indexer    *index.Indexer
	engine     *search.Engine
	monitor    *watcher.Monitor
}

// NewService builds the pipeline from configuration. dataDir holds the
// metadata database, the keyword index, and the vector index snapshot; pass
// "" for fully in-memory stores (tests).
func NewService(cfg *config.Config, dataDir string) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	base, err := newBaseEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	embedder := embed.NewCachedEmbedder(base, cfg.Embedding.CacheSize)

	dims := embedder.Dimensions()
	if dims <= 0 {
		dims = embed.DefaultDimensions
	}
	vector, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: dims})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	var bm25Path, metaPath, vectorPath string
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			_ = embedder.Close()
			return nil, ragerr.StorageError("create data directory", err)
		}
		bm25Path = filepath.Join(dataDir, "keyword.bleve")
		metaPath = filepath.Join(dataDir, "metadata.db")
		vectorPath = filepath.Join(dataDir, "vectors.hnsw")
		if err := vector.Load(vectorPath); err != nil {
			_ = embedder.Close()
			return nil, err
		}
	} else {
		metaPath = ":memory:"
	}

	bm25, err := store.NewBleveBM25Index(bm25Path)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	metadata, err := store.NewSQLiteMetadataStore(metaPath)
	if err != nil {
		_ = embedder.Close()
		_ = bm25.Close()
		return nil, err
	}

	chunker := chunk.NewASTChunker(chunk.Options{
		MaxTokens:    cfg.Chunking.MaxTokens,
		MinTokens:    cfg.Chunking.MinTokens,
		OverlapRatio: cfg.Chunking.OverlapRatio,
	})

	indexer, err := index.NewIndexer(chunker, embedder, vector, bm25, metadata, index.Config{
		BatchSize:              cfg.Indexing.BatchSize,
		MaxMemoryMB:            float64(cfg.Indexing.MaxMemoryMB),
		MemoryCleanupThreshold: cfg.Indexing.MemoryCleanupThreshold,
		GCFrequency:            cfg.Indexing.GCFrequency,
		MaxConcurrent:          cfg.Indexing.MaxConcurrent,
		MaxAttempts:            cfg.Indexing.MaxAttempts,
	})
	if err != nil {
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, err
	}

	engine, err := search.NewEngine(vector, bm25, metadata, embedder, search.EngineConfig{
		MaxLimit:            cfg.Search.MaxResults,
		RRFConstant:         cfg.Search.RRFConstant,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		Weights: search.Weights{
			Semantic: cfg.Search.SemanticWeight,
			Keyword:  cfg.Search.KeywordWeight,
		},
	})
	if err != nil {
		_ = embedder.Close()
		_ = bm25.Close()
		_ = metadata.Close()
		return nil, err
	}

	return &Service{
		config:     cfg,
		embedder:   embedder,
		vector:     vector,
		vectorPath: vectorPath,
		bm25:       bm25,
		metadata:   metadata,
		indexer:    indexer,
		engine:     engine,
	}, nil
}

func newBaseEmbedder(cfg config.EmbeddingConfig) (embed.Embedder, error) {
	switch cfg.Provider {
	case "", "http":
		return embed.NewHTTPEmbedder(embed.HTTPConfig{
			Endpoint:   cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.Timeout,
		})
	case "static":
		return embed.NewStaticEmbedder(), nil
	default:
		return nil, ragerr.ValidationError("unknown embedding provider", nil).
			WithDetail("provider", cfg.Provider)
	}
}

// IndexDocuments runs a batch indexing pass. See index.Indexer.IndexDocuments
// for the failure semantics.
func (s *Service) IndexDocuments(ctx context.Context, docs []*chunk.Document, callback index.ProgressCallback, force bool) (*index.Result, error) {
	return s.indexer.IndexDocuments(ctx, docs, callback, force)
}

// RemoveDocument deletes a document from every index.
func (s *Service) RemoveDocument(ctx context.Context, fileID string) error {
	return s.indexer.RemoveDocument(ctx, fileID)
}

// Search executes a query in the given mode.
func (s *Service) Search(ctx context.Context, query string, mode search.Mode, limit int) ([]*search.Result, error) {
	return s.engine.Search(ctx, query, search.Options{Mode: mode, Limit: limit})
}

// StartMonitor begins continuous indexing for root. Only one monitor per
// service.
func (s *Service) StartMonitor(ctx context.Context, root string) error {
	if s.monitor != nil {
		return ragerr.ValidationError("monitor already started", nil)
	}
	fsw := watcher.NewFSWatcher(watcher.Options{
		DebounceWindow: s.config.Watcher.Debounce,
		QueueSize:      s.config.Watcher.QueueSize,
	})
	monitor := watcher.NewMonitor(fsw, s.indexer)
	if err := monitor.Start(ctx, root); err != nil {
		return err
	}
	s.monitor = monitor
	return nil
}

// Progress returns the indexer's progress tracker.
func (s *Service) Progress() *index.Progress {
	return s.indexer.Progress()
}

// Metrics reports the current operational state.
func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	files, chunks, err := s.metadata.Stats(ctx)
	if err != nil {
		return nil, err
	}
	keywordCount, err := s.bm25.Count()
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		WatcherEnabled: s.monitor != nil,
		IndexerRunning: s.indexer.Running(),
		Cache:          s.embedder.Stats(),
		VectorCount:    s.vector.Count(),
		KeywordCount:   keywordCount,
		Files:          files,
		Chunks:         chunks,
		Progress:       s.indexer.Progress().Snapshot(),
		EmbeddingModel: s.embedder.ModelName(),
	}
	if s.monitor != nil {
		m.QueueDepth = s.monitor.QueueDepth()
		_, _, m.WatcherFailures = s.monitor.Stats()
	}
	return m, nil
}

// HealthCheck probes the storage backends.
func (s *Service) HealthCheck(ctx context.Context) *store.Health {
	files, chunks, err := s.metadata.Stats(ctx)
	if err != nil {
		return &store.Health{
			Status:   "unhealthy",
			Metadata: map[string]string{"error": err.Error()},
		}
	}
	return &store.Health{
		Status: "healthy",
		Metadata: map[string]string{
			"files":   strconv.Itoa(files),
			"chunks":  strconv.Itoa(chunks),
			"vectors": strconv.Itoa(s.vector.Count()),
		},
	}
}

// Close tears down the monitor and releases every store.
func (s *Service) Close() error {
	var errs []error

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	// Vectors live in memory between runs; a persistent data directory gets
	// a snapshot on shutdown and reloads it on the next start
	if s.vectorPath != "" {
		if err := s.vector.Save(s.vectorPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.metadata.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

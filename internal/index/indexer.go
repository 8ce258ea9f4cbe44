package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/reynard-dev/ragindex/internal/async"
	"github.com/reynard-dev/ragindex/internal/chunk"
	"github.com/reynard-dev/ragindex/internal/embed"
	ragerr "github.com/reynard-dev/ragindex/internal/errors"
	"github.com/reynard-dev/ragindex/internal/store"
)

// ErrIndexingInProgress is returned when IndexDocuments is called while a
// prior run is still executing. Runs are never interleaved against the same
// progress state.
var ErrIndexingInProgress = ragerr.New(ragerr.ErrCodeInvalidInput,
	"an indexing run is already in progress", nil)

// Config tunes the indexer's batching and backpressure.
type Config struct {
	// BatchSize is the number of documents processed per batch.
	BatchSize int

	// MaxMemoryMB is the hard heap limit for a run.
	MaxMemoryMB float64

	// MemoryCleanupThreshold is the fraction of MaxMemoryMB that triggers a
	// cleanup GC between batches.
	MemoryCleanupThreshold float64

	// GCFrequency forces a GC every N batches.
	GCFrequency int

	// MaxConcurrent bounds how many documents of a batch are processed in
	// parallel. Batches themselves run sequentially to keep memory bounded.
	MaxConcurrent int

	// MaxAttempts bounds retries of transient embedding and store failures
	// per document.
	MaxAttempts int
}

// DefaultConfig returns the standard indexer tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:              5,
		MaxMemoryMB:            1024,
		MemoryCleanupThreshold: 0.8,
		GCFrequency:            3,
		MaxConcurrent:          2,
		MaxAttempts:            3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = def.MaxMemoryMB
	}
	if c.MemoryCleanupThreshold <= 0 || c.MemoryCleanupThreshold > 1 {
		c.MemoryCleanupThreshold = def.MemoryCleanupThreshold
	}
	if c.GCFrequency <= 0 {
		c.GCFrequency = def.GCFrequency
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// Result summarizes one IndexDocuments run.
type Result struct {
	Status         RunStatus       `json:"status"`
	ProcessedFiles int             `json:"processed_files"`
	SkippedFiles   int             `json:"skipped_files"`
	Errors         []DocumentError `json:"errors"`
}

// ProgressCallback receives a progress snapshot after every batch.
type ProgressCallback func(ProgressSnapshot)

// Option configures an Indexer.
type Option func(*Indexer)

// WithMemoryReader replaces the runtime heap reader, used by tests to
// exercise backpressure without real memory pressure.
func WithMemoryReader(r MemoryReader) Option {
	return func(ix *Indexer) {
		ix.memory = r
	}
}

// Indexer drives the write path: chunk, embed, store, in memory-bounded
// batches with per-document error isolation.
type Indexer struct {
	chunker  chunk.Chunker
	embedder embed.Embedder
	vector   store.VectorStore
	bm25     store.BM25Index
	metadata store.MetadataStore
	config   Config
	retry    ragerr.RetryConfig
	memory   MemoryReader

	progress *Progress

	mu      sync.Mutex
	running bool
}

// NewIndexer creates an indexer. All store dependencies are required.
func NewIndexer(
	chunker chunk.Chunker,
	embedder embed.Embedder,
	vector store.VectorStore,
	bm25 store.BM25Index,
	metadata store.MetadataStore,
	cfg Config,
	opts ...Option,
) (*Indexer, error) {
	if chunker == nil {
		return nil, ragerr.ValidationError("chunker is required", nil)
	}
	if embedder == nil {
		return nil, ragerr.ValidationError("embedder is required", nil)
	}
	if vector == nil {
		return nil, ragerr.ValidationError("vector store is required", nil)
	}
	if bm25 == nil {
		return nil, ragerr.ValidationError("BM25 index is required", nil)
	}
	if metadata == nil {
		return nil, ragerr.ValidationError("metadata store is required", nil)
	}

	cfg = cfg.withDefaults()
	retry := ragerr.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxAttempts

	ix := &Indexer{
		chunker:  chunker,
		embedder: embedder,
		vector:   vector,
		bm25:     bm25,
		metadata: metadata,
		config:   cfg,
		retry:    retry,
		memory:   RuntimeMemoryReader,
		progress: NewProgress(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Progress returns the run progress tracker. Snapshots are safe to read
// while a run executes.
func (ix *Indexer) Progress() *Progress {
	return ix.progress
}

// Running reports whether a run is in progress.
func (ix *Indexer) Running() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.running
}

// IndexDocuments chunks, embeds, and stores the documents in batches.
//
// A single document's failure is recorded in the result's Errors and does
// not abort the run; a batch-level failure (store unavailable, memory
// exhausted) aborts remaining batches and yields StatusFailed with partial
// progress preserved. A second call while a run is executing returns
// ErrIndexingInProgress.
//
// With force=false a document whose content hash matches the stored record
// is skipped without any embedding calls; force=true always re-embeds.
func (ix *Indexer) IndexDocuments(ctx context.Context, docs []*chunk.Document, callback ProgressCallback, force bool) (*Result, error) {
	ix.mu.Lock()
	if ix.running {
		ix.mu.Unlock()
		return nil, ErrIndexingInProgress
	}
	ix.running = true
	ix.mu.Unlock()

	defer func() {
		ix.mu.Lock()
		ix.running = false
		ix.mu.Unlock()
	}()

	start := time.Now()
	ix.progress.Reset(len(docs))
	mem := newMemoryManager(ix.memory, ix.config.MaxMemoryMB,
		ix.config.MemoryCleanupThreshold, ix.config.GCFrequency, ix.progress)
	prep := async.NewBatchExecutor[*docPlan](ix.config.MaxConcurrent)
	persist := async.NewBatchExecutor[bool](ix.config.MaxConcurrent)

	status := StatusCompleted
	var runErr error

	for batchNum, offset := 1, 0; offset < len(docs); batchNum, offset = batchNum+1, offset+ix.config.BatchSize {
		end := offset + ix.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[offset:end]

		outcomes, execErr := ix.processBatch(ctx, batch, force, prep, persist)
		if execErr != nil {
			status = StatusFailed
			runErr = execErr
			break
		}

		fatal := false
		for i, out := range outcomes {
			doc := batch[i]
			switch {
			case out.err == nil && out.skipped:
				ix.progress.DocumentSkipped()
			case out.err == nil:
				ix.progress.DocumentProcessed()
			case isBatchFatal(out.err):
				ix.progress.RecordError(docFileID(doc), out.err.Error())
				status = StatusFailed
				runErr = out.err
				fatal = true
			default:
				slog.Warn("document indexing failed",
					slog.String("file_id", docFileID(doc)),
					slog.String("error", out.err.Error()))
				ix.progress.RecordError(docFileID(doc), out.err.Error())
			}
		}
		if fatal {
			break
		}

		if err := mem.afterBatch(batchNum); err != nil {
			status = StatusFailed
			runErr = err
			break
		}

		if callback != nil {
			callback(ix.progress.Snapshot())
		}
	}

	ix.progress.Finish(status)
	snap := ix.progress.Snapshot()

	slog.Info("indexing run finished",
		slog.String("status", string(status)),
		slog.Int("processed", snap.ProcessedFiles),
		slog.Int("skipped", snap.SkippedFiles),
		slog.Int("errors", len(snap.Errors)),
		slog.Duration("elapsed", time.Since(start)))

	result := &Result{
		Status:         status,
		ProcessedFiles: snap.ProcessedFiles,
		SkippedFiles:   snap.SkippedFiles,
		Errors:         snap.Errors,
	}
	return result, runErr
}

// docPlan carries one document through a batch: chunked in the first phase,
// embedded with the rest of the batch in the second, persisted in the third.
type docPlan struct {
	doc     *chunk.Document
	hash    string
	existed bool
	chunks  []*chunk.Chunk
	vectors [][]float32
	skipped bool
}

// docOutcome is the per-document result of a batch.
type docOutcome struct {
	skipped bool
	err     error
}

// processBatch runs the three-phase pipeline over one batch: chunk each
// document in parallel, embed every resulting chunk in a single backend
// call, then persist per document in parallel. The returned error is an
// executor-level failure (context cancelled); everything else is recorded
// per document.
func (ix *Indexer) processBatch(ctx context.Context, batch []*chunk.Document, force bool,
	prep *async.BatchExecutor[*docPlan], persist *async.BatchExecutor[bool]) ([]docOutcome, error) {

	outcomes := make([]docOutcome, len(batch))
	plans := make([]*docPlan, len(batch))

	prepTasks := make([]async.Task[*docPlan], len(batch))
	for i, doc := range batch {
		doc := doc
		prepTasks[i] = func(taskCtx context.Context) (*docPlan, error) {
			return ix.prepareDocument(taskCtx, doc, force)
		}
	}
	prepResults, err := prep.ExecuteBatch(ctx, prepTasks)
	if err != nil {
		return nil, err
	}
	for i, res := range prepResults {
		if res.Err != nil {
			outcomes[i].err = res.Err
			continue
		}
		plans[i] = res.Value
		outcomes[i].skipped = res.Value.skipped
	}

	if err := ix.embedPlans(ctx, plans); err != nil {
		// The batch shares one embedding call, so its failure lands on
		// every document that contributed chunks
		for i, plan := range plans {
			if plan != nil && !plan.skipped && len(plan.chunks) > 0 && outcomes[i].err == nil {
				outcomes[i].err = err
			}
		}
	}

	var persistTasks []async.Task[bool]
	var persistIdx []int
	for i, plan := range plans {
		if plan == nil || plan.skipped || outcomes[i].err != nil {
			continue
		}
		plan := plan
		persistTasks = append(persistTasks, func(taskCtx context.Context) (bool, error) {
			return false, ix.persistDocument(taskCtx, plan)
		})
		persistIdx = append(persistIdx, i)
	}
	if len(persistTasks) > 0 {
		persistResults, err := persist.ExecuteBatch(ctx, persistTasks)
		if err != nil {
			return nil, err
		}
		for j, res := range persistResults {
			if res.Err != nil {
				outcomes[persistIdx[j]].err = res.Err
			}
		}
	}

	return outcomes, nil
}

// prepareDocument hashes and chunks one document. A stored hash match with
// force off marks the plan skipped without chunking.
func (ix *Indexer) prepareDocument(ctx context.Context, doc *chunk.Document, force bool) (*docPlan, error) {
	if doc == nil || doc.FileID == "" {
		return nil, ragerr.ValidationError("document has no file ID", nil)
	}

	hash := contentHash(doc.Content)
	existing, err := ix.metadata.GetFile(ctx, doc.FileID)
	if err != nil {
		return nil, err
	}

	plan := &docPlan{doc: doc, hash: hash, existed: existing != nil}
	if existing != nil && existing.ContentHash == hash && !force {
		plan.skipped = true
		return plan, nil
	}

	chunks, _, err := ix.chunker.Chunk(ctx, doc)
	if err != nil {
		return nil, err
	}
	plan.chunks = chunks
	return plan, nil
}

// embedPlans embeds every chunk of the batch in one backend call, then hands
// each plan its slice of the result.
func (ix *Indexer) embedPlans(ctx context.Context, plans []*docPlan) error {
	var texts []string
	for _, plan := range plans {
		if plan == nil || plan.skipped {
			continue
		}
		for _, c := range plan.chunks {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	embeddings, err := ragerr.RetryWithResult(ctx, ix.retry, func() ([][]float32, error) {
		return ix.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return err
	}

	offset := 0
	for _, plan := range plans {
		if plan == nil || plan.skipped {
			continue
		}
		plan.vectors = embeddings[offset : offset+len(plan.chunks)]
		offset += len(plan.chunks)
	}
	return nil
}

// persistDocument writes one prepared document to all three stores.
func (ix *Indexer) persistDocument(ctx context.Context, plan *docPlan) error {
	// Re-submission supersedes the prior version: the previous full chunk
	// set is removed so a shrunken document leaves no stale rows behind
	if plan.existed {
		if err := ix.removeChunks(ctx, plan.doc.FileID); err != nil {
			return err
		}
	}

	ids := make([]string, len(plan.chunks))
	records := make([]*store.Chunk, len(plan.chunks))
	for i, c := range plan.chunks {
		ids[i] = c.ID
		records[i] = &store.Chunk{
			ID:         c.ID,
			FileID:     c.FileID,
			ChunkIndex: c.Index,
			Content:    c.Text,
			TokenCount: c.TokenCount,
			Symbol:     c.Symbol,
			Metadata:   c.Metadata,
		}
	}

	if len(records) > 0 {
		if err := ragerr.Retry(ctx, ix.retry, func() error {
			return ix.vector.Add(ctx, ids, plan.vectors)
		}); err != nil {
			return err
		}
		if err := ix.bm25.Index(ctx, records); err != nil {
			return err
		}
	}

	file := &store.File{
		FileID:      plan.doc.FileID,
		Path:        plan.doc.Path,
		Language:    plan.doc.Language,
		ContentHash: plan.hash,
		ChunkCount:  len(records),
		IndexedAt:   time.Now().UTC(),
	}
	return ix.metadata.SaveFileWithChunks(ctx, file, records)
}

// RemoveDocument deletes a document's chunks from every index. Unknown file
// IDs are a no-op.
func (ix *Indexer) RemoveDocument(ctx context.Context, fileID string) error {
	if fileID == "" {
		return ragerr.ValidationError("file ID is required", nil)
	}
	return ix.removeChunks(ctx, fileID)
}

// removeChunks deletes the metadata rows first (source of truth), then purges
// the vector and keyword indexes best-effort; orphans there are invisible to
// search once the metadata rows are gone.
func (ix *Indexer) removeChunks(ctx context.Context, fileID string) error {
	ids, err := ix.metadata.DeleteFile(ctx, fileID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := ix.vector.Delete(ctx, ids); err != nil {
		slog.Warn("vector delete failed, orphans remain",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()))
	}
	if err := ix.bm25.Delete(ctx, ids); err != nil {
		slog.Warn("keyword delete failed, orphans remain",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()))
	}
	return nil
}

// isBatchFatal reports whether an error must abort the whole run rather
// than be recorded against a single document.
func isBatchFatal(err error) bool {
	switch ragerr.CodeOf(err) {
	case ragerr.ErrCodeStoreUnavailable, ragerr.ErrCodeStoreClosed, ragerr.ErrCodeMemoryExhausted:
		return true
	}
	return ragerr.IsFatal(err)
}

func docFileID(doc *chunk.Document) string {
	if doc == nil {
		return ""
	}
	return doc.FileID
}

// contentHash fingerprints document content for idempotence checks.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

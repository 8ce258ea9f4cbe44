package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/reynard-dev/ragindex/internal/chunk"
	"github.com/reynard-dev/ragindex/internal/index"
)

// DocumentIndexer is the slice of the indexer the monitor needs.
type DocumentIndexer interface {
	IndexDocuments(ctx context.Context, docs []*chunk.Document, callback index.ProgressCallback, force bool) (*index.Result, error)
	RemoveDocument(ctx context.Context, fileID string) error
}

// Monitor drives continuous indexing: a single consumer loop drains the
// watcher's debounced batches, re-indexing changed files with force=true and
// removing deleted ones.
type Monitor struct {
	watcher *FSWatcher
	indexer DocumentIndexer

	mu        sync.Mutex
	processed int
	removed   int
	failures  int

	done chan struct{}
}

// NewMonitor wires a watcher to an indexer.
func NewMonitor(watcher *FSWatcher, indexer DocumentIndexer) *Monitor {
	return &Monitor{
		watcher: watcher,
		indexer: indexer,
		done:    make(chan struct{}),
	}
}

// Start begins watching root and consuming change batches. Non-blocking.
func (m *Monitor) Start(ctx context.Context, root string) error {
	if err := m.watcher.Start(ctx, root); err != nil {
		return err
	}
	go m.consume(ctx)
	return nil
}

func (m *Monitor) consume(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-m.watcher.Batches():
			if !ok {
				return
			}
			m.handleBatch(ctx, batch)
		}
	}
}

func (m *Monitor) handleBatch(ctx context.Context, batch []FileEvent) {
	var changed []*chunk.Document

	for _, event := range batch {
		switch event.Operation {
		case OpDelete:
			if err := m.indexer.RemoveDocument(ctx, event.Path); err != nil {
				slog.Warn("failed to remove deleted file from index",
					slog.String("path", event.Path),
					slog.String("error", err.Error()))
				m.count(func() { m.failures++ })
				continue
			}
			m.count(func() { m.removed++ })

		case OpCreate, OpModify:
			doc, err := loadDocument(event.Path)
			if err != nil {
				slog.Warn("failed to read changed file",
					slog.String("path", event.Path),
					slog.String("error", err.Error()))
				m.count(func() { m.failures++ })
				continue
			}
			changed = append(changed, doc)
		}
	}

	if len(changed) == 0 {
		return
	}

	// force=true: the file is known to have changed, skip the hash check
	result, err := m.indexer.IndexDocuments(ctx, changed, nil, true)
	if err != nil {
		slog.Warn("continuous re-index failed",
			slog.Int("files", len(changed)),
			slog.String("error", err.Error()))
		m.count(func() { m.failures += len(changed) })
		return
	}
	m.count(func() {
		m.processed += result.ProcessedFiles
		m.failures += len(result.Errors)
	})
}

func (m *Monitor) count(update func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update()
}

// Stats reports how many files the monitor has re-indexed, removed, and
// failed on since start.
func (m *Monitor) Stats() (processed, removed, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed, m.removed, m.failures
}

// QueueDepth reports how many debounced batches are waiting for the
// consumer.
func (m *Monitor) QueueDepth() int {
	return len(m.watcher.Batches())
}

// Stop stops the watcher and waits for the consumer loop to drain.
func (m *Monitor) Stop() error {
	err := m.watcher.Stop()
	<-m.done
	return err
}

// loadDocument reads a file into a Document, using the path as the stable
// file ID.
func loadDocument(path string) (*chunk.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &chunk.Document{
		FileID:   path,
		Path:     path,
		Content:  string(content),
		Language: languageForPath(path),
	}, nil
}

// languageForPath maps a file extension to a chunker language.
func languageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	default:
		return ""
	}
}

// Package index orchestrates the write path: chunking, embedding, and
// storage of documents, with memory-bounded batching and progress tracking.
package index

import (
	"sync"
	"time"
)

// RunStatus is the overall state of an indexing run.
type RunStatus string

const (
	// StatusIdle means no run has started.
	StatusIdle RunStatus = "idle"
	// StatusRunning means a run is in progress.
	StatusRunning RunStatus = "running"
	// StatusCompleted means the run finished; per-document errors may still
	// be recorded.
	StatusCompleted RunStatus = "completed"
	// StatusFailed means a batch-level failure aborted the run.
	StatusFailed RunStatus = "failed"
)

// DocumentError records a single document's failure within a run.
type DocumentError struct {
	FileID  string `json:"file_id"`
	Message string `json:"message"`
}

// ProgressSnapshot is an immutable snapshot of a run's progress.
type ProgressSnapshot struct {
	Status             RunStatus       `json:"status"`
	TotalFiles         int             `json:"total_files"`
	ProcessedFiles     int             `json:"processed_files"`
	SkippedFiles       int             `json:"skipped_files"`
	CurrentMemoryMB    float64         `json:"current_memory_mb"`
	PeakMemoryMB       float64         `json:"peak_memory_mb"`
	ForcedGCCount      int             `json:"forced_gc_count"`
	MemoryCleanupCount int             `json:"memory_cleanup_count"`
	Errors             []DocumentError `json:"errors"`
	ElapsedSeconds     int             `json:"elapsed_seconds"`
}

// Progress tracks one indexing run. Owned exclusively by the indexer for the
// duration of the run and reset at the start of each call.
type Progress struct {
	mu sync.RWMutex

	status             RunStatus
	totalFiles         int
	processedFiles     int
	skippedFiles       int
	currentMemoryMB    float64
	peakMemoryMB       float64
	forcedGCCount      int
	memoryCleanupCount int
	errors             []DocumentError
	startTime          time.Time
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{status: StatusIdle}
}

// Reset clears all counters and marks the run as started.
func (p *Progress) Reset(totalFiles int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusRunning
	p.totalFiles = totalFiles
	p.processedFiles = 0
	p.skippedFiles = 0
	p.currentMemoryMB = 0
	p.peakMemoryMB = 0
	p.forcedGCCount = 0
	p.memoryCleanupCount = 0
	p.errors = nil
	p.startTime = time.Now()
}

// DocumentProcessed increments the processed-file counter.
func (p *Progress) DocumentProcessed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processedFiles++
}

// DocumentSkipped increments the skipped-file counter (unchanged content).
func (p *Progress) DocumentSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skippedFiles++
}

// RecordError appends a per-document error without failing the run.
func (p *Progress) RecordError(fileID, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, DocumentError{FileID: fileID, Message: message})
}

// UpdateMemory records the current heap size, tracking the peak.
func (p *Progress) UpdateMemory(currentMB float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentMemoryMB = currentMB
	if currentMB > p.peakMemoryMB {
		p.peakMemoryMB = currentMB
	}
}

// ForcedGC increments the forced-GC counter.
func (p *Progress) ForcedGC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedGCCount++
}

// MemoryCleanup increments the threshold-triggered cleanup counter.
func (p *Progress) MemoryCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memoryCleanupCount++
}

// Finish sets the terminal status.
func (p *Progress) Finish(status RunStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// Snapshot returns an immutable copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]DocumentError, len(p.errors))
	copy(errs, p.errors)

	var elapsed int
	if !p.startTime.IsZero() {
		elapsed = int(time.Since(p.startTime).Seconds())
	}

	return ProgressSnapshot{
		Status:             p.status,
		TotalFiles:         p.totalFiles,
		ProcessedFiles:     p.processedFiles,
		SkippedFiles:       p.skippedFiles,
		CurrentMemoryMB:    p.currentMemoryMB,
		PeakMemoryMB:       p.peakMemoryMB,
		ForcedGCCount:      p.forcedGCCount,
		MemoryCleanupCount: p.memoryCleanupCount,
		Errors:             errs,
		ElapsedSeconds:     elapsed,
	}
}

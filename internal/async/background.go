package async

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// RunFunc is the indexing work executed by the BackgroundRunner.
type RunFunc func(ctx context.Context) error

// RunnerConfig configures the BackgroundRunner.
type RunnerConfig struct {
	// DataDir holds the run lock file. Created if missing.
	DataDir string
}

// BackgroundRunner executes indexing work in a background goroutine, guarded
// by a file lock so two processes never index the same data directory at
// once.
type BackgroundRunner struct {
	config RunnerConfig

	// Run is the work to execute. Injectable for testing.
	Run RunFunc

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewBackgroundRunner creates a runner for the given data directory.
func NewBackgroundRunner(cfg RunnerConfig) *BackgroundRunner {
	return &BackgroundRunner{
		config: cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// IsRunning reports whether the runner is currently executing.
func (b *BackgroundRunner) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins the work in a background goroutine and returns immediately.
// Use Wait to block until completion. A second Start while running is a
// no-op.
func (b *BackgroundRunner) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundRunner) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		b.fail(ragerr.StorageError("create data directory", err))
		return
	}

	lock := flock.New(filepath.Join(b.config.DataDir, "indexing.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		b.fail(ragerr.StorageError("acquire indexing lock", err))
		return
	}
	if !locked {
		b.fail(ragerr.New(ragerr.ErrCodeStoreUnavailable,
			"another indexing run holds the lock", nil))
		return
	}
	defer func() { _ = lock.Unlock() }()

	if b.Run != nil {
		if err := b.Run(ctx); err != nil {
			b.fail(err)
		}
	}
}

func (b *BackgroundRunner) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Stop signals the runner to stop and waits for it to finish.
func (b *BackgroundRunner) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	close(b.stopCh)
	<-b.doneCh
}

// Wait blocks until the runner completes and returns any error.
func (b *BackgroundRunner) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

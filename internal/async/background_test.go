package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

func TestBackgroundRunner_ExecutesWork(t *testing.T) {
	dir := t.TempDir()
	ran := false

	runner := NewBackgroundRunner(RunnerConfig{DataDir: dir})
	runner.Run = func(ctx context.Context) error {
		ran = true
		return nil
	}

	runner.Start(context.Background())
	require.NoError(t, runner.Wait())
	assert.True(t, ran)
	assert.False(t, runner.IsRunning())

	// Lock file lives in the data directory
	_, err := os.Stat(filepath.Join(dir, "indexing.lock"))
	assert.NoError(t, err)
}

func TestBackgroundRunner_PropagatesWorkError(t *testing.T) {
	boom := errors.New("run failed")

	runner := NewBackgroundRunner(RunnerConfig{DataDir: t.TempDir()})
	runner.Run = func(ctx context.Context) error { return boom }

	runner.Start(context.Background())
	assert.ErrorIs(t, runner.Wait(), boom)
}

func TestBackgroundRunner_LockExcludesSecondRunner(t *testing.T) {
	dir := t.TempDir()
	release := make(chan struct{})

	first := NewBackgroundRunner(RunnerConfig{DataDir: dir})
	first.Run = func(ctx context.Context) error {
		<-release
		return nil
	}
	first.Start(context.Background())

	require.Eventually(t, first.IsRunning, time.Second, time.Millisecond)
	// Give the first runner time to take the lock
	time.Sleep(50 * time.Millisecond)

	second := NewBackgroundRunner(RunnerConfig{DataDir: dir})
	second.Run = func(ctx context.Context) error { return nil }
	second.Start(context.Background())

	err := second.Wait()
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeStoreUnavailable, ragerr.CodeOf(err))

	close(release)
	require.NoError(t, first.Wait())
}

func TestBackgroundRunner_StopCancelsWork(t *testing.T) {
	runner := NewBackgroundRunner(RunnerConfig{DataDir: t.TempDir()})
	runner.Run = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	runner.Start(context.Background())
	require.Eventually(t, runner.IsRunning, time.Second, time.Millisecond)

	runner.Stop()
	assert.ErrorIs(t, runner.Wait(), context.Canceled)
}

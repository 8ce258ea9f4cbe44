package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesClassification(t *testing.T) {
	err := New(ErrCodeBackendTimeout, "backend timed out", nil)

	assert.Equal(t, ErrCodeBackendTimeout, err.Code)
	assert.Equal(t, CategoryBackend, err.Category)
	assert.Equal(t, SeverityError, err.Severity)
	assert.True(t, err.Retryable)
}

func TestNew_FatalCodes(t *testing.T) {
	assert.Equal(t, SeverityFatal, New(ErrCodeMemoryExhausted, "oom", nil).Severity)
	assert.Equal(t, SeverityFatal, New(ErrCodeStoreCorrupt, "corrupt", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeInvalidInput, "bad", nil).Severity)
}

func TestCategoryFromCode(t *testing.T) {
	assert.Equal(t, CategoryConfig, New(ErrCodeConfigNotFound, "", nil).Category)
	assert.Equal(t, CategoryStorage, New(ErrCodeStoreUnavailable, "", nil).Category)
	assert.Equal(t, CategoryValidation, New(ErrCodeDimensionMismatch, "", nil).Category)
	assert.Equal(t, CategoryResource, New(ErrCodeMemoryExhausted, "", nil).Category)
	assert.Equal(t, CategoryInternal, New(ErrCodeInternal, "", nil).Category)
	assert.Equal(t, CategoryInternal, New("bad", "", nil).Category)
}

func TestError_MessageFormat(t *testing.T) {
	err := New(ErrCodeInvalidInput, "file ID is required", nil)
	assert.Equal(t, "[ERR_401_INVALID_INPUT] file ID is required", err.Error())
}

func TestError_UnwrapChain(t *testing.T) {
	cause := errors.New("disk full")
	err := New(ErrCodeStoreUnavailable, "write failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeInvalidInput, "first", nil)
	b := New(ErrCodeInvalidInput, "second", nil)
	c := New(ErrCodeInternal, "other", nil)

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeDimensionMismatch, "mismatch", nil).
		WithDetail("expected", "768").
		WithDetail("got", "256")

	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "256", err.Details["got"])
}

func TestWrap(t *testing.T) {
	cause := errors.New("no such table")
	err := Wrap(ErrCodeStoreCorrupt, cause)

	require.NotNil(t, err)
	assert.Equal(t, ErrCodeStoreCorrupt, err.Code)
	assert.Equal(t, cause.Error(), err.Message)
	assert.ErrorIs(t, err, cause)

	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TransientBackendError("down", nil)))
	assert.True(t, IsRetryable(StorageError("busy", nil)))
	assert.False(t, IsRetryable(ValidationError("bad input", nil)))
	assert.False(t, IsRetryable(ResourceExhaustionError("oom")))
	assert.False(t, IsRetryable(errors.New("plain")))

	// Wrapped in a plain error, classification still resolves
	wrapped := fmt.Errorf("context: %w", TransientBackendError("down", nil))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ResourceExhaustionError("oom")))
	assert.False(t, IsFatal(ValidationError("bad", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(ValidationError("bad", nil)))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

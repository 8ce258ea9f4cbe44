package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// HTTPConfig configures the HTTP embedding backend client.
type HTTPConfig struct {
	// Endpoint is the backend base URL (e.g. http://localhost:11434).
	Endpoint string

	// Model is the embedding model identifier sent with each request.
	Model string

	// Dimensions is the expected embedding dimension (0 = detect from the
	// first response).
	Dimensions int

	// BatchSize is the maximum texts per backend request. Larger inputs
	// are split into multiple requests transparently.
	BatchSize int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// PoolSize bounds idle HTTP connections.
	PoolSize int
}

// HTTPEmbedder generates embeddings through an HTTP backend accepting
// {"model": ..., "texts": [...]} and returning {"embeddings": [[...]]}.
// Transport failures, timeouts, and malformed responses surface as typed
// retryable errors; they are never swallowed.
type HTTPEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*HTTPEmbedder)(nil)

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder creates an HTTP backend embedder.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, ragerr.ValidationError("embedding endpoint is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No client-level timeout; each request carries a context deadline so
	// callers keep cancellation authority.
	return &HTTPEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting oversized inputs into
// BatchSize backend requests. The result is positionally aligned with the
// input regardless of how many requests were made.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ragerr.StorageError("embedder is closed", nil)
	}
	e.mu.RUnlock()

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.requestBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

// requestBatch performs one backend call.
func (e *HTTPEmbedder) requestBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.config.Model, Texts: texts})
	if err != nil {
		return nil, ragerr.InternalError("marshal embed request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	url := e.config.Endpoint + "/api/embed"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.InternalError("create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerr.New(ragerr.ErrCodeBackendTimeout,
			fmt.Sprintf("embedding backend unreachable: %v", err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("embedding backend returned %d: %s", resp.StatusCode, payload)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, ragerr.New(ragerr.ErrCodeBackendResponse, msg, nil)
		}
		return nil, ragerr.TransientBackendError(msg, nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, ragerr.New(ragerr.ErrCodeBackendResponse, "malformed embedding response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, ragerr.New(ragerr.ErrCodeBackendResponse,
			fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors",
				len(texts), len(parsed.Embeddings)), nil)
	}

	vecs := make([][]float32, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		if err := e.checkDimensions(len(v)); err != nil {
			return nil, err
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// checkDimensions validates (and on first use, learns) the vector dimension.
func (e *HTTPEmbedder) checkDimensions(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = got
		return nil
	}
	if got != e.dims {
		return ragerr.New(ragerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", e.dims, got), nil)
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dims == 0 {
		return DefaultDimensions
	}
	return e.dims
}

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string {
	return e.config.Model
}

// Close releases HTTP connections.
func (e *HTTPEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}

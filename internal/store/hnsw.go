package store

import (
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	// Dimensions is the fixed embedding dimension.
	Dimensions int

	// M is the HNSW graph connectivity parameter.
	M int

	// EfSearch is the HNSW search beam width.
	EfSearch int

	// OrphanThreshold is the orphaned-to-live node ratio above which the
	// graph is rebuilt without the orphans.
	OrphanThreshold float64

	// MinOrphanCount is the minimum number of orphaned nodes before a
	// rebuild is considered, so small indexes are not rebuilt over a
	// handful of stale nodes.
	MinOrphanCount int
}

// HNSWStore implements VectorStore on a pure-Go HNSW graph with cosine
// distance. Vectors are L2-normalized on write and on query, so cosine and
// inner product rank identically. String IDs map to monotonically increasing
// internal keys; the key doubles as an insertion-recency stamp used for
// deterministic tie-breaking.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	idMap   map[string]uint64    // chunk ID -> internal key
	keyMap  map[uint64]string    // internal key -> chunk ID
	vectors map[uint64][]float32 // internal key -> normalized vector (live only)
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswSnapshot is the on-disk representation of the store. Only live vectors
// are written, so a saved index carries no orphans.
type hnswSnapshot struct {
	Dimensions int
	IDMap      map[string]uint64
	Vectors    map[uint64][]float32
	NextKey    uint64
}

// NewHNSWStore creates a vector store for the given dimension.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, ragerr.ValidationError("vector store dimensions must be positive", nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if cfg.OrphanThreshold <= 0 {
		cfg.OrphanThreshold = 0.5
	}
	if cfg.MinOrphanCount <= 0 {
		cfg.MinOrphanCount = 1024
	}

	return &HNSWStore{
		graph:   newVectorGraph(cfg),
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[uint64][]float32),
	}, nil
}

// newVectorGraph builds an empty graph with the store's tuning.
func newVectorGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts vectors with their IDs. An existing ID is superseded: the old
// graph node is orphaned (lazy deletion) and a fresh node takes the ID, so
// the replacement also counts as the most recent insertion.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return ragerr.ValidationError("ids and vectors length mismatch", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ragerr.New(ragerr.ErrCodeDimensionMismatch,
				"vector dimension does not match store dimension", nil).
				WithDetail("expected", strconv.Itoa(s.config.Dimensions)).
				WithDetail("got", strconv.Itoa(len(v)))
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: orphan the old key instead of removing the
			// node, which avoids graph corruption on last-node delete
			delete(s.keyMap, existingKey)
			delete(s.vectors, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.vectors[key] = vec
	}

	s.maybeCompact()
	return nil
}

// Search finds the k nearest neighbors of the query vector, ordered by
// similarity descending, ties broken by insertion recency (newest first).
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
	}
	if len(query) != s.config.Dimensions {
		return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
			"query dimension does not match store dimension", nil)
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for orphaned keys from lazy deletion
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(normalized, k+orphans)

	type scored struct {
		result *VectorResult
		key    uint64
	}
	hits := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		hits = append(hits, scored{
			result: &VectorResult{
				ID:       id,
				Distance: distance,
				Score:    cosineDistanceToScore(distance),
			},
			key: node.Key,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].key > hits[j].key
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]*VectorResult, len(hits))
	for i, h := range hits {
		results[i] = h.result
	}
	return results, nil
}

// Delete removes vectors by ID using lazy deletion.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.vectors, key)
			delete(s.idMap, id)
		}
	}

	s.maybeCompact()
	return nil
}

// maybeCompact rebuilds the graph without orphaned nodes once they outnumber
// the configured ratio of live ones. Lazy deletion never removes graph nodes,
// so a long run of re-indexing would otherwise grow the graph and the search
// over-fetch without bound. Caller must hold the write lock.
func (s *HNSWStore) maybeCompact() {
	orphans := s.graph.Len() - len(s.idMap)
	if orphans < s.config.MinOrphanCount {
		return
	}
	if float64(orphans) < s.config.OrphanThreshold*float64(len(s.idMap)) {
		return
	}
	s.rebuildGraph()
}

// rebuildGraph replaces the graph with one holding only live vectors. Keys
// are preserved, so recency tie-breaking survives a rebuild.
func (s *HNSWStore) rebuildGraph() {
	graph := newVectorGraph(s.config)
	for key, vec := range s.vectors {
		graph.Add(hnsw.MakeNode(key, vec))
	}
	s.graph = graph
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the live vectors and ID mappings to path atomically (temp
// file plus rename). Orphans are not written, so a saved index is compact.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ragerr.StorageError("create vector index directory", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return ragerr.StorageError("create vector index file", err)
	}

	snap := hnswSnapshot{
		Dimensions: s.config.Dimensions,
		IDMap:      s.idMap,
		Vectors:    s.vectors,
		NextKey:    s.nextKey,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return ragerr.StorageError("encode vector index", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.StorageError("close vector index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.StorageError("replace vector index file", err)
	}
	return nil
}

// Load restores a saved index, rebuilding the graph from the saved vectors.
// A missing file is a no-op so a fresh data directory starts empty.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
	}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ragerr.StorageError("open vector index file", err)
	}
	defer func() { _ = file.Close() }()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return ragerr.New(ragerr.ErrCodeStoreCorrupt, "decode vector index", err)
	}
	if snap.Dimensions != s.config.Dimensions {
		return ragerr.New(ragerr.ErrCodeDimensionMismatch,
			"saved index dimension does not match store dimension", nil).
			WithDetail("expected", strconv.Itoa(s.config.Dimensions)).
			WithDetail("got", strconv.Itoa(snap.Dimensions))
	}

	s.idMap = snap.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.vectors = snap.Vectors
	if s.vectors == nil {
		s.vectors = make(map[uint64][]float32)
	}
	s.nextKey = snap.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	s.rebuildGraph()
	return nil
}

// Close marks the store closed.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cosineDistanceToScore converts cosine distance (in [0, 2]) to a similarity
// score in [0, 1], higher is better.
func cosineDistanceToScore(distance float32) float32 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
}

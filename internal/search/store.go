package search

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/storage"
)

// DefaultTopK is used when a search asks for zero or fewer results
const DefaultTopK = 5

var (
	ErrInvalidChunk = errors.New("invalid chunk")
	ErrDuplicateID  = errors.New("duplicate chunk id")
)

// SearchResult holds a matching chunk and its score
type SearchResult struct {
	Chunk chunk.Chunk `json:"chunk"`
	Score float64     `json:"score"`
}

// SearchOptions narrows a search. Zero values mean no restriction.
type SearchOptions struct {
	TopK        int
	SourceTypes []chunk.SourceType
	MinScore    float64
}

// Stats summarises the current snapshot
type Stats struct {
	Chunks         int                      `json:"chunks"`
	VocabularySize int                      `json:"vocabulary_size"`
	BySourceType   map[chunk.SourceType]int `json:"by_source_type"`
}

// snapshot is never mutated after it is published
type snapshot struct {
	chunks     []chunk.Chunk
	embeddings [][]float64 // parallel to chunks
	ids        map[string]int
	vectorizer *TermFrequencyVectorizer
}

// VectorStore holds the indexed chunks. Writes are serialised; reads run
// against the last published snapshot without locking.
type VectorStore struct {
	storage     storage.ChunkStorage
	logger      *logrus.Entry
	defaultTopK int

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// Option configures a VectorStore
type Option func(*VectorStore)

func WithDefaultTopK(k int) Option {
	return func(vs *VectorStore) {
		if k > 0 {
			vs.defaultTopK = k
		}
	}
}

// NewVectorStore creates a store and reloads whatever backend holds.
// A nil backend gives a memory-only store. A corrupt snapshot leaves the
// store empty; only other storage errors are returned.
func NewVectorStore(backend storage.ChunkStorage, logger *logrus.Entry, opts ...Option) (*VectorStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	vs := &VectorStore{
		storage:     backend,
		logger:      logger.WithField("component", "vector_store"),
		defaultTopK: DefaultTopK,
	}
	for _, opt := range opts {
		opt(vs)
	}
	vs.current.Store(buildSnapshot(nil))

	if backend == nil {
		return vs, nil
	}

	chunks, err := backend.Load()
	if err != nil {
		if errors.Is(err, storage.ErrCorruptSnapshot) {
			vs.logger.WithError(err).Warn("Discarding corrupt chunk snapshot, starting empty")
			return vs, nil
		}
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return vs, nil
	}

	snap := buildSnapshot(chunks)
	if len(snap.ids) != len(chunks) {
		vs.logger.WithField("duplicates", len(chunks)-len(snap.ids)).Warn("Snapshot contains duplicate chunk ids")
	}
	vs.current.Store(snap)
	vs.logger.WithFields(logrus.Fields{
		"chunks":     len(chunks),
		"vocabulary": snap.vectorizer.Dimension(),
	}).Info("Loaded chunk snapshot")

	return vs, nil
}

// AddChunks appends chunks after the existing ones, rebuilds the vocabulary
// and every embedding, and persists the whole collection. The new state is
// only published once the write succeeded. An empty batch does nothing.
func (vs *VectorStore) AddChunks(chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vs.writeMu.Lock()
	defer vs.writeMu.Unlock()

	cur := vs.current.Load()

	// 1. Validate the batch before touching anything
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidChunk, err)
		}
		if _, exists := cur.ids[c.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		if _, exists := seen[c.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	// 2. Rebuild over old + new
	all := make([]chunk.Chunk, 0, len(cur.chunks)+len(chunks))
	all = append(all, cur.chunks...)
	for _, c := range chunks {
		all = append(all, detach(c))
	}
	next := buildSnapshot(all)

	// 3. Persist, then publish
	if vs.storage != nil {
		if err := vs.storage.Save(all); err != nil {
			return fmt.Errorf("failed to persist chunks: %w", err)
		}
	}
	vs.current.Store(next)

	vs.logger.WithFields(logrus.Fields{
		"added":      len(chunks),
		"chunks":     len(all),
		"vocabulary": next.vectorizer.Dimension(),
	}).Debug("Rebuilt vocabulary and embeddings")

	return nil
}

// Search finds the most similar chunks to the query
func (vs *VectorStore) Search(query string, topK int) []SearchResult {
	return vs.SearchWithOptions(query, SearchOptions{TopK: topK})
}

// SearchWithOptions ranks chunks by cosine similarity to the query. Chunks
// sharing no token with the query are never returned. Equal scores keep
// insertion order.
func (vs *VectorStore) SearchWithOptions(query string, opts SearchOptions) []SearchResult {
	snap := vs.current.Load()
	if len(snap.chunks) == 0 || len(snap.embeddings) == 0 {
		return nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = vs.defaultTopK
	}

	queryVector := snap.vectorizer.Transform(query)
	if IsZero(queryVector) {
		return nil
	}

	var allowed map[chunk.SourceType]bool
	if len(opts.SourceTypes) > 0 {
		allowed = make(map[chunk.SourceType]bool, len(opts.SourceTypes))
		for _, st := range opts.SourceTypes {
			allowed[st] = true
		}
	}

	var results []SearchResult
	for i, c := range snap.chunks {
		if allowed != nil && !allowed[c.SourceType] {
			continue
		}
		score := CosineSimilarity(queryVector, snap.embeddings[i])
		if score <= 0 || score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{
			Chunk: c,
			Score: score,
		})
	}

	// Sort by descending score
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// Chunks returns every stored chunk in append order
func (vs *VectorStore) Chunks() []chunk.Chunk {
	snap := vs.current.Load()
	out := make([]chunk.Chunk, len(snap.chunks))
	copy(out, snap.chunks)
	return out
}

func (vs *VectorStore) Len() int {
	return len(vs.current.Load().chunks)
}

// Vocabulary returns a copy of the current token -> index mapping
func (vs *VectorStore) Vocabulary() map[string]int {
	return maps.Clone(vs.current.Load().vectorizer.Vocabulary)
}

// Embedding returns a copy of the stored vector for the chunk id
func (vs *VectorStore) Embedding(id string) ([]float64, bool) {
	snap := vs.current.Load()
	idx, ok := snap.ids[id]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), snap.embeddings[idx]...), true
}

func (vs *VectorStore) Stats() Stats {
	snap := vs.current.Load()
	stats := Stats{
		Chunks:         len(snap.chunks),
		VocabularySize: snap.vectorizer.Dimension(),
		BySourceType:   make(map[chunk.SourceType]int),
	}
	for _, c := range snap.chunks {
		stats.BySourceType[c.SourceType]++
	}
	return stats
}

func buildSnapshot(chunks []chunk.Chunk) *snapshot {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.ChunkText
	}

	vectorizer := NewTermFrequencyVectorizer()
	vectorizer.Fit(texts)

	snap := &snapshot{
		chunks:     chunks,
		embeddings: make([][]float64, len(chunks)),
		ids:        make(map[string]int, len(chunks)),
		vectorizer: vectorizer,
	}
	for i, c := range chunks {
		snap.embeddings[i] = vectorizer.Transform(c.ChunkText)
		snap.ids[c.ID] = i
	}
	return snap
}

// detach copies the metadata map so later caller mutations cannot reach the snapshot
func detach(c chunk.Chunk) chunk.Chunk {
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	} else {
		c.Metadata = maps.Clone(c.Metadata)
	}
	return c
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// It is 0 when either vector has zero length or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

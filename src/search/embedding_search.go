package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/tools"
)

// Embedder produces vector embeddings for texts. Implementations wrap a
// local model or a remote embedding endpoint; the strategy does not care
// which.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return f(ctx, texts)
}

// EmbeddingSearchStrategy ranks tools by cosine similarity between the query
// embedding and each tool's embedding. Tool embeddings are cached keyed by a
// content hash of (name, description, tags); the cache is dropped per manual
// when the client reports a replacement or removal. Candidates below
// SimilarityThreshold are excluded regardless of limit.
type EmbeddingSearchStrategy struct {
	embedder  Embedder
	threshold float64

	mu           sync.Mutex
	cache        map[string][]float64
	manualHashes map[string]map[string]struct{}
}

// DefaultSimilarityThreshold excludes weak matches from similarity results.
const DefaultSimilarityThreshold = 0.3

// NewEmbeddingSearchStrategy creates a similarity strategy around the given
// embedder. threshold <= 0 selects DefaultSimilarityThreshold.
func NewEmbeddingSearchStrategy(embedder Embedder, threshold float64) *EmbeddingSearchStrategy {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &EmbeddingSearchStrategy{
		embedder:     embedder,
		threshold:    threshold,
		cache:        make(map[string][]float64),
		manualHashes: make(map[string]map[string]struct{}),
	}
}

// ManualChanged implements repository.ManualObserver: cached embeddings of a
// replaced or removed manual are dropped.
func (s *EmbeddingSearchStrategy) ManualChanged(manualName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.manualHashes[manualName] {
		delete(s.cache, h)
	}
	delete(s.manualHashes, manualName)
}

// SearchTools implements Strategy.
func (s *EmbeddingSearchStrategy) SearchTools(ctx context.Context, repo repository.ToolRepository, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error) {
	if limit < 0 {
		return nil, errors.New("limit must be non-negative")
	}
	if s.embedder == nil {
		return nil, errors.New("embedding search requires an embedder")
	}

	all, err := repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}
	var candidates []tools.Tool
	for _, t := range all {
		if t.HasAnyTag(anyOfTagsRequired) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors, err := s.toolVectors(ctx, candidates)
	if err != nil {
		return nil, err
	}

	qvecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(qvecs) != 1 {
		return nil, errors.New("embedder returned no query vector")
	}
	qvec := qvecs[0]

	type scored struct {
		tool tools.Tool
		sim  float64
	}
	var results []scored
	for i, t := range candidates {
		sim := cosine(qvec, vectors[i])
		if sim >= s.threshold {
			results = append(results, scored{tool: t, sim: sim})
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].sim > results[b].sim
	})

	out := make([]tools.Tool, 0, len(results))
	for _, r := range results {
		out = append(out, r.tool)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// toolVectors returns one embedding per candidate, computing and caching the
// ones missing from the cache in a single embedder call.
func (s *EmbeddingSearchStrategy) toolVectors(ctx context.Context, candidates []tools.Tool) ([][]float64, error) {
	hashes := make([]string, len(candidates))
	vectors := make([][]float64, len(candidates))

	var missingIdx []int
	var missingTexts []string

	s.mu.Lock()
	for i, t := range candidates {
		h := contentHash(t)
		hashes[i] = h
		if v, ok := s.cache[h]; ok {
			vectors[i] = v
		} else {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, embeddingText(t))
		}
	}
	s.mu.Unlock()

	if len(missingIdx) > 0 {
		embedded, err := s.embedder.Embed(ctx, missingTexts)
		if err != nil {
			return nil, err
		}
		if len(embedded) != len(missingIdx) {
			return nil, errors.New("embedder returned a mismatched number of vectors")
		}
		s.mu.Lock()
		for j, i := range missingIdx {
			vectors[i] = embedded[j]
			s.cache[hashes[i]] = embedded[j]
			mn := candidates[i].ManualName()
			if s.manualHashes[mn] == nil {
				s.manualHashes[mn] = make(map[string]struct{})
			}
			s.manualHashes[mn][hashes[i]] = struct{}{}
		}
		s.mu.Unlock()
	}
	return vectors, nil
}

// CachedEmbeddings reports the number of cached tool vectors.
func (s *EmbeddingSearchStrategy) CachedEmbeddings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func embeddingText(t tools.Tool) string {
	parts := []string{t.Name, t.Description}
	parts = append(parts, t.Tags...)
	return strings.Join(parts, " ")
}

func contentHash(t tools.Tool) string {
	h := sha256.New()
	h.Write([]byte(t.Name))
	h.Write([]byte{0})
	h.Write([]byte(t.Description))
	for _, tag := range t.Tags {
		h.Write([]byte{0})
		h.Write([]byte(tag))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Package retrieval answers reference lookups for definitional and legal
// questions raised during a negotiation.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
	embedBatch   = 100
	blockPrefix  = "[참고 조항]"
)

// Retriever returns reference text relevant to a query. An empty string
// means nothing relevant was found.
type Retriever interface {
	Search(ctx context.Context, query string, k int) (string, error)
}

// Nop never finds anything.
type Nop struct{}

// Search implements Retriever.
func (Nop) Search(context.Context, string, int) (string, error) { return "", nil }

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type chunk struct {
	source string
	text   string
	vec    []float32
}

// EmbeddingRetriever ranks reference chunks by cosine similarity.
type EmbeddingRetriever struct {
	embedder Embedder
	logger   *slog.Logger

	mu     sync.RWMutex
	chunks []chunk
}

// NewEmbeddingRetriever creates an empty index.
func NewEmbeddingRetriever(embedder Embedder, logger *slog.Logger) *EmbeddingRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingRetriever{embedder: embedder, logger: logger}
}

// LoadDir indexes every .txt and .md file directly under dir. A missing
// directory leaves the index empty.
func (r *EmbeddingRetriever) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("Reference directory not found", "dir", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("read reference dir: %w", err)
	}

	var pending []chunk
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".txt" && ext != ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			r.logger.Warn("Failed to read reference file", "file", e.Name(), "error", err)
			continue
		}
		for _, c := range Chunk(string(data), chunkSize, chunkOverlap) {
			pending = append(pending, chunk{source: e.Name(), text: c})
		}
	}
	return r.add(ctx, pending)
}

// AddTexts indexes raw texts under a source label.
func (r *EmbeddingRetriever) AddTexts(ctx context.Context, source string, texts ...string) (int, error) {
	var pending []chunk
	for _, t := range texts {
		for _, c := range Chunk(t, chunkSize, chunkOverlap) {
			pending = append(pending, chunk{source: source, text: c})
		}
	}
	return r.add(ctx, pending)
}

func (r *EmbeddingRetriever) add(ctx context.Context, pending []chunk) (int, error) {
	for start := 0; start < len(pending); start += embedBatch {
		end := min(start+embedBatch, len(pending))
		texts := make([]string, 0, end-start)
		for _, c := range pending[start:end] {
			texts = append(texts, c.text)
		}
		vecs, err := r.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed reference chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return 0, fmt.Errorf("embed reference chunks: got %d vectors for %d texts", len(vecs), len(texts))
		}
		for i := range vecs {
			pending[start+i].vec = vecs[i]
		}
	}

	r.mu.Lock()
	r.chunks = append(r.chunks, pending...)
	r.mu.Unlock()
	r.logger.Info("Reference index updated", "chunks", len(pending))
	return len(pending), nil
}

// Len returns the number of indexed chunks.
func (r *EmbeddingRetriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// Search implements Retriever.
func (r *EmbeddingRetriever) Search(ctx context.Context, query string, k int) (string, error) {
	if k <= 0 || strings.TrimSpace(query) == "" || r.Len() == 0 {
		return "", nil
	}
	qv, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	type scored struct {
		text  string
		score float64
	}
	r.mu.RLock()
	ranked := make([]scored, 0, len(r.chunks))
	for _, c := range r.chunks {
		ranked = append(ranked, scored{text: c.text, score: cosine(qv, c.vec)})
	}
	r.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	blocks := make([]string, 0, len(ranked))
	for _, s := range ranked {
		blocks = append(blocks, blockPrefix+"\n"+s.text)
	}
	return strings.Join(blocks, "\n\n"), nil
}

// Chunk splits text into windows of size runes overlapping by overlap runes.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	for start := 0; start < len(runes); start += size - overlap {
		end := min(start+size, len(runes))
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			out = append(out, c)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

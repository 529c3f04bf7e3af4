// Package search fuses vector-similarity and normalized full-text rankings
// into a single hybrid ranking.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/store"
)

// Hit is a fused search result. Score is the weighted combination of the
// two rankings' normalized scores; higher is a better match.
type Hit struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"score"`
}

// Engine coordinates the two underlying rankings for hybrid search.
type Engine struct {
	store      store.Store
	oversample int
	logger     *slog.Logger
}

// NewEngine creates a hybrid search engine. oversample multiplies the
// caller's n when fetching each candidate ranking so fusion has enough
// signal; values below 1 fall back to 3.
func NewEngine(s store.Store, oversample int, logger *slog.Logger) *Engine {
	if oversample < 1 {
		oversample = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, oversample: oversample, logger: logger}
}

// Hybrid runs the vector and text rankings in parallel and fuses them as a
// weighted combination of per-ranking normalized scores. queryVec is the
// embedding of query, computed by the caller. The weights are relative
// proportions and need not sum to 1. A memory missing from one ranking
// still reaches the final list when the other ranking's weight dominates.
// Zero fused matches is success, not an error.
func (e *Engine) Hybrid(ctx context.Context, query string, queryVec []float32, n int, textWeight, vectorWeight float64) ([]Hit, error) {
	if n <= 0 {
		n = 10
	}
	if textWeight+vectorWeight <= 0 {
		return nil, fmt.Errorf("at least one of text_weight/vector_weight must be positive")
	}

	pool := n * e.oversample
	if pool < 15 {
		pool = 15
	}

	type vecOut struct {
		hits []store.VectorHit
		err  error
	}
	type textOut struct {
		hits []store.TextHit
		err  error
	}
	vecCh := make(chan vecOut, 1)
	textCh := make(chan textOut, 1)

	go func() {
		hits, err := e.store.VectorSearch(ctx, queryVec, pool)
		vecCh <- vecOut{hits, err}
	}()
	go func() {
		hits, err := e.store.TextSearch(ctx, query, pool)
		textCh <- textOut{hits, err}
	}()

	vec := <-vecCh
	text := <-textCh
	if vec.err != nil {
		return nil, fmt.Errorf("vector ranking: %w", vec.err)
	}
	if text.err != nil {
		return nil, fmt.Errorf("text ranking: %w", text.err)
	}

	e.logger.Debug("hybrid candidates",
		"query", query, "vector", len(vec.hits), "text", len(text.hits))

	return fuse(vec.hits, text.hits, n, textWeight, vectorWeight), nil
}

// Fuzzy passes through to the storage layer's edit-distance search.
func (e *Engine) Fuzzy(ctx context.Context, query string, n int) ([]store.FuzzyHit, error) {
	return e.store.FuzzySearch(ctx, query, n)
}

// fuse merges the two rankings. Each ranking's scores are min-max rescaled
// to [0,1] within the ranking (distance inverted so higher is better), then
// combined as (vw*vnorm + tw*tnorm)/(vw+tw). Candidates absent from one
// ranking contribute 0 on that side.
func fuse(vecHits []store.VectorHit, textHits []store.TextHit, n int, textWeight, vectorWeight float64) []Hit {
	vecScores := make([]float64, len(vecHits))
	for i, h := range vecHits {
		vecScores[i] = -h.Distance // invert: closer is better
	}
	vecNorm := minMaxNormalize(vecScores)

	textScores := make([]float64, len(textHits))
	for i, h := range textHits {
		textScores[i] = h.Score
	}
	textNorm := minMaxNormalize(textScores)

	type entry struct {
		memory model.Memory
		vec    float64
		text   float64
	}
	merged := make(map[string]*entry, len(vecHits)+len(textHits))
	for i, h := range vecHits {
		merged[h.Memory.ID] = &entry{memory: h.Memory, vec: vecNorm[i]}
	}
	for i, h := range textHits {
		if en, ok := merged[h.Memory.ID]; ok {
			en.text = textNorm[i]
		} else {
			merged[h.Memory.ID] = &entry{memory: h.Memory, text: textNorm[i]}
		}
	}

	total := textWeight + vectorWeight
	hits := make([]Hit, 0, len(merged))
	for _, en := range merged {
		hits = append(hits, Hit{
			Memory: en.memory,
			Score:  (vectorWeight*en.vec + textWeight*en.text) / total,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Memory.CreatedAt.Equal(hits[j].Memory.CreatedAt) {
			return hits[i].Memory.CreatedAt.After(hits[j].Memory.CreatedAt)
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

// minMaxNormalize rescales scores to [0,1] within the set. A single-score
// or flat set degenerates to 1.0 for every member.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	out := make([]float64, len(scores))
	spread := hi - lo
	for i, s := range scores {
		if spread == 0 {
			out[i] = 1.0
		} else {
			out[i] = (s - lo) / spread
		}
	}
	return out
}

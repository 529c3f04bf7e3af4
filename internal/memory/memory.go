// Package memory is the facade callers use: connection lifecycle, save,
// and the three retrieval modes, with all lower-level failures translated
// into a stable error taxonomy.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/embedding"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
	"github.com/kioku-ai/kioku/internal/search"
	"github.com/kioku-ai/kioku/internal/store"
)

// SaveParams holds inputs for Save. Importance is validated exactly as
// given; zero is out of range, not "unset". Callers that want the standard
// defaults start from DefaultSaveParams. An empty Emotion means neutral.
type SaveParams struct {
	Content    string
	Importance int
	Emotion    model.Emotion
}

// DefaultSaveParams returns SaveParams carrying the standard defaults:
// importance 3, emotion neutral. Content is left for the caller.
func DefaultSaveParams() SaveParams {
	return SaveParams{
		Importance: model.DefaultImportance,
		Emotion:    model.EmotionNeutral,
	}
}

// healthChecker is implemented by embedders with a liveness endpoint.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Store is the memory facade. It owns the Connected/Disconnected state
// machine; every operation other than Connect requires Connected and fails
// with ErrNotConnected otherwise.
type Store struct {
	cfg      config.Config
	embedder embedding.Embedder
	logger   *slog.Logger

	// openStore builds the storage adapter on Connect. Swappable in tests.
	openStore func(config.Config) (store.Store, error)

	mu     sync.RWMutex
	store  store.Store // nil while disconnected
	engine *search.Engine
	scorer *scoring.Scorer
}

// New creates a disconnected facade talking to the embedding service
// configured in cfg.
func New(cfg config.Config, logger *slog.Logger) *Store {
	return NewWithEmbedder(cfg,
		embedding.NewHTTPEmbedder(cfg.EmbeddingAPIURL, cfg.EmbeddingModel, 0), logger)
}

// NewWithEmbedder creates a disconnected facade with a caller-supplied
// embedder (tests use the deterministic mock).
func NewWithEmbedder(cfg config.Config, e embedding.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:      cfg,
		embedder: e,
		logger:   logger,
		openStore: func(c config.Config) (store.Store, error) {
			return store.NewSQLiteStore(c)
		},
	}
}

// Connect opens the pooled storage connection and prepares the search and
// scoring engines. Calling Connect while connected is a no-op.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return nil
	}

	st, err := s.openStore(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.store = st
	s.engine = search.NewEngine(st, s.cfg.Oversample, s.logger)
	s.scorer = scoring.NewScorer(s.cfg.HalfLifeDays,
		s.cfg.RecencyWeight, s.cfg.EmotionWeight, s.cfg.ImportanceWeight)

	if hc, ok := s.embedder.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			s.logger.Warn("embedding service health check failed", "error", err)
		}
	}
	return nil
}

// Disconnect releases the connection pool. Calling Disconnect while
// disconnected is a no-op.
func (s *Store) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	s.engine = nil
	s.scorer = nil
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Connected reports whether the facade holds an open store.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store != nil
}

func (s *Store) connected() (store.Store, *search.Engine, *scoring.Scorer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, nil, nil, ErrNotConnected
	}
	return s.store, s.engine, s.scorer, nil
}

// Save validates input, obtains the embedding, and atomically persists one
// memory. The returned Memory is fully populated (id, created_at).
func (s *Store) Save(ctx context.Context, p SaveParams) (*model.Memory, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}

	if p.Emotion == "" {
		p.Emotion = model.EmotionNeutral
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if p.Importance < model.MinImportance || p.Importance > model.MaxImportance {
		return nil, fmt.Errorf("%w: importance must be in [%d,%d], got %d",
			ErrValidation, model.MinImportance, model.MaxImportance, p.Importance)
	}
	if !model.ValidEmotions[p.Emotion] {
		return nil, fmt.Errorf("%w: unknown emotion %q", ErrValidation, p.Emotion)
	}

	vec, err := s.embedder.Embed(ctx, p.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	mem, err := st.Insert(ctx, store.InsertParams{
		Content:    p.Content,
		Embedding:  vec,
		Importance: p.Importance,
		Emotion:    p.Emotion,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.logger.Debug("memory saved", "id", mem.ID, "importance", mem.Importance, "emotion", mem.Emotion)
	return mem, nil
}

// Search is pure vector search: up to n memories by ascending semantic
// distance to the query.
func (s *Store) Search(ctx context.Context, query string, n int) ([]store.VectorHit, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	hits, err := st.VectorSearch(ctx, vec, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return hits, nil
}

// SearchWithScoring runs vector search over an oversampled candidate pool,
// re-ranks it with the composite scoring law, and truncates to n.
func (s *Store) SearchWithScoring(ctx context.Context, query string, n int, opts scoring.Options) ([]scoring.ScoredResult, error) {
	st, _, scorer, err := s.connected()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	pool := n * s.cfg.Oversample
	if pool < 15 {
		pool = 15
	}
	hits, err := st.VectorSearch(ctx, vec, pool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return scorer.Rank(hits, n, opts), nil
}

// HybridSearch fuses the vector and normalized text rankings with explicit
// relative weights. Weights both <= 0 take the configured defaults.
func (s *Store) HybridSearch(ctx context.Context, query string, n int, textWeight, vectorWeight float64) ([]search.Hit, error) {
	_, engine, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	if textWeight <= 0 && vectorWeight <= 0 {
		textWeight = s.cfg.TextWeight
		vectorWeight = s.cfg.VectorWeight
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	hits, err := engine.Hybrid(ctx, query, vec, n, textWeight, vectorWeight)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return hits, nil
}

// FuzzySearch is edit-distance text search over unnormalized tokens. Zero
// matches is success: an empty slice.
func (s *Store) FuzzySearch(ctx context.Context, query string, n int) ([]store.FuzzyHit, error) {
	_, engine, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	hits, err := engine.Fuzzy(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return hits, nil
}

// Recall is associative retrieval: a vector search whose returned memories
// are recorded as co-activated pairs, strengthening their association for
// future Coactivated lookups.
func (s *Store) Recall(ctx context.Context, query string, n int) ([]store.VectorHit, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}

	hits, err := s.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if err := st.RecordCoactivation(ctx, hits[i].Memory.ID, hits[j].Memory.ID); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStorage, err)
			}
		}
	}
	return hits, nil
}

// Coactivated returns memories most often recalled together with the given
// memory, strongest association first.
func (s *Store) Coactivated(ctx context.Context, memoryID string, n int) ([]model.Memory, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	mems, err := st.Coactivated(ctx, memoryID, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return mems, nil
}

// BeginEpisode opens a new episode; memories saved afterwards attach to it.
func (s *Store) BeginEpisode(ctx context.Context, title string) (*model.Episode, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	ep, err := st.BeginEpisode(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return ep, nil
}

// Link records a directed weighted association between two memories.
func (s *Store) Link(ctx context.Context, sourceID, targetID string, weight float64) (*model.MemoryLink, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	if weight <= 0 {
		return nil, fmt.Errorf("%w: link weight must be positive, got %v", ErrValidation, weight)
	}
	l, err := st.Link(ctx, sourceID, targetID, weight)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return l, nil
}

// Backdate administratively rewrites a memory's created_at. Intended for
// decay simulation, not normal writes.
func (s *Store) Backdate(ctx context.Context, memoryID string, t time.Time) error {
	st, _, _, err := s.connected()
	if err != nil {
		return err
	}
	if err := st.Backdate(ctx, memoryID, t); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Delete removes a memory permanently.
func (s *Store) Delete(ctx context.Context, memoryID string) error {
	st, _, _, err := s.connected()
	if err != nil {
		return err
	}
	if err := st.Delete(ctx, memoryID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// ExportAll returns every stored memory, oldest first.
func (s *Store) ExportAll(ctx context.Context) ([]model.Memory, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	mems, err := st.ExportAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return mems, nil
}

// Import re-embeds nothing: exported memories carry their vectors.
func (s *Store) Import(ctx context.Context, memories []model.Memory) (int, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return 0, err
	}
	n, err := st.Import(ctx, memories)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n, nil
}

// Stats returns storage statistics.
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	st, _, _, err := s.connected()
	if err != nil {
		return nil, err
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return stats, nil
}

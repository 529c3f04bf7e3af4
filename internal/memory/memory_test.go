package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/embedding"
	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/scoring"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

// newTestStore returns a connected facade backed by the deterministic mock
// embedder and a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithEmbedder(testConfig(t), embedding.NewMock(64), nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func mustSave(t *testing.T, s *Store, content string) *model.Memory {
	t.Helper()
	p := DefaultSaveParams()
	p.Content = content
	m, err := s.Save(context.Background(), p)
	if err != nil {
		t.Fatalf("Save(%q): %v", content, err)
	}
	return m
}

// stubEmbedder returns canned vectors per exact text, standing in for a real
// semantic model in scenarios where the mock's substring similarity is not
// enough.
type stubEmbedder struct {
	vecs map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	v, ok := e.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no canned vector for %q", text)
	}
	return v, nil
}

func (e *stubEmbedder) Dims() int { return 3 }

// failingEmbedder simulates an unreachable embedding service.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) Dims() int { return 0 }

func TestOperationsRequireConnect(t *testing.T) {
	s := NewWithEmbedder(testConfig(t), embedding.NewMock(64), nil)
	ctx := context.Background()

	if _, err := s.Save(ctx, SaveParams{Content: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Save: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Search(ctx, "x", 5); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Search: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.HybridSearch(ctx, "x", 5, 0.3, 0.7); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HybridSearch: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.FuzzySearch(ctx, "x", 5); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FuzzySearch: expected ErrNotConnected, got %v", err)
	}
	if _, err := s.Stats(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Stats: expected ErrNotConnected, got %v", err)
	}
}

func TestConnectDisconnectIdempotent(t *testing.T) {
	s := NewWithEmbedder(testConfig(t), embedding.NewMock(64), nil)
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !s.Connected() {
		t.Error("expected Connected() true")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if s.Connected() {
		t.Error("expected Connected() false")
	}

	if _, err := s.Save(ctx, SaveParams{Content: "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Save after Disconnect: expected ErrNotConnected, got %v", err)
	}
}

func TestDefaultSaveParams(t *testing.T) {
	s := newTestStore(t)

	m := mustSave(t, s, "今日は晴れだった")
	if m.Importance != model.DefaultImportance {
		t.Errorf("expected default importance %d, got %d", model.DefaultImportance, m.Importance)
	}
	if m.Emotion != model.EmotionNeutral {
		t.Errorf("expected neutral emotion, got %v", m.Emotion)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("expected populated id and created_at, got %+v", m)
	}
}

func TestSaveValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    SaveParams
	}{
		{"empty content", SaveParams{Content: "   ", Importance: 3}},
		{"zero importance", SaveParams{Content: "x", Importance: 0}},
		{"importance too high", SaveParams{Content: "x", Importance: 6}},
		{"importance negative", SaveParams{Content: "x", Importance: -1}},
		{"unknown emotion", SaveParams{Content: "x", Importance: 3, Emotion: model.Emotion("melancholy")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Save(ctx, tt.p); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSaveRejectsExplicitZeroImportance(t *testing.T) {
	s := newTestStore(t)

	// Zero is out of range, never promoted to the default.
	_, err := s.Save(context.Background(), SaveParams{Content: "覚えておいて", Importance: 0})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for importance 0, got %v", err)
	}

	all, err := s.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("rejected save must not persist anything, found %d memories", len(all))
	}
}

func TestSaveEmbeddingUnavailable(t *testing.T) {
	s := NewWithEmbedder(testConfig(t), failingEmbedder{}, nil)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	p := DefaultSaveParams()
	p.Content = "x"
	if _, err := s.Save(ctx, p); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if _, err := s.Search(ctx, "x", 5); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("Search: expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestSearchFindsSaved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved := mustSave(t, s, "サーバーの再起動を忘れない")

	hits, err := s.Search(ctx, "サーバーの再起動を忘れない", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ID != saved.ID {
		t.Fatalf("expected the saved memory back, got %v", hits)
	}
	if hits[0].Distance > 1e-5 {
		t.Errorf("identical text should embed identically, distance %v", hits[0].Distance)
	}
}

func TestSearchIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, c := range []string{"一つ目のメモ", "二つ目のメモ", "三つ目のメモ"} {
		mustSave(t, s, c)
	}

	first, err := s.Search(ctx, "メモ", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := s.Search(ctx, "メモ", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Memory.ID != second[i].Memory.ID {
			t.Errorf("order changed at %d: %s vs %s", i, first[i].Memory.ID, second[i].Memory.ID)
		}
	}
}

func TestSearchWithScoringImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Identical content embeds identically, so the semantic distances tie
	// and the composite score discriminates on importance alone.
	low, err := s.Save(ctx, SaveParams{Content: "同じ内容のメモ", Importance: 1})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	high, err := s.Save(ctx, SaveParams{Content: "同じ内容のメモ", Importance: 5})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := s.SearchWithScoring(ctx, "同じ内容のメモ", 2,
		scoring.Options{UseTimeDecay: true, UseEmotionBoost: true})
	if err != nil {
		t.Fatalf("SearchWithScoring: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Memory.ID != high.ID || results[1].Memory.ID != low.ID {
		t.Errorf("expected importance to rank %s first, got %s", high.ID, results[0].Memory.ID)
	}
	if results[0].FinalScore >= results[1].FinalScore {
		t.Errorf("expected strictly lower final score first: %v vs %v",
			results[0].FinalScore, results[1].FinalScore)
	}
}

func TestSearchWithScoringDecay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := mustSave(t, s, "同じ内容のメモ")
	fresh := mustSave(t, s, "同じ内容のメモ")
	if err := s.Backdate(ctx, stale.ID, time.Now().UTC().AddDate(0, 0, -90)); err != nil {
		t.Fatalf("Backdate: %v", err)
	}

	results, err := s.SearchWithScoring(ctx, "同じ内容のメモ", 2, scoring.Options{UseTimeDecay: true})
	if err != nil {
		t.Fatalf("SearchWithScoring: %v", err)
	}
	if results[0].Memory.ID != fresh.ID {
		t.Errorf("expected fresh memory first under decay, got %s", results[0].Memory.ID)
	}
	if results[1].TimeDecayFactor >= results[0].TimeDecayFactor {
		t.Errorf("expected stale decay below fresh: %v vs %v",
			results[1].TimeDecayFactor, results[0].TimeDecayFactor)
	}
}

func TestHybridSearchTextDominant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meeting := mustSave(t, s, "明日の打ち合わせの準備をした")
	mustSave(t, s, "週末は映画を観に行った")

	// Only the meeting memory matches lexically; with text weight dominant
	// it must come first regardless of the mock embedding geometry.
	hits, err := s.HybridSearch(ctx, "打合せ", 5, 0.9, 0.1)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].Memory.ID != meeting.ID {
		t.Errorf("expected lexical match first, got %s", hits[0].Memory.ID)
	}
}

func TestHybridSearchDefaultWeights(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, "データベースの設計")
	hits, err := s.HybridSearch(ctx, "データベース", 5, 0, 0)
	if err != nil {
		t.Fatalf("HybridSearch with default weights: %v", err)
	}
	if len(hits) == 0 {
		t.Error("expected hits with configured default weights")
	}
}

func TestSemanticSearchWithCannedVectors(t *testing.T) {
	ramen := "昼にラーメンを食べた"
	movie := "週末は映画を観に行った"
	query := "夕飯の記録"

	e := &stubEmbedder{vecs: map[string][]float32{
		ramen: {1, 0, 0},
		movie: {0, 1, 0},
		query: {0.95, 0.05, 0},
	}}
	s := NewWithEmbedder(testConfig(t), e, nil)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	saved := mustSave(t, s, ramen)
	mustSave(t, s, movie)

	// The query shares no surface text with either memory; only the vector
	// geometry points at the meal.
	hits, err := s.Search(ctx, query, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ID != saved.ID {
		t.Fatalf("expected semantic neighbor %s, got %v", saved.ID, hits)
	}
}

func TestFuzzySearchFacade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustSave(t, s, "programmingの勉強を始めた")

	hits, err := s.FuzzySearch(ctx, "programing", 5)
	if err != nil {
		t.Fatalf("FuzzySearch: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 fuzzy hit, got %d", len(hits))
	}

	none, err := s.FuzzySearch(ctx, "量子コンピュータ", 5)
	if err != nil {
		t.Fatalf("FuzzySearch: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no fuzzy hits for unrelated query, got %d", len(none))
	}
}

func TestRecallStrengthensCoactivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustSave(t, s, "リリースの準備メモ")
	b := mustSave(t, s, "リリースの手順メモ")

	if _, err := s.Recall(ctx, "リリースのメモ", 10); err != nil {
		t.Fatalf("Recall: %v", err)
	}

	partners, err := s.Coactivated(ctx, a.ID, 10)
	if err != nil {
		t.Fatalf("Coactivated: %v", err)
	}
	if len(partners) != 1 || partners[0].ID != b.ID {
		t.Fatalf("expected %s coactivated with %s, got %v", b.ID, a.ID, partners)
	}
}

func TestLinkValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustSave(t, s, "a")
	b := mustSave(t, s, "b")

	if _, err := s.Link(ctx, a.ID, b.ID, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for non-positive weight, got %v", err)
	}
	if _, err := s.Link(ctx, a.ID, b.ID, 0.8); err != nil {
		t.Errorf("Link: %v", err)
	}
}

func TestDeleteMapsStorageErrors(t *testing.T) {
	s := newTestStore(t)

	if err := s.Delete(context.Background(), "no-such-id"); !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage for unknown id, got %v", err)
	}
}

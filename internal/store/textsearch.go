package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// TextSearch runs the normalized full-text ranking. The query is reduced to
// the same orthographic form as the indexed content, so reading-equivalent
// variants (打合せ vs 打ち合わせ, サーバ vs サーバー) find each other. The
// bm25 rank from FTS5 is negative with more negative meaning better; it is
// folded into a [0,1) score with a tanh mapping so the fusion step sees a
// bounded scale.
func (s *SQLiteStore) TextSearch(ctx context.Context, query string, n int) ([]TextHit, error) {
	if n <= 0 {
		n = 10
	}
	match := matchQuery(query)
	if match == "" {
		return []TextHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.embedding, m.importance, m.emotion, m.episode_id, m.created_at,
		       f.rank
		FROM memories_fts f
		JOIN memories m ON m.id = f.mem_id
		WHERE memories_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, match, n)
	if err != nil {
		if isFTSSyntaxError(err) {
			return []TextHit{}, nil
		}
		return nil, fmt.Errorf("text search: %w", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var h TextHit
		var rank float64
		var blob []byte
		var emotion, createdAt string
		var episodeID sql.NullString
		if err := rows.Scan(&h.Memory.ID, &h.Memory.Content, &blob, &h.Memory.Importance,
			&emotion, &episodeID, &createdAt, &rank); err != nil {
			return nil, err
		}
		h.Memory.Embedding = decodeVector(blob)
		h.Memory.Emotion = model.Emotion(emotion)
		h.Memory.EpisodeID = episodeID.String
		h.Memory.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		h.Score = normalizeRank(rank)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Memory.CreatedAt.Equal(hits[j].Memory.CreatedAt) {
			return hits[i].Memory.CreatedAt.After(hits[j].Memory.CreatedAt)
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if hits == nil {
		hits = []TextHit{}
	}
	return hits, nil
}

// normalizeRank maps an FTS5 bm25 rank (negative, unbounded) to [0,1).
// tanh(|rank|/10): rank -1 → 0.10, -5 → 0.46, -10 → 0.76, -25 → 0.99.
func normalizeRank(rank float64) float64 {
	return math.Tanh(math.Abs(rank) / 10.0)
}

func isFTSSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "fts5")
}

// FuzzySearch scans raw (unnormalized) tokens for candidates within the
// configured edit-distance ratio of a query token. Typos like "programing"
// reach "programming"; reading variants intentionally do not unify here.
// No candidate within the cutoff is an empty result, not an error.
func (s *SQLiteStore) FuzzySearch(ctx context.Context, query string, n int) ([]FuzzyHit, error) {
	if n <= 0 {
		n = 10
	}
	queryTokens := rawTokens(query)
	if len(queryTokens) == 0 {
		return []FuzzyHit{}, nil
	}
	maxRatio := s.cfg.FuzzyMaxDistanceRatio

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, importance, emotion, episode_id, created_at FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("fuzzy search: %w", err)
	}
	defer rows.Close()

	hits := []FuzzyHit{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		best := math.Inf(1)
		for _, ct := range rawTokens(m.Content) {
			for _, qt := range queryTokens {
				if !lengthsComparable(qt, ct, maxRatio) {
					continue
				}
				if r := distanceRatio(qt, ct); r < best {
					best = r
				}
			}
		}
		if best <= maxRatio {
			hits = append(hits, FuzzyHit{Memory: m, DistanceRatio: best})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceRatio != hits[j].DistanceRatio {
			return hits[i].DistanceRatio < hits[j].DistanceRatio
		}
		if !hits[i].Memory.CreatedAt.Equal(hits[j].Memory.CreatedAt) {
			return hits[i].Memory.CreatedAt.After(hits[j].Memory.CreatedAt)
		}
		return hits[i].Memory.ID < hits[j].Memory.ID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// lengthsComparable rejects token pairs whose length difference alone
// already exceeds the ratio cutoff, skipping the DP for hopeless pairs.
func lengthsComparable(a, b string, maxRatio float64) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	longest, diff := la, la-lb
	if lb > la {
		longest, diff = lb, lb-la
	}
	if longest == 0 {
		return false
	}
	return float64(diff)/float64(longest) <= maxRatio
}

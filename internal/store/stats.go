package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath           string         `json:"db_path"`
	DBSizeBytes      int64          `json:"db_size_bytes"`
	Memories         int            `json:"memories"`
	Episodes         int            `json:"episodes"`
	Links            int            `json:"links"`
	CoactivatedPairs int            `json:"coactivated_pairs"`
	EmbeddingDims    int            `json:"embedding_dims"`
	ByEmotion        []EmotionStats `json:"by_emotion"`
}

// EmotionStats holds per-emotion counts.
type EmotionStats struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.cfg.DBPath}

	if info, err := os.Stat(s.cfg.DBPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.Memories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&st.Episodes)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links`).Scan(&st.Links)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coactivation_weights`).Scan(&st.CoactivatedPairs)

	s.mu.Lock()
	st.EmbeddingDims = s.dims
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT emotion, COUNT(*) as cnt
		FROM memories GROUP BY emotion ORDER BY cnt DESC, emotion`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var es EmotionStats
		rows.Scan(&es.Emotion, &es.Count)
		st.ByEmotion = append(st.ByEmotion, es)
	}

	return st, nil
}

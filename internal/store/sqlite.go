package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/kioku-ai/kioku/internal/config"
	"github.com/kioku-ai/kioku/internal/embedding"
	"github.com/kioku-ai/kioku/internal/model"
)

// SQLiteStore implements Store using SQLite for persistence and an HNSW
// graph for nearest-neighbor lookup over the stored embeddings.
type SQLiteStore struct {
	db      *sql.DB
	cfg     config.Config
	entropy *rand.Rand

	mu    sync.Mutex // guards graph, dims, entropy
	graph *hnsw.Graph[string]
	dims  int // embedding dimensionality, pinned by the first vector seen
}

// NewSQLiteStore opens or creates a SQLite database at cfg.DBPath, applies
// migrations, and loads all stored embeddings into the vector index.
// Pool bounds follow cfg.PoolMinSize/PoolMaxSize.
func NewSQLiteStore(cfg config.Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolMaxSize)
	db.SetMaxIdleConns(cfg.PoolMinSize)

	s := &SQLiteStore{
		db:      db,
		cfg:     cfg,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		graph:   hnsw.NewGraph[string](),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.loadVectors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id         TEXT PRIMARY KEY,
		title      TEXT,
		started_at TEXT NOT NULL,
		closed_at  TEXT
	);

	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		importance INTEGER NOT NULL DEFAULT 3,
		emotion    TEXT NOT NULL DEFAULT 'neutral',
		episode_id TEXT REFERENCES episodes(id),
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_episode ON memories(episode_id);

	CREATE TABLE IF NOT EXISTS memory_links (
		source_id  TEXT NOT NULL REFERENCES memories(id),
		target_id  TEXT NOT NULL REFERENCES memories(id),
		weight     REAL NOT NULL DEFAULT 1.0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

	CREATE TABLE IF NOT EXISTS coactivation_weights (
		memory_a_id TEXT NOT NULL REFERENCES memories(id),
		memory_b_id TEXT NOT NULL REFERENCES memories(id),
		weight      INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (memory_a_id, memory_b_id)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		grams,
		mem_id UNINDEXED
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// loadVectors rebuilds the in-memory HNSW graph from persisted embeddings.
func (s *SQLiteStore) loadVectors() error {
	rows, err := s.db.Query(`SELECT id, embedding FROM memories`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec := decodeVector(blob)
		if s.dims == 0 {
			s.dims = len(vec)
		}
		s.graph.Add(hnsw.MakeNode(id, vec))
	}
	return rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, p InsertParams) (*model.Memory, error) {
	episodeID := ""
	if ep, err := s.CurrentEpisode(ctx); err == nil && ep != nil {
		episodeID = ep.ID
	}
	return s.insert(ctx, p, episodeID)
}

// insert persists one memory attached to the given episode id (empty for
// none). Import uses it directly so re-inserted exports stay out of whatever
// episode happens to be open at import time.
func (s *SQLiteStore) insert(ctx context.Context, p InsertParams, episodeID string) (*model.Memory, error) {
	s.mu.Lock()
	if s.dims != 0 && len(p.Embedding) != s.dims {
		s.mu.Unlock()
		return nil, fmt.Errorf("embedding dimension mismatch: store holds %d, got %d", s.dims, len(p.Embedding))
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	id := s.newID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var episodePtr *string
	if episodeID != "" {
		episodePtr = &episodeID
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, embedding, importance, emotion, episode_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, p.Content, encodeVector(p.Embedding), p.Importance, string(p.Emotion),
		episodePtr, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories_fts (grams, mem_id) VALUES (?, ?)`,
		indexText(p.Content), id)
	if err != nil {
		return nil, fmt.Errorf("index memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// The vector joins the index only after the row is durable.
	s.mu.Lock()
	if s.dims == 0 {
		s.dims = len(p.Embedding)
	}
	s.graph.Add(hnsw.MakeNode(id, p.Embedding))
	s.mu.Unlock()

	return &model.Memory{
		ID:         id,
		Content:    p.Content,
		Embedding:  p.Embedding,
		Importance: p.Importance,
		Emotion:    p.Emotion,
		EpisodeID:  episodeID,
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, query []float32, n int) ([]VectorHit, error) {
	if n <= 0 {
		n = 10
	}

	s.mu.Lock()
	if s.dims != 0 && len(query) != s.dims {
		s.mu.Unlock()
		return nil, fmt.Errorf("query dimension mismatch: store holds %d, got %d", s.dims, len(query))
	}
	// Overfetch to survive lazily deleted graph nodes whose rows are gone.
	neighbors := s.graph.Search(query, n+deleteSlack)
	s.mu.Unlock()

	if len(neighbors) == 0 {
		return []VectorHit{}, nil
	}

	distances := make(map[string]float64, len(neighbors))
	ids := make([]string, 0, len(neighbors))
	for _, node := range neighbors {
		ids = append(ids, node.Key)
		distances[node.Key] = embedding.CosineDistance(query, node.Value)
	}

	memories, err := s.memoriesByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]VectorHit, 0, len(memories))
	for _, m := range memories {
		hits = append(hits, VectorHit{Memory: m, Distance: distances[m.ID]})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
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

// deleteSlack is how many extra neighbors VectorSearch requests from the
// graph to compensate for deleted memories still present as graph nodes.
const deleteSlack = 8

func (s *SQLiteStore) BeginEpisode(ctx context.Context, title string) (*model.Episode, error) {
	now := time.Now().UTC()
	id := s.newID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// A session boundary closes whatever episode was open.
	_, err = tx.ExecContext(ctx,
		`UPDATE episodes SET closed_at = ? WHERE closed_at IS NULL`, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("close episodes: %w", err)
	}

	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO episodes (id, title, started_at) VALUES (?, ?, ?)`,
		id, titlePtr, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Episode{ID: id, Title: title, StartedAt: now}, nil
}

func (s *SQLiteStore) CurrentEpisode(ctx context.Context) (*model.Episode, error) {
	var ep model.Episode
	var title sql.NullString
	var started string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, started_at FROM episodes WHERE closed_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`).Scan(&ep.ID, &title, &started)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ep.Title = title.String
	ep.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	return &ep, nil
}

func (s *SQLiteStore) Link(ctx context.Context, sourceID, targetID string, weight float64) (*model.MemoryLink, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_links (source_id, target_id, weight, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id, target_id) DO UPDATE SET weight = excluded.weight`,
		sourceID, targetID, weight, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	return &model.MemoryLink{SourceID: sourceID, TargetID: targetID, Weight: weight, CreatedAt: now}, nil
}

func (s *SQLiteStore) LinksFrom(ctx context.Context, memoryID string) ([]model.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, weight, created_at FROM memory_links
		 WHERE source_id = ? ORDER BY weight DESC, target_id`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []model.MemoryLink
	for rows.Next() {
		var l model.MemoryLink
		var created string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &l.Weight, &created); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		links = append(links, l)
	}
	return links, rows.Err()
}

// RecordCoactivation bumps the co-recall counter for a pair with a single
// atomic upsert; concurrent recalls never lose increments.
func (s *SQLiteStore) RecordCoactivation(ctx context.Context, memoryA, memoryB string) error {
	if memoryA == memoryB {
		return nil
	}
	if memoryB < memoryA {
		memoryA, memoryB = memoryB, memoryA
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coactivation_weights (memory_a_id, memory_b_id, weight)
		 VALUES (?, ?, 1)
		 ON CONFLICT (memory_a_id, memory_b_id) DO UPDATE SET weight = weight + 1`,
		memoryA, memoryB)
	if err != nil {
		return fmt.Errorf("record coactivation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Coactivated(ctx context.Context, memoryID string, n int) ([]model.Memory, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.embedding, m.importance, m.emotion, m.episode_id, m.created_at
		FROM coactivation_weights c
		JOIN memories m ON m.id = CASE WHEN c.memory_a_id = ? THEN c.memory_b_id ELSE c.memory_a_id END
		WHERE c.memory_a_id = ? OR c.memory_b_id = ?
		ORDER BY c.weight DESC, m.created_at DESC, m.id
		LIMIT ?`, memoryID, memoryID, memoryID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) Backdate(ctx context.Context, memoryID string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET created_at = ? WHERE id = ?`,
		t.UTC().Format(timeLayout), memoryID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("memory not found: %s", memoryID)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, memoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_links WHERE source_id = ? OR target_id = ?`, memoryID, memoryID); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM coactivation_weights WHERE memory_a_id = ? OR memory_b_id = ?`, memoryID, memoryID); err != nil {
		return fmt.Errorf("delete coactivations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memories_fts WHERE mem_id = ?`, memoryID); err != nil {
		return fmt.Errorf("delete text index row: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, memoryID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("memory not found: %s", memoryID)
	}
	// The graph node stays behind; VectorSearch drops ids with no row.
	return tx.Commit()
}

func (s *SQLiteStore) ExportAll(ctx context.Context) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, importance, emotion, episode_id, created_at
		 FROM memories ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Import re-inserts exported memories, keeping importance, emotion, and
// created_at. Memories whose id already exists are skipped. Imported rows
// never attach to the currently open episode.
func (s *SQLiteStore) Import(ctx context.Context, memories []model.Memory) (int, error) {
	imported := 0
	for _, m := range memories {
		var exists int
		s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = ?`, m.ID).Scan(&exists)
		if exists > 0 {
			continue
		}

		ins, err := s.insert(ctx, InsertParams{
			Content:    m.Content,
			Embedding:  m.Embedding,
			Importance: m.Importance,
			Emotion:    m.Emotion,
		}, "")
		if err != nil {
			return imported, err
		}
		if !m.CreatedAt.IsZero() {
			if err := s.Backdate(ctx, ins.ID, m.CreatedAt); err != nil {
				return imported, err
			}
		}
		imported++
	}
	return imported, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// memoriesByID fetches rows for the given ids; missing ids are skipped.
func (s *SQLiteStore) memoriesByID(ctx context.Context, ids []string) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, importance, emotion, episode_id, created_at
		 FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var blob []byte
	var emotion, createdAt string
	var episodeID sql.NullString

	err := row.Scan(&m.ID, &m.Content, &blob, &m.Importance, &emotion, &episodeID, &createdAt)
	if err != nil {
		return m, err
	}
	m.Embedding = decodeVector(blob)
	m.Emotion = model.Emotion(emotion)
	m.EpisodeID = episodeID.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]model.Memory, error) {
	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing fractional zeros, and a trimmed whole-second value ("...05Z")
// sorts lexicographically after any sub-second value in the same second,
// which would corrupt SQL-side ORDER BY created_at.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Embeddings are persisted as little-endian float32 blobs.

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

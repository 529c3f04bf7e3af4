// Package store provides the memory storage interface and SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
)

// InsertParams holds parameters for inserting a memory. The caller is
// responsible for input validation and for producing the embedding.
type InsertParams struct {
	Content    string
	Embedding  []float32
	Importance int
	Emotion    model.Emotion
}

// VectorHit is a vector search result. Distance is cosine distance:
// non-negative, 0 means identical, ascending order is closest-first.
type VectorHit struct {
	Memory   model.Memory `json:"memory"`
	Distance float64      `json:"distance"`
}

// TextHit is a normalized full-text search result. Score is in [0,1),
// higher is a better match.
type TextHit struct {
	Memory model.Memory `json:"memory"`
	Score  float64      `json:"score"`
}

// FuzzyHit is an edit-distance search result. DistanceRatio is the best
// token edit distance divided by token length; lower is closer.
type FuzzyHit struct {
	Memory        model.Memory `json:"memory"`
	DistanceRatio float64      `json:"distance_ratio"`
}

// Store is the storage adapter the memory facade talks to. SQLiteStore is
// the concrete engine; tests may substitute a fake.
type Store interface {
	// Insert atomically persists one memory and returns it fully populated
	// (generated id, created_at). No partial write is ever visible.
	Insert(ctx context.Context, p InsertParams) (*model.Memory, error)

	// VectorSearch returns up to n memories by ascending cosine distance
	// to the query embedding.
	VectorSearch(ctx context.Context, query []float32, n int) ([]VectorHit, error)

	// TextSearch returns up to n memories by descending normalized
	// full-text match score. Reading-equivalent orthographic variants of
	// the query match each other.
	TextSearch(ctx context.Context, query string, n int) ([]TextHit, error)

	// FuzzySearch returns up to n memories whose unnormalized tokens are
	// within the edit-distance ratio cutoff of a query token. No match is
	// an empty slice, never an error.
	FuzzySearch(ctx context.Context, query string, n int) ([]FuzzyHit, error)

	// BeginEpisode opens a new episode; subsequent inserts attach to it.
	BeginEpisode(ctx context.Context, title string) (*model.Episode, error)

	// CurrentEpisode returns the open episode, or nil when none is open.
	CurrentEpisode(ctx context.Context) (*model.Episode, error)

	// Link upserts a directed weighted association between two memories.
	Link(ctx context.Context, sourceID, targetID string, weight float64) (*model.MemoryLink, error)

	// LinksFrom returns all links whose source is the given memory.
	LinksFrom(ctx context.Context, memoryID string) ([]model.MemoryLink, error)

	// RecordCoactivation atomically increments the co-recall counter for a
	// pair of memories. Safe under concurrent recall.
	RecordCoactivation(ctx context.Context, memoryA, memoryB string) error

	// Coactivated returns up to n memories most often co-recalled with the
	// given memory, strongest first.
	Coactivated(ctx context.Context, memoryID string, n int) ([]model.Memory, error)

	// Backdate is an administrative mutation of created_at, used for decay
	// simulation. Not part of any normal write path.
	Backdate(ctx context.Context, memoryID string, t time.Time) error

	// Delete removes a memory and its index entries permanently.
	Delete(ctx context.Context, memoryID string) error

	// ExportAll returns every memory, oldest first.
	ExportAll(ctx context.Context) ([]model.Memory, error)

	// Import re-inserts exported memories, preserving content and metadata.
	Import(ctx context.Context, memories []model.Memory) (int, error)

	// Stats returns database statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the connection pool.
	Close() error
}

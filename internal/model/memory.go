// Package model defines the core memory data types.
package model

import "time"

// Emotion is a categorical tag describing the affect attached to a memory.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionHappy     Emotion = "happy"
	EmotionExcited   Emotion = "excited"
	EmotionSurprised Emotion = "surprised"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionFearful   Emotion = "fearful"
)

// ValidEmotions are the allowed emotion tags.
var ValidEmotions = map[Emotion]bool{
	EmotionNeutral:   true,
	EmotionHappy:     true,
	EmotionExcited:   true,
	EmotionSurprised: true,
	EmotionSad:       true,
	EmotionAngry:     true,
	EmotionFearful:   true,
}

// Importance bounds. DefaultImportance is the mid-scale default applied
// when the caller does not supply one.
const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = 3
)

// Memory represents a stored memory entry.
type Memory struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Importance int       `json:"importance"`
	Emotion    Emotion   `json:"emotion"`
	EpisodeID  string    `json:"episode_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Episode groups memories recorded within one session.
type Episode struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// MemoryLink is a directed, weighted association between two memories.
type MemoryLink struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Coactivation counts how often two memories were recalled together.
// The pair is stored with MemoryA < MemoryB so each pair has one row.
type Coactivation struct {
	MemoryA string `json:"memory_a_id"`
	MemoryB string `json:"memory_b_id"`
	Weight  int    `json:"weight"`
}

// Package scoring re-ranks vector-search candidates by a composite of
// semantic distance, time decay, emotional salience, and importance.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/kioku-ai/kioku/internal/model"
	"github.com/kioku-ai/kioku/internal/store"
)

// ScoredResult carries a memory with every component of its final score.
// FinalScore follows the "lower is better" convention: more similar,
// fresher, more important or emotional memories score lower and sort first.
type ScoredResult struct {
	Memory           model.Memory `json:"memory"`
	SemanticDistance float64      `json:"semantic_distance"`
	TimeDecayFactor  float64      `json:"time_decay_factor"`
	EmotionBoost     float64      `json:"emotion_boost"`
	ImportanceBoost  float64      `json:"importance_boost"`
	FinalScore       float64      `json:"final_score"`
}

// Default re-ranking weights.
const (
	DefaultRecencyWeight    = 0.3
	DefaultEmotionWeight    = 0.2
	DefaultImportanceWeight = 0.2
)

// emotionBoosts maps each emotion tag to its salience boost. Importance
// boosts share the same 0..0.4 scale.
var emotionBoosts = map[model.Emotion]float64{
	model.EmotionNeutral:   0.0,
	model.EmotionSad:       0.2,
	model.EmotionAngry:     0.2,
	model.EmotionFearful:   0.2,
	model.EmotionHappy:     0.3,
	model.EmotionSurprised: 0.3,
	model.EmotionExcited:   0.4,
}

// EmotionBoost returns the salience boost for an emotion tag. Unknown tags
// score like neutral.
func EmotionBoost(e model.Emotion) float64 {
	return emotionBoosts[e]
}

// ImportanceBoost maps importance in [1,5] onto the emotion-boost scale.
func ImportanceBoost(importance int) float64 {
	return float64(importance) / float64(model.MaxImportance) * 0.4
}

// Options toggles scoring components for one query.
type Options struct {
	UseTimeDecay    bool
	UseEmotionBoost bool
}

// Scorer converts vector-search candidate pools into final rankings.
type Scorer struct {
	halfLife         time.Duration
	recencyWeight    float64
	emotionWeight    float64
	importanceWeight float64
	now              func() time.Time
}

// NewScorer creates a scorer with the given decay half-life. Non-positive
// weights fall back to the defaults.
func NewScorer(halfLifeDays, recencyWeight, emotionWeight, importanceWeight float64) *Scorer {
	if recencyWeight <= 0 {
		recencyWeight = DefaultRecencyWeight
	}
	if emotionWeight <= 0 {
		emotionWeight = DefaultEmotionWeight
	}
	if importanceWeight <= 0 {
		importanceWeight = DefaultImportanceWeight
	}
	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	return &Scorer{
		halfLife:         time.Duration(halfLifeDays * 24 * float64(time.Hour)),
		recencyWeight:    recencyWeight,
		emotionWeight:    emotionWeight,
		importanceWeight: importanceWeight,
		now:              time.Now,
	}
}

// TimeDecayFactor is exp(-ln2 * age / halfLife): 1.0 at creation, 0.5 after
// one half-life, approaching but never reaching 0.
func (s *Scorer) TimeDecayFactor(createdAt time.Time) float64 {
	age := s.now().Sub(createdAt)
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(s.halfLife))
}

// Score computes every component and the final composite for one candidate.
func (s *Scorer) Score(hit store.VectorHit, opts Options) ScoredResult {
	r := ScoredResult{
		Memory:           hit.Memory,
		SemanticDistance: hit.Distance,
		TimeDecayFactor:  1.0,
		ImportanceBoost:  ImportanceBoost(hit.Memory.Importance),
	}
	if opts.UseTimeDecay {
		r.TimeDecayFactor = s.TimeDecayFactor(hit.Memory.CreatedAt)
	}
	if opts.UseEmotionBoost {
		r.EmotionBoost = EmotionBoost(hit.Memory.Emotion)
	}

	// Distance is penalized by staleness and discounted by salience and
	// importance. Lower final score is better; the sign convention is
	// load-bearing for every ranking comparison downstream.
	r.FinalScore = r.SemanticDistance +
		(1-r.TimeDecayFactor)*s.recencyWeight -
		(r.EmotionBoost*s.emotionWeight + r.ImportanceBoost*s.importanceWeight)
	return r
}

// Rank scores a candidate pool, sorts ascending by final score (ties:
// created_at descending, then id ascending), and truncates to n.
func (s *Scorer) Rank(hits []store.VectorHit, n int, opts Options) []ScoredResult {
	results := make([]ScoredResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, s.Score(h, opts))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore < results[j].FinalScore
		}
		if !results[i].Memory.CreatedAt.Equal(results[j].Memory.CreatedAt) {
			return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results
}

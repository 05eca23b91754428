package novelty

import (
	"context"
	"fmt"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
)

// #region interfaces

// Retriever is the slice of the knowledge store the scorer needs.
type Retriever interface {
	Retrieve(ctx context.Context, key string, topK int) ([]knowledge.MemoryRecord, error)
}

// Scorer rates how unlike existing knowledge a stored record is, in [0, 1].
type Scorer interface {
	Score(ctx context.Context, key string) (float32, error)
}

// #endregion interfaces

// #region retrieval-scorer

// RetrievalScorer scores novelty as the inverse of the best retrieval match.
// An empty neighbourhood is maximally novel.
type RetrievalScorer struct {
	store Retriever
}

// NewRetrievalScorer creates a scorer backed by store.
func NewRetrievalScorer(store Retriever) *RetrievalScorer {
	return &RetrievalScorer{store: store}
}

func (s *RetrievalScorer) Score(ctx context.Context, key string) (float32, error) {
	neighbours, err := s.store.Retrieve(ctx, key, 1)
	if err != nil {
		return 0, fmt.Errorf("novelty %s: %w", key, err)
	}
	return Inverse(neighbours), nil
}

// Inverse returns 1 - max(score) over records, clamped to [0, 1].
func Inverse(records []knowledge.MemoryRecord) float32 {
	if len(records) == 0 {
		return 1
	}
	var maxScore float32
	for _, r := range records {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	return clamp(1 - maxScore)
}

// #endregion retrieval-scorer

// #region fixed

// Fixed always returns the same score. Used by replay fixtures that pin novelty.
type Fixed float32

func (f Fixed) Score(context.Context, string) (float32, error) {
	return clamp(float32(f)), nil
}

// #endregion fixed

// #region helpers

// clamp restricts v to [0, 1].
func clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers

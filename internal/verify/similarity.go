package verify

import (
	"fmt"
	"math"
)

// DefaultSimilarityThreshold is the cosine-similarity cutoff used when the
// caller does not configure one.
const DefaultSimilarityThreshold = 0.65

// MatchResult is the outcome of a biometric comparison. The raw score is
// always populated so callers can persist it and show near-misses to users.
type MatchResult struct {
	Match     bool    `json:"match"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
}

// Similarity compares a freshly captured feature vector against a stored
// reference vector using cosine similarity and returns whether the score
// clears the threshold. Vectors of mismatched length are rejected before
// any arithmetic. A zero-magnitude vector on either side scores 0 and
// never matches.
func Similarity(probe, reference []float64, threshold float64) (MatchResult, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if len(probe) == 0 || len(reference) == 0 {
		return MatchResult{}, fmt.Errorf("similarity: empty vector")
	}
	if len(probe) != len(reference) {
		return MatchResult{}, fmt.Errorf("similarity: dimension mismatch: %d vs %d", len(probe), len(reference))
	}

	var dot, normA, normB float64
	for i := range probe {
		dot += probe[i] * reference[i]
		normA += probe[i] * probe[i]
		normB += reference[i] * reference[i]
	}
	if normA == 0 || normB == 0 {
		return MatchResult{Match: false, Score: 0, Threshold: threshold}, nil
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return MatchResult{
		Match:     score >= threshold,
		Score:     score,
		Threshold: threshold,
	}, nil
}

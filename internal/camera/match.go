package camera

import (
	"math"

	"github.com/argushq/argus/internal/store"
)

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// bestMatch returns the known person whose embedding is most similar to
// embedding, with the similarity score. ok is false when people is empty.
func bestMatch(people []store.Person, embedding []float64) (best store.Person, score float64, ok bool) {
	for _, p := range people {
		if s := CosineSimilarity(p.Embedding, embedding); !ok || s > score {
			best, score, ok = p, s, true
		}
	}
	return best, score, ok
}

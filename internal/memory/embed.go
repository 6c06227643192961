package memory

import (
	"hash/fnv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Embedder encodes note text into the store's vector space.
type Embedder interface {
	Embed(text string) []float64
	Dim() int
}

// HashEmbedder is a deterministic local encoder using signed feature hashing
// over word tokens and character trigrams. It needs no model files or network
// calls, so every store backend stays self-contained; similar Hinglish
// phrasings still land near each other through the shared trigram features.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dim() int { return e.dim }

func (e *HashEmbedder) Embed(text string) []float64 {
	vec := make([]float64, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		e.addFeature(vec, tok, 1.0)
		runes := []rune(tok)
		for i := 0; i+3 <= len(runes); i++ {
			e.addFeature(vec, string(runes[i:i+3]), 0.5)
		}
	}
	if norm := floats.Norm(vec, 2); norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec
}

func (e *HashEmbedder) addFeature(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// cosine assumes both vectors are L2-normalized by Embed.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return floats.Dot(a, b)
}

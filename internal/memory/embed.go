package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
)

const DefaultEmbeddingDim = 384

// NewHashEmbedder returns a deterministic, dependency-free embedding based on feature
// hashing of word unigrams and bigrams. Texts sharing words land close together.
func NewHashEmbedder(dim int) chromem.EmbeddingFunc {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for i, tok := range tokens {
			addFeature(vec, tok, 1)
			if i > 0 {
				addFeature(vec, tokens[i-1]+" "+tok, 0.5)
			}
		}

		var norm float64
		for _, x := range vec {
			norm += float64(x) * float64(x)
		}
		if norm == 0 {
			vec[0] = 1
			return vec, nil
		}
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
		return vec, nil
	}
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// NewEmbedder selects the embedding backend by name.
func NewEmbedder(kind string, dim int, ollamaURL, ollamaModel string) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "hash":
		return NewHashEmbedder(dim), nil
	case "ollama":
		if strings.TrimSpace(ollamaModel) == "" {
			return nil, fmt.Errorf("ollama embedder requires a model name")
		}
		return chromem.NewEmbeddingFuncOllama(ollamaModel, strings.TrimSpace(ollamaURL)), nil
	default:
		return nil, fmt.Errorf("unsupported embedder %q", kind)
	}
}

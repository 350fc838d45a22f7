package similarity

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

// BackendFunc adapts a function to EmbeddingBackend.
type BackendFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f(ctx, text).
func (f BackendFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// HashingBackend is a local, dependency-free embedding: CJK-aware tokens
// (unigrams and bigrams) hashed into a fixed number of buckets and
// L2-normalised. It is deterministic and needs no network, so it serves
// deployments without an embedding provider.
type HashingBackend struct {
	dims int
}

// NewHashingBackend creates a HashingBackend with dims buckets (default 256).
func NewHashingBackend(dims int) *HashingBackend {
	if dims <= 0 {
		dims = 256
	}
	return &HashingBackend{dims: dims}
}

// Embed implements EmbeddingBackend.
func (b *HashingBackend) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, b.dims)
	for _, tok := range stringutil.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%b.dims] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

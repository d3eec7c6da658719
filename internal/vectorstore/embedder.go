package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// HashEmbedder is a deterministic, local stand-in for a real embedding API
// call. It derives
// a fixed-dimension vector from repeated SHA-256 hashing of the input text,
// giving identical inputs identical vectors without any network call —
// suitable for tests and the -dev no-API-key path.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, e.Dim)
	seed := []byte(text)
	block := sha256.Sum256(seed)
	for i := 0; i < e.Dim; i++ {
		if i > 0 && i%len(block) == 0 {
			block = sha256.Sum256(block[:])
		}
		idx := i % len(block)
		var buf [4]byte
		copy(buf[:], block[idx:])
		bits := binary.LittleEndian.Uint32(buf[:])
		out[i] = float32(bits%2000)/1000.0 - 1.0 // roughly [-1, 1)
	}
	return out, nil
}

// EmbedBatch embeds every text in one call. The hash embedder has no
// round trip to amortize, so it just maps Embed over the slice.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

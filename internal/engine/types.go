package engine

import (
	"context"
	"fmt"
	"math/rand"
)

// Engine is the benchmark's view of a generation engine. Sharding, KV-cache
// handling and scheduling are the engine's own business; the harness only
// times Generate calls between Sync barriers.
type Engine interface {
	// Generate runs one batched generation pass.
	Generate(ctx context.Context, req Request) (Result, error)
	// Sync is the barrier placed immediately before and after each timed
	// Generate so wall-clock samples do not include queued work.
	Sync(ctx context.Context) error
	Close() error
}

type Request struct {
	Input        *Batch
	MaxNewTokens int
	Greedy       bool
}

type Result struct {
	// OutputLen is the per-sequence output length, prompt included.
	OutputLen int
	// Generated is the number of new tokens per sequence.
	Generated int
}

// Batch is a fixed-shape synthetic input: Size sequences of InputLen token IDs.
type Batch struct {
	Tokens [][]int32
}

func (b *Batch) Size() int {
	return len(b.Tokens)
}

func (b *Batch) InputLen() int {
	if len(b.Tokens) == 0 {
		return 0
	}
	return len(b.Tokens[0])
}

// NewRandomBatch builds a batchSize x inputLen batch of token IDs drawn
// uniformly from [1, 1000), capped by the vocab size. Seeded for
// reproducibility across ranks.
func NewRandomBatch(batchSize, inputLen, vocabSize int, seed int64) (*Batch, error) {
	if batchSize <= 0 || inputLen <= 0 {
		return nil, fmt.Errorf("invalid batch shape: %dx%d", batchSize, inputLen)
	}
	high := int32(1000)
	if vocabSize > 1 && int32(vocabSize) < high {
		high = int32(vocabSize)
	}

	rng := rand.New(rand.NewSource(seed))
	tokens := make([][]int32, batchSize)
	for i := range tokens {
		row := make([]int32, inputLen)
		for j := range row {
			row[j] = 1 + rng.Int31n(high-1)
		}
		tokens[i] = row
	}
	return &Batch{Tokens: tokens}, nil
}

package engine

import (
	"context"
	"testing"

	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/profile"
)

func testModel() config.Model {
	return config.Model{
		Architecture: "llama",
		Dim:          256,
		HiddenDim:    1024,
		Layers:       2,
		Heads:        8,
		KVHeads:      2,
		VocabSize:    1000,
		SeqLen:       2048,
	}
}

func TestNewRandomBatch(t *testing.T) {
	b, err := NewRandomBatch(4, 16, 32000, 1)
	if err != nil {
		t.Fatalf("NewRandomBatch() error = %v", err)
	}
	if b.Size() != 4 {
		t.Errorf("Size() = %d, want 4", b.Size())
	}
	if b.InputLen() != 16 {
		t.Errorf("InputLen() = %d, want 16", b.InputLen())
	}
	for _, row := range b.Tokens {
		for _, tok := range row {
			if tok < 1 || tok >= 1000 {
				t.Fatalf("token %d outside [1, 1000)", tok)
			}
		}
	}
}

func TestNewRandomBatchDeterministic(t *testing.T) {
	a, _ := NewRandomBatch(2, 8, 32000, 42)
	b, _ := NewRandomBatch(2, 8, 32000, 42)
	for i := range a.Tokens {
		for j := range a.Tokens[i] {
			if a.Tokens[i][j] != b.Tokens[i][j] {
				t.Fatal("same seed produced different batches")
			}
		}
	}

	c, _ := NewRandomBatch(2, 8, 32000, 43)
	same := true
	for i := range a.Tokens {
		for j := range a.Tokens[i] {
			if a.Tokens[i][j] != c.Tokens[i][j] {
				same = false
			}
		}
	}
	if same {
		t.Fatal("different seeds produced identical batches")
	}
}

func TestNewRandomBatchSmallVocab(t *testing.T) {
	b, err := NewRandomBatch(2, 32, 50, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range b.Tokens {
		for _, tok := range row {
			if tok < 1 || tok >= 50 {
				t.Fatalf("token %d outside [1, 50)", tok)
			}
		}
	}
}

func TestNewRandomBatchBadShape(t *testing.T) {
	if _, err := NewRandomBatch(0, 16, 1000, 1); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewRandomBatch(4, 0, 1000, 1); err == nil {
		t.Error("expected error for zero input length")
	}
}

func TestLocalGenerate(t *testing.T) {
	e, err := NewLocal(testModel(), nil)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	defer e.Close()

	batch, _ := NewRandomBatch(2, 8, 1000, 1)
	res, err := e.Generate(context.Background(), Request{Input: batch, MaxNewTokens: 4, Greedy: true})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if res.Generated != 4 {
		t.Errorf("Generated = %d, want 4", res.Generated)
	}
	if res.OutputLen != 12 {
		t.Errorf("OutputLen = %d, want 12", res.OutputLen)
	}
	if e.Checksum() == 0 {
		t.Error("expected nonzero checksum after generation")
	}
}

func TestLocalGenerateRecordsSpans(t *testing.T) {
	tr := profile.NewTracer()
	e, err := NewLocal(testModel(), tr)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	batch, _ := NewRandomBatch(1, 4, 1000, 1)
	if _, err := e.Generate(context.Background(), Request{Input: batch, MaxNewTokens: 2}); err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, row := range tr.Table(0) {
		names[row.Name] = true
	}
	for _, want := range []string{"embed", "attention", "ffn", "sample"} {
		if !names[want] {
			t.Errorf("missing span %q in %v", want, names)
		}
	}
}

func TestLocalGenerateValidation(t *testing.T) {
	e, err := NewLocal(testModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.Generate(context.Background(), Request{Input: nil, MaxNewTokens: 4}); err == nil {
		t.Error("expected error for nil input")
	}

	batch, _ := NewRandomBatch(1, 4, 1000, 1)
	if _, err := e.Generate(context.Background(), Request{Input: batch, MaxNewTokens: 0}); err == nil {
		t.Error("expected error for zero max_new_tokens")
	}
}

func TestLocalGenerateCancellation(t *testing.T) {
	e, err := NewLocal(testModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, _ := NewRandomBatch(1, 4, 1000, 1)
	if _, err := e.Generate(ctx, Request{Input: batch, MaxNewTokens: 64}); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestLocalRejectsInvalidModel(t *testing.T) {
	m := testModel()
	m.Layers = 0
	if _, err := NewLocal(m, nil); err == nil {
		t.Fatal("expected error for invalid model")
	}
}

func TestLocalSync(t *testing.T) {
	e, err := NewLocal(testModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.Sync(context.Background()); err != nil {
		t.Errorf("Sync() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Sync(ctx); err == nil {
		t.Error("expected Sync to surface context cancellation")
	}
}

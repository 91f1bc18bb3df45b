package gguf

import "fmt"

// ModelInfo is the slice of GGUF metadata the benchmark cares about: the
// hyperparameters that drive bandwidth/FLOPs derivations plus identification.
type ModelInfo struct {
	Architecture  string
	Name          string
	ContextLength int
	HiddenSize    int
	LayerCount    int
	AttentionHead int
	KVHeads       int
	FeedForward   int
	VocabSize     int
	Parameters    int64
	WeightBytes   int64
}

// Analyze extracts model hyperparameters from parsed GGUF metadata.
func Analyze(f *File) (*ModelInfo, error) {
	info := &ModelInfo{}

	arch, ok := f.KV["general.architecture"].(string)
	if !ok || arch == "" {
		return nil, fmt.Errorf("gguf: missing general.architecture")
	}
	info.Architecture = arch

	if name, ok := f.KV["general.name"].(string); ok {
		info.Name = name
	}

	info.ContextLength = int(kvInt(f.KV, arch+".context_length", "general.context_length"))
	if info.ContextLength == 0 {
		info.ContextLength = 2048
	}

	info.HiddenSize = int(kvInt(f.KV, arch+".embedding_length", arch+".hidden_size"))
	if info.HiddenSize == 0 {
		return nil, fmt.Errorf("gguf: missing %s.embedding_length", arch)
	}

	info.LayerCount = int(kvInt(f.KV, arch+".block_count", arch+".layer_count"))
	if info.LayerCount == 0 {
		return nil, fmt.Errorf("gguf: missing %s.block_count", arch)
	}

	info.AttentionHead = int(kvInt(f.KV, arch+".attention.head_count", ""))

	kvHeads := kvInt(f.KV, arch+".attention.head_count_kv", arch+".attention.kv_head_count")
	if kvHeads == 0 {
		kvHeads = uint64(info.AttentionHead)
	}
	info.KVHeads = int(kvHeads)

	info.FeedForward = int(kvInt(f.KV, arch+".feed_forward_length", arch+".intermediate_size"))

	info.VocabSize = int(kvInt(f.KV, arch+".vocab_size", "tokenizer.ggml.vocab_size"))
	if info.VocabSize == 0 {
		// Fall back to embedding tensor shape when the key is absent.
		for _, t := range f.Tensors {
			if t.Name == "token_embd.weight" && len(t.Dimensions) == 2 {
				info.VocabSize = int(t.Dimensions[1])
				break
			}
		}
	}

	for _, t := range f.Tensors {
		info.Parameters += int64(t.Elements())
		info.WeightBytes += int64(t.SizeBytes())
	}
	if info.Parameters == 0 {
		// Header without tensor descriptors: estimate from hyperparameters,
		// the same 12*d^2 per block used by the bandwidth derivation.
		info.Parameters = int64(info.LayerCount) * int64(info.HiddenSize) * int64(info.HiddenSize) * 12
	}

	return info, nil
}

func (m *ModelInfo) String() string {
	return fmt.Sprintf("%s (%s): layers=%d dim=%d heads=%d kv_heads=%d ffn=%d ctx=%d params=%.2fB",
		m.Name, m.Architecture, m.LayerCount, m.HiddenSize, m.AttentionHead,
		m.KVHeads, m.FeedForward, m.ContextLength, float64(m.Parameters)/1e9)
}

func kvInt(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val, ok := kv[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case uint32:
				return uint64(v)
			case int32:
				return uint64(v)
			case int:
				return uint64(v)
			}
		}
	}
	return 0
}

package gguf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// ggufWriter builds minimal GGUF v3 header blocks for tests.
type ggufWriter struct {
	buf     bytes.Buffer
	kvs     bytes.Buffer
	tensors bytes.Buffer
	nKV     uint64
	nTensor uint64
}

func (w *ggufWriter) str(dst *bytes.Buffer, s string) {
	_ = binary.Write(dst, binary.LittleEndian, uint64(len(s)))
	dst.WriteString(s)
}

func (w *ggufWriter) kvString(key, val string) {
	w.str(&w.kvs, key)
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint32(MetadataValueTypeString))
	w.str(&w.kvs, val)
	w.nKV++
}

func (w *ggufWriter) kvUint32(key string, val uint32) {
	w.str(&w.kvs, key)
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint32(MetadataValueTypeUint32))
	_ = binary.Write(&w.kvs, binary.LittleEndian, val)
	w.nKV++
}

func (w *ggufWriter) kvFloat32(key string, val float32) {
	w.str(&w.kvs, key)
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint32(MetadataValueTypeFloat32))
	_ = binary.Write(&w.kvs, binary.LittleEndian, math.Float32bits(val))
	w.nKV++
}

func (w *ggufWriter) kvStringArray(key string, vals []string) {
	w.str(&w.kvs, key)
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint32(MetadataValueTypeArray))
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint32(MetadataValueTypeString))
	_ = binary.Write(&w.kvs, binary.LittleEndian, uint64(len(vals)))
	for _, v := range vals {
		w.str(&w.kvs, v)
	}
	w.nKV++
}

func (w *ggufWriter) tensor(name string, dims []uint64, typ GGMLType, offset uint64) {
	w.str(&w.tensors, name)
	_ = binary.Write(&w.tensors, binary.LittleEndian, uint32(len(dims)))
	for _, d := range dims {
		_ = binary.Write(&w.tensors, binary.LittleEndian, d)
	}
	_ = binary.Write(&w.tensors, binary.LittleEndian, uint32(typ))
	_ = binary.Write(&w.tensors, binary.LittleEndian, offset)
	w.nTensor++
}

func (w *ggufWriter) bytes() []byte {
	_ = binary.Write(&w.buf, binary.LittleEndian, uint32(GGUFMagic))
	_ = binary.Write(&w.buf, binary.LittleEndian, uint32(3))
	_ = binary.Write(&w.buf, binary.LittleEndian, w.nTensor)
	_ = binary.Write(&w.buf, binary.LittleEndian, w.nKV)
	w.buf.Write(w.kvs.Bytes())
	w.buf.Write(w.tensors.Bytes())
	return w.buf.Bytes()
}

func llamaHeader() *ggufWriter {
	w := &ggufWriter{}
	w.kvString("general.architecture", "llama")
	w.kvString("general.name", "tinyllama")
	w.kvUint32("llama.context_length", 4096)
	w.kvUint32("llama.embedding_length", 256)
	w.kvUint32("llama.block_count", 4)
	w.kvUint32("llama.attention.head_count", 8)
	w.kvUint32("llama.attention.head_count_kv", 2)
	w.kvUint32("llama.feed_forward_length", 1024)
	w.kvFloat32("llama.attention.layer_norm_rms_epsilon", 1e-5)
	w.kvStringArray("tokenizer.ggml.tokens", []string{"<s>", "</s>", "hello", "world"})
	w.tensor("token_embd.weight", []uint64{256, 1000}, GGMLTypeF16, 0)
	w.tensor("blk.0.attn_q.weight", []uint64{256, 256}, GGMLTypeF16, 512000)
	return w
}

func TestDecode(t *testing.T) {
	f, err := Decode(bytes.NewReader(llamaHeader().bytes()))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if f.Header.Version != 3 {
		t.Errorf("Version = %d, want 3", f.Header.Version)
	}
	if f.Header.KVCount != 10 {
		t.Errorf("KVCount = %d, want 10", f.Header.KVCount)
	}
	if got := f.KV["general.architecture"]; got != "llama" {
		t.Errorf("architecture = %v", got)
	}
	if got := f.KV["llama.embedding_length"]; got != uint32(256) {
		t.Errorf("embedding_length = %v (%T)", got, got)
	}
	if len(f.Tensors) != 2 {
		t.Fatalf("Tensors = %d, want 2", len(f.Tensors))
	}
	if f.Tensors[0].Name != "token_embd.weight" {
		t.Errorf("tensor 0 name = %q", f.Tensors[0].Name)
	}
	if f.Tensors[0].Elements() != 256*1000 {
		t.Errorf("tensor 0 elements = %d", f.Tensors[0].Elements())
	}
	if f.Tensors[0].SizeBytes() != 256*1000*2 {
		t.Errorf("tensor 0 size = %d", f.Tensors[0].SizeBytes())
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data := llamaHeader().bytes()
	data[0] = 'X'
	_, err := Decode(bytes.NewReader(data))
	if _, ok := err.(ErrInvalidMagic); !ok {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDecodeBadVersion(t *testing.T) {
	data := llamaHeader().bytes()
	binary.LittleEndian.PutUint32(data[4:], 7)
	_, err := Decode(bytes.NewReader(data))
	if _, ok := err.(ErrUnsupportedVersion); !ok {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data := llamaHeader().bytes()
	_, err := Decode(bytes.NewReader(data[:len(data)-6]))
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.gguf")
	if err := os.WriteFile(path, llamaHeader().bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if len(f.Tensors) != 2 {
		t.Errorf("Tensors = %d, want 2", len(f.Tensors))
	}
}

func TestAnalyze(t *testing.T) {
	f, err := Decode(bytes.NewReader(llamaHeader().bytes()))
	if err != nil {
		t.Fatal(err)
	}

	info, err := Analyze(f)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if info.Architecture != "llama" {
		t.Errorf("Architecture = %q", info.Architecture)
	}
	if info.HiddenSize != 256 {
		t.Errorf("HiddenSize = %d, want 256", info.HiddenSize)
	}
	if info.LayerCount != 4 {
		t.Errorf("LayerCount = %d, want 4", info.LayerCount)
	}
	if info.AttentionHead != 8 {
		t.Errorf("AttentionHead = %d, want 8", info.AttentionHead)
	}
	if info.KVHeads != 2 {
		t.Errorf("KVHeads = %d, want 2", info.KVHeads)
	}
	if info.ContextLength != 4096 {
		t.Errorf("ContextLength = %d, want 4096", info.ContextLength)
	}
	if info.VocabSize != 1000 {
		t.Errorf("VocabSize = %d, want 1000 (from embedding shape)", info.VocabSize)
	}

	wantParams := int64(256*1000 + 256*256)
	if info.Parameters != wantParams {
		t.Errorf("Parameters = %d, want %d", info.Parameters, wantParams)
	}
}

func TestAnalyzeMissingArchitecture(t *testing.T) {
	w := &ggufWriter{}
	w.kvUint32("llama.block_count", 4)
	f, err := Decode(bytes.NewReader(w.bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Analyze(f); err == nil {
		t.Fatal("expected error for missing architecture")
	}
}

func TestAnalyzeKVHeadsDefaultToHeads(t *testing.T) {
	w := &ggufWriter{}
	w.kvString("general.architecture", "llama")
	w.kvUint32("llama.embedding_length", 128)
	w.kvUint32("llama.block_count", 2)
	w.kvUint32("llama.attention.head_count", 4)

	f, err := Decode(bytes.NewReader(w.bytes()))
	if err != nil {
		t.Fatal(err)
	}
	info, err := Analyze(f)
	if err != nil {
		t.Fatal(err)
	}
	if info.KVHeads != 4 {
		t.Errorf("KVHeads = %d, want head_count fallback 4", info.KVHeads)
	}

	// No tensor descriptors: parameter estimate falls back to 12*layers*dim^2.
	want := int64(2) * 128 * 128 * 12
	if info.Parameters != want {
		t.Errorf("Parameters = %d, want %d", info.Parameters, want)
	}
}

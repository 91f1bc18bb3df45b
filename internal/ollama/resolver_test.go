package ollama

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		in   string
		name string
		tag  string
	}{
		{"llama3", "llama3", "latest"},
		{"llama3:8b", "llama3", "8b"},
		{"mistral:instruct", "mistral", "instruct"},
	}

	for _, tt := range tests {
		name, tag := splitName(tt.in)
		if name != tt.name || tag != tt.tag {
			t.Errorf("splitName(%q) = (%q, %q), want (%q, %q)", tt.in, name, tag, tt.name, tt.tag)
		}
	}
}

func TestResolveDirectPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := os.WriteFile(path, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != path {
		t.Errorf("Resolve() = %q, want %q", got, path)
	}
}

func TestResolveModelName(t *testing.T) {
	base := t.TempDir()
	t.Setenv("OLLAMA_MODELS", base)

	digest := "sha256-0000aaaa"
	blobPath := filepath.Join(base, "blobs", digest)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blobPath, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	manifest := Manifest{
		SchemaVersion: 2,
		Layers: []Layer{
			{MediaType: "application/vnd.ollama.image.template", Digest: "sha256:ffff"},
			{MediaType: MediaTypeModel, Digest: "sha256:0000aaaa", Size: 4},
		},
	}
	data, _ := json.Marshal(manifest)

	manifestPath := filepath.Join(base, "manifests", DefaultRegistry, "library", "tinyllama", "latest")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve("tinyllama")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != blobPath {
		t.Errorf("Resolve() = %q, want %q", got, blobPath)
	}
}

func TestResolveMissingModel(t *testing.T) {
	t.Setenv("OLLAMA_MODELS", t.TempDir())

	if _, err := Resolve("no-such-model"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestResolveMissingBlob(t *testing.T) {
	base := t.TempDir()
	t.Setenv("OLLAMA_MODELS", base)

	manifest := Manifest{
		SchemaVersion: 2,
		Layers:        []Layer{{MediaType: MediaTypeModel, Digest: "sha256:deadbeef"}},
	}
	data, _ := json.Marshal(manifest)

	manifestPath := filepath.Join(base, "manifests", DefaultRegistry, "library", "ghost", "latest")
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Resolve("ghost"); err == nil {
		t.Fatal("expected error for missing blob")
	}
}

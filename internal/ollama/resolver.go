package ollama

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultTag      = "latest"
	DefaultRegistry = "registry.ollama.ai"
	MediaTypeModel  = "application/vnd.ollama.image.model"
)

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// ModelsDir returns the local Ollama model store, honoring OLLAMA_MODELS.
func ModelsDir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// Resolve turns a model argument into a GGUF file path. An existing file path
// is returned as-is; otherwise the argument is treated as an Ollama model name
// ("llama3", "llama3:8b") and looked up in the local blob store.
func Resolve(nameOrPath string) (string, error) {
	if info, err := os.Stat(nameOrPath); err == nil && !info.IsDir() {
		return nameOrPath, nil
	}

	name, tag := splitName(nameOrPath)

	baseDir, err := ModelsDir()
	if err != nil {
		return "", err
	}

	// Official models live under <registry>/library/<name>/<tag>.
	manifestPath := filepath.Join(baseDir, "manifests", DefaultRegistry, "library", name, tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("model %q: not a file and no manifest at %s: %w", nameOrPath, manifestPath, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("model %q: parse manifest: %w", nameOrPath, err)
	}

	var digest string
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			digest = l.Digest
			break
		}
	}
	if digest == "" {
		return "", fmt.Errorf("model %q: no model layer in manifest", nameOrPath)
	}

	// "sha256:<hash>" maps to blobs/sha256-<hash>.
	blobPath := filepath.Join(baseDir, "blobs", strings.Replace(digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("model %q: blob missing at %s: %w", nameOrPath, blobPath, err)
	}

	return blobPath, nil
}

func splitName(s string) (name, tag string) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 1 {
		return parts[0], DefaultTag
	}
	return parts[0], parts[1]
}

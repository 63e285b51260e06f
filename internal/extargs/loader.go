package extargs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"caps-gateway/internal/caps"
)

// StructuredLoader is the default BlobLoader. It accepts inline JSON, inline
// YAML, or a path to a .json/.yaml/.yml file, and is the only place in the
// package that may touch the filesystem.
type StructuredLoader struct{}

// Load implements BlobLoader.
func (StructuredLoader) Load(source string) (caps.Dict, error) {
	data := []byte(source)
	if isFileRef(source) {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("reading args file: %w", err)
		}
		data = b
	}

	raw, err := decodeStructured(data)
	if err != nil {
		return nil, err
	}
	v, err := caps.FromInterface(raw)
	if err != nil {
		return nil, fmt.Errorf("args blob: %w", err)
	}
	d, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("args blob must be an object keyed by extension name, got %s", v.Kind())
	}
	return d, nil
}

// decodeStructured tries JSON first, then YAML. The JSON error is the one
// reported when both fail, inline blobs are most often intended as JSON.
func decodeStructured(data []byte) (any, error) {
	var raw any
	jsonErr := json.Unmarshal(data, &raw)
	if jsonErr == nil {
		return raw, nil
	}
	if yamlErr := yaml.Unmarshal(data, &raw); yamlErr != nil {
		return nil, fmt.Errorf("args blob is neither valid JSON nor YAML: %w", jsonErr)
	}
	return raw, nil
}

// isFileRef treats a source as a file reference when it looks like a path to
// a structured-text file rather than the text itself.
func isFileRef(source string) bool {
	s := strings.ToLower(strings.TrimSpace(source))
	return strings.HasSuffix(s, ".json") ||
		strings.HasSuffix(s, ".yaml") ||
		strings.HasSuffix(s, ".yml")
}

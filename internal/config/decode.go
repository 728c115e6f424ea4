package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode parses a config file. YAML input is re-marshaled to JSON first so
// one strict json.Decoder (DisallowUnknownFields) vets both formats; a
// misspelled key fails loudly instead of silently falling back to defaults.
func decode(path string, raw []byte) (*Config, error) {
	data := raw
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		j, err := json.Marshal(stringKeys(doc))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		data = j
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// stringKeys rewrites yaml's map[any]any nodes with string keys so the tree
// survives json.Marshal. Numeric keys (guild ids) become their decimal form.
func stringKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range node {
			node[k] = stringKeys(val)
		}
		return node
	case []any:
		for i, val := range node {
			node[i] = stringKeys(val)
		}
		return node
	}
	return v
}

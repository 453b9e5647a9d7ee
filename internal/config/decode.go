package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config document. Files ending in .yaml or .yml are YAML,
// anything else is JSON. Both go through the same strict JSON decoder, so an
// unknown key is an error in either format.
func Decode(name string, data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("config is empty")
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		b, err := json.Marshal(jsonify(doc))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		data = b
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("config has trailing data")
	}
	return &cfg, nil
}

// jsonify turns YAML maps with non-string keys into map[string]any.
func jsonify(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = jsonify(e)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = jsonify(e)
		}
		return out
	case []any:
		for i, e := range x {
			x[i] = jsonify(e)
		}
		return x
	}
	return v
}

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses JSON or YAML (chosen by the file extension of name).
// Unknown fields and trailing data are rejected in both formats.
func Decode(name string, data []byte) (*Config, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		j, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(name), err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("decode %s: trailing data", filepath.Base(name))
		}
		return nil, err
	}
	return &cfg, nil
}

// yamlToJSON re-encodes a YAML document so it goes through the same strict
// JSON decoder; yaml.v3 alone cannot reject unknown keys in nested maps
// that are decoded into any.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	var v any
	if err := doc.Content[0].Decode(&v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	v = normalizeKeys(v)
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return j, nil
}

// normalizeKeys turns non-string mapping keys (`1: x`, `true: y`) into strings.
func normalizeKeys(in any) any {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeKeys(v)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeKeys(v)
		}
		return m
	case []any:
		for i, v := range x {
			x[i] = normalizeKeys(v)
		}
		return x
	default:
		return in
	}
}

// fingerprint identifies a config by content so no-op writes are ignored.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

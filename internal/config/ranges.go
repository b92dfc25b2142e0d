package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/value"
)

// LoadRanges reads a YAML file mapping parameter names to either a single
// scalar value (a singleton range) or a list of scalar values (a
// sequence range), so a design's Ranges can be declared in a file instead
// of built up in Go.
//
// Example:
//
//	x: [1, 2, 3]
//	label: "run-a"
func LoadRanges(path string) (design.Ranges, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: read ranges file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: decode ranges file: %w", err)
	}

	ranges := make(design.Ranges, len(doc))

	for name, node := range doc {
		r, err := rangeFromYAML(node)
		if err != nil {
			return nil, fmt.Errorf("config: parameter %q: %w", name, err)
		}

		ranges[name] = r
	}

	return ranges, nil
}

// rangeFromYAML turns one decoded YAML node into a design.Range: a bare
// scalar becomes a singleton, a sequence becomes an ordered Range.
func rangeFromYAML(node any) (design.Range, error) {
	items, ok := node.([]any)
	if !ok {
		v, err := valueFromYAML(node)
		if err != nil {
			return design.Range{}, err
		}

		return design.Singleton(v), nil
	}

	vals := make([]value.Value, len(items))

	for i, item := range items {
		v, err := valueFromYAML(item)
		if err != nil {
			return design.Range{}, err
		}

		vals[i] = v
	}

	return design.Sequence(vals...), nil
}

// valueFromYAML converts one decoded YAML scalar into a value.Value,
// inferring kind from the Go type yaml.v3 decodes it to.
func valueFromYAML(node any) (value.Value, error) {
	switch v := node.(type) {
	case int:
		return value.Int(int64(v)), nil
	case int64:
		return value.Int(v), nil
	case float64:
		return value.Float(v), nil
	case bool:
		return value.Bool(v), nil
	case string:
		return value.Text(v), nil
	default:
		return value.Value{}, fmt.Errorf("config: unsupported YAML scalar type %T", node)
	}
}

package columnar

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

// numericWidth names a fixed on-disk width for an int or float column.
type numericWidth string

const (
	width32 numericWidth = "32"
	width64 numericWidth = "64"
)

// WidthOverrides pins a field's numeric column to a specific width
// ("32" or "64"), overriding the smallest-fits-observed-values default
// (spec §9 Open Question: columnar numeric width resolution). Keyed by
// field name, loaded from a small YAML file operators can hand-edit.
type WidthOverrides map[string]string

// LoadWidthOverrides reads a YAML file of field name -> "32"/"64" pairs.
// A missing file is not an error: it is treated as no overrides, since
// most notebooks never need one.
func LoadWidthOverrides(path string) (WidthOverrides, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if os.IsNotExist(err) {
		return WidthOverrides{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("columnar: read width overrides: %w", err)
	}

	var w WidthOverrides
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("columnar: decode width overrides: %w", err)
	}

	if w == nil {
		w = WidthOverrides{}
	}

	return w, nil
}

// resolveIntWidth picks width32 when every observed int64 value for name
// fits in an int32, else width64. An override in overrides always wins.
func resolveIntWidth(name string, records []record.Record, overrides WidthOverrides) numericWidth {
	if w, ok := overrides[name]; ok {
		return numericWidth(w)
	}

	for _, rec := range records {
		v, ok := fieldValue(rec, name)
		if !ok {
			continue
		}

		i, err := v.Int()
		if err != nil {
			continue
		}

		if i > math.MaxInt32 || i < math.MinInt32 {
			return width64
		}
	}

	return width32
}

// resolveFloatWidth picks width32 when every observed float64 value for
// name round-trips losslessly through float32, else width64.
func resolveFloatWidth(name string, records []record.Record, overrides WidthOverrides) numericWidth {
	if w, ok := overrides[name]; ok {
		return numericWidth(w)
	}

	for _, rec := range records {
		v, ok := fieldValue(rec, name)
		if !ok {
			continue
		}

		f, err := v.Float()
		if err != nil {
			continue
		}

		if float64(float32(f)) != f {
			return width64
		}
	}

	return width32
}

// fieldValue reads a field by name from whichever bucket (P, R, or M) it
// lives in, mirroring resultset's backfill-aware field access.
func fieldValue(rec record.Record, name string) (value.Value, bool) {
	if v, ok := rec.Parameters[name]; ok {
		return v, true
	}

	if v, ok := rec.Results[name]; ok {
		return v, true
	}

	return rec.Metadata.Get(name)
}

package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/schema"
	"github.com/labframe/labframe/internal/value"
)

func TestClassifyFields_RoutesEachFieldToItsNamespace(t *testing.T) {
	records := []record.Record{
		{
			Parameters: value.Dict{"x": value.Int(1)},
			Results:    value.Dict{"y": value.Int(2)},
			Metadata:   record.Metadata{Status: true, ExperimentClass: "doubler"},
		},
	}

	fields := []schema.Field{
		{Name: "x", Kind: value.KindInt},
		{Name: "y", Kind: value.KindInt},
		{Name: "status", Kind: value.KindBool},
	}

	names, kinds, buckets, err := classifyFields(fields, records)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "status"}, names)
	assert.Equal(t, []string{"int", "int", "bool"}, kinds)
	assert.Equal(t, bucketParameter, buckets["x"])
	assert.Equal(t, bucketResult, buckets["y"])
	assert.Equal(t, bucketMetadata, buckets["status"])
}

func TestArrayRows_FlattensConsistentRowsRowMajor(t *testing.T) {
	records := []record.Record{
		{Parameters: value.Dict{"v": value.ArrayInt([]int64{1, 2})}},
		{Parameters: value.Dict{"v": value.ArrayInt([]int64{3, 4})}},
	}

	flat, cols, err := arrayRows(records, "v", func(v value.Value) ([]int64, error) { return v.ArrayInt() })
	require.NoError(t, err)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []int64{1, 2, 3, 4}, flat)
}

func TestArrayRows_RejectsInconsistentRowLength(t *testing.T) {
	records := []record.Record{
		{Parameters: value.Dict{"v": value.ArrayInt([]int64{1, 2})}},
		{Parameters: value.Dict{"v": value.ArrayInt([]int64{3})}},
	}

	_, _, err := arrayRows(records, "v", func(v value.Value) ([]int64, error) { return v.ArrayInt() })
	assert.ErrorIs(t, err, ErrResultsStructure)
}

func TestSplitList_RoundTripsWithJoin(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList("a,b"))
}

func TestParseKind_RecognisesEveryWireName(t *testing.T) {
	cases := map[string]value.Kind{
		"int":           value.KindInt,
		"float":         value.KindFloat,
		"complex":       value.KindComplex,
		"bool":          value.KindBool,
		"text":          value.KindText,
		"array<int>":    value.KindArrayInt,
		"array<float>":  value.KindArrayFloat,
		"array<complex>": value.KindArrayComplex,
		"array<bool>":   value.KindArrayBool,
		"array<text>":   value.KindArrayText,
	}

	for s, want := range cases {
		got, err := parseKind(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := parseKind("nonsense")
	assert.Error(t, err)
}

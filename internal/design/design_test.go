package design_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/value"
)

func ints(vs ...int64) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		out[i] = value.Int(v)
	}

	return out
}

func TestFactorial_EmptyRangesProduceZeroPoints(t *testing.T) {
	points, err := design.Factorial{}.Enumerate(design.Ranges{})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestFactorial_SingletonProducesOnePoint(t *testing.T) {
	ranges := design.Ranges{"x": design.Singleton(value.Int(1))}

	points, err := design.Factorial{}.Enumerate(ranges)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestFactorial_ProductOfLengths(t *testing.T) {
	ranges := design.Ranges{
		"x": design.Sequence(ints(1, 2, 3, 4, 5)...),
		"y": design.Sequence(ints(10, 20)...),
	}

	points, err := design.Factorial{}.Enumerate(ranges)
	require.NoError(t, err)
	assert.Len(t, points, 10)

	seen := make(map[string]bool)

	for _, p := range points {
		x, _ := p["x"].Int()
		y, _ := p["y"].Int()
		seen[string(rune(x))+"-"+string(rune(y))] = true
	}

	assert.Len(t, seen, 10, "every (x,y) pair should be distinct")
}

func TestFactorial_DeterministicOrder(t *testing.T) {
	ranges := design.Ranges{
		"a": design.Sequence(ints(1, 2)...),
		"b": design.Sequence(ints(3, 4)...),
	}

	p1, err := design.Factorial{}.Enumerate(ranges)
	require.NoError(t, err)

	p2, err := design.Factorial{}.Enumerate(ranges)
	require.NoError(t, err)

	require.Equal(t, len(p1), len(p2))

	for i := range p1 {
		assert.True(t, p1[i].Equal(p2[i]))
	}
}

func TestPointwise_ZipsEqualLengthRanges(t *testing.T) {
	a := make([]value.Value, 100)
	b := make([]value.Value, 100)

	for i := 0; i < 100; i++ {
		a[i] = value.Int(int64(i + 1))
		b[i] = value.Int(int64(i + 100))
	}

	ranges := design.Ranges{
		"a": design.Sequence(a...),
		"b": design.Sequence(b...),
		"c": design.Singleton(value.Int(4)),
	}

	points, err := design.Pointwise{}.Enumerate(ranges)
	require.NoError(t, err)
	require.Len(t, points, 100)

	for _, p := range points {
		av, _ := p["a"].Int()
		bv, _ := p["b"].Int()
		cv, _ := p["c"].Int()

		assert.Equal(t, int64(99), bv-av)
		assert.Equal(t, int64(4), cv)
	}
}

func TestPointwise_MismatchedLengthsError(t *testing.T) {
	ranges := design.Ranges{
		"a": design.Sequence(ints(1, 2, 3)...),
		"b": design.Sequence(ints(1, 2)...),
	}

	_, err := design.Pointwise{}.Enumerate(ranges)
	require.ErrorIs(t, err, design.ErrDesign)
}

func TestPointwise_AllSingletons(t *testing.T) {
	ranges := design.Ranges{
		"a": design.Singleton(value.Int(1)),
		"b": design.Singleton(value.Int(2)),
	}

	points, err := design.Pointwise{}.Enumerate(ranges)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

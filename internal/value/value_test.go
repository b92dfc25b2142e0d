package value_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/value"
)

func TestValue_Accessors_RoundTrip(t *testing.T) {
	i, err := value.Int(42).Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), i)

	f, err := value.Float(1.5).Float()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f, 0)

	b, err := value.Bool(true).Bool()
	require.NoError(t, err)
	assert.True(t, b)

	s, err := value.Text("hello").Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	arr, err := value.ArrayFloat([]float64{1, 2, 3}).ArrayFloat()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, arr)
}

func TestValue_Accessor_WrongKind(t *testing.T) {
	_, err := value.Int(1).Text()
	require.ErrorIs(t, err, value.ErrKindMismatch)
}

func TestZero_PerKind(t *testing.T) {
	cases := []struct {
		kind value.Kind
		want value.Value
	}{
		{value.KindInt, value.Int(0)},
		{value.KindFloat, value.Float(0)},
		{value.KindComplex, value.Complex(0)},
		{value.KindBool, value.Bool(false)},
		{value.KindText, value.Text("")},
		{value.KindArrayInt, value.ArrayInt(nil)},
	}

	for _, tc := range cases {
		assert.True(t, value.Zero(tc.kind).Equal(tc.want), "kind %s", tc.kind)
	}
}

func TestPromote_NumericLattice(t *testing.T) {
	assert.Equal(t, value.KindFloat, value.Promote(value.KindInt, value.KindFloat))
	assert.Equal(t, value.KindFloat, value.Promote(value.KindFloat, value.KindInt))
	assert.Equal(t, value.KindComplex, value.Promote(value.KindFloat, value.KindComplex))
	assert.Equal(t, value.KindInt, value.Promote(value.KindInt, value.KindInt))
}

func TestPromote_NonNumericConflictCoercesToText(t *testing.T) {
	assert.Equal(t, value.KindText, value.Promote(value.KindBool, value.KindText))
	assert.Equal(t, value.KindText, value.Promote(value.KindInt, value.KindBool))
	assert.Equal(t, value.KindText, value.Promote(value.KindArrayInt, value.KindArrayFloat))
	assert.Equal(t, value.KindText, value.Promote(value.KindInt, value.KindArrayInt))
}

func TestWiden_ToText(t *testing.T) {
	w, err := value.Widen(value.Int(7), value.KindText)
	require.NoError(t, err)

	s, err := w.Text()
	require.NoError(t, err)
	assert.Equal(t, "7", s)
}

func TestWiden_NumericUpgrade(t *testing.T) {
	w, err := value.Widen(value.Int(3), value.KindFloat)
	require.NoError(t, err)

	f, err := w.Float()
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 0)
}

func TestWiden_InvalidNumericUpgrade(t *testing.T) {
	_, err := value.Widen(value.Text("x"), value.KindFloat)
	require.ErrorIs(t, err, value.ErrKindMismatch)
}

func TestDict_Matches(t *testing.T) {
	d := value.Dict{"x": value.Int(1), "y": value.Int(2)}
	assert.True(t, d.Matches(value.Dict{"x": value.Int(1)}))
	assert.False(t, d.Matches(value.Dict{"x": value.Int(2)}))
	assert.True(t, d.Matches(value.Dict{}))
}

func TestDict_CloneIsIndependent(t *testing.T) {
	d := value.Dict{"x": value.Int(1)}
	clone := d.Clone()
	clone["x"] = value.Int(2)

	assert.Equal(t, int64(1), mustInt(t, d["x"]))
	assert.Equal(t, int64(2), mustInt(t, clone["x"]))
}

func mustInt(t *testing.T, v value.Value) int64 {
	t.Helper()

	i, err := v.Int()
	require.NoError(t, err)

	return i
}

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labframe/labframe/internal/schema"
	"github.com/labframe/labframe/internal/value"
)

func TestSchema_ObserveNewField(t *testing.T) {
	s := schema.New()

	changed := s.Observe("x", value.KindInt)

	assert.True(t, changed)
	assert.True(t, s.Has("x"))
	k, ok := s.Kind("x")
	assert.True(t, ok)
	assert.Equal(t, value.KindInt, k)
}

func TestSchema_ObserveSameKindIsNotAChange(t *testing.T) {
	s := schema.New()
	s.Observe("x", value.KindInt)

	changed := s.Observe("x", value.KindInt)

	assert.False(t, changed)
}

func TestSchema_ObserveWidensNumerically(t *testing.T) {
	s := schema.New()
	s.Observe("x", value.KindInt)

	changed := s.Observe("x", value.KindFloat)

	assert.True(t, changed)
	k, _ := s.Kind("x")
	assert.Equal(t, value.KindFloat, k)
}

func TestSchema_ObserveConflictCoercesToText(t *testing.T) {
	s := schema.New()
	s.Observe("x", value.KindBool)

	changed := s.Observe("x", value.KindText)

	assert.True(t, changed)
	k, _ := s.Kind("x")
	assert.Equal(t, value.KindText, k)
}

func TestSchema_FieldOrderIsAppendOrder(t *testing.T) {
	s := schema.New()
	s.Observe("b", value.KindInt)
	s.Observe("a", value.KindInt)
	s.Observe("b", value.KindFloat)

	names := make([]string, 0, 2)
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}

	assert.Equal(t, []string{"b", "a"}, names)
}

func TestSchema_Backfill(t *testing.T) {
	s := schema.New()
	s.Observe("x", value.KindFloat)

	z := s.Backfill("x")

	f, err := z.Float()
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, f, 0)
}

func TestSchema_CloneIsIndependent(t *testing.T) {
	s := schema.New()
	s.Observe("x", value.KindInt)

	clone := s.Clone()
	clone.Observe("y", value.KindBool)

	assert.False(t, s.Has("y"))
	assert.True(t, clone.Has("y"))
}

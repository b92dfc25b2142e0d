package lab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/lab"
	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/value"
)

func TestSequentialLab_RunExperiment_PreservesDesignOrder(t *testing.T) {
	nb := notebook.New("sequential test")
	_, err := nb.AddResultSet("run1", "")
	require.NoError(t, err)
	require.NoError(t, nb.Select("run1"))

	sl := lab.NewSequentialLab(nb, design.Factorial{}, nil)
	sl.Set("x", design.Sequence(value.Int(1), value.Int(2), value.Int(3)))

	e := newDoublingExperiment()
	require.NoError(t, sl.RunExperiment(e))

	rs, ok := nb.ResultSet("run1")
	require.True(t, ok)
	require.Len(t, rs.Records(), 3)

	for i, rec := range rs.Records() {
		x, err := rec.Parameters["x"].Int()
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), x)

		y, err := rec.Results["y"].Int()
		require.NoError(t, err)
		assert.Equal(t, 2*x, y)
	}
}

func TestLab_CreateWith_ReusesExistingTagWithoutRerunningConstructor(t *testing.T) {
	nb := notebook.New("createwith test")
	sl := lab.NewSequentialLab(nb, design.Factorial{}, nil)

	calls := 0
	ctor := func(l *lab.Lab) error {
		calls++
		l.Set("x", design.Sequence(value.Int(1)))

		return l.RunExperiment(newDoublingExperiment())
	}

	require.NoError(t, sl.Lab.CreateWith("baseline", ctor, "first run", false, false))
	require.NoError(t, sl.Lab.CreateWith("baseline", ctor, "first run", false, false))

	assert.Equal(t, 1, calls)

	rs, ok := nb.ResultSet("baseline")
	require.True(t, ok)
	assert.Equal(t, 1, rs.Len())
}

func TestLab_CreateWith_DiscardsPartialSetOnConstructorError(t *testing.T) {
	nb := notebook.New("createwith test")
	sl := lab.NewSequentialLab(nb, design.Factorial{}, nil)

	ctor := func(l *lab.Lab) error {
		return assert.AnError
	}

	err := sl.Lab.CreateWith("broken", ctor, "", false, false)
	require.Error(t, err)

	_, ok := nb.ResultSet("broken")
	assert.False(t, ok)
}

func TestLab_CreateWith_LocksResultSetWhenLockAfterIsTrue(t *testing.T) {
	nb := notebook.New("createwith test")
	sl := lab.NewSequentialLab(nb, design.Factorial{}, nil)

	ctor := func(l *lab.Lab) error {
		l.Set("x", design.Sequence(value.Int(1)))

		return l.RunExperiment(newDoublingExperiment())
	}

	require.NoError(t, sl.Lab.CreateWith("locked", ctor, "", true, false))

	rs, ok := nb.ResultSet("locked")
	require.True(t, ok)
	assert.True(t, rs.Locked())
}

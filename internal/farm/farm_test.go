package farm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/farm"
	"github.com/labframe/labframe/internal/value"
)

func TestFake_SubmitUnregisteredExperimentFails(t *testing.T) {
	f := farm.NewFake(1)

	_, err := f.Submit(context.Background(), farm.Submission{ExperimentName: "nope"})
	require.ErrorIs(t, err, farm.ErrDispatch)
}

func TestFake_SubmitThenRunPendingThenPullReady(t *testing.T) {
	f := farm.NewFake(2)
	f.Register("double", func(p value.Dict) (value.Dict, error) {
		x, _ := p["x"].Int()

		return value.Dict{"y": value.Int(x * 2)}, nil
	})

	id, err := f.Submit(context.Background(), farm.Submission{
		ExperimentName: "double",
		Parameters:     value.Dict{"x": value.Int(21)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	none, err := f.PullReady(context.Background())
	require.NoError(t, err)
	assert.Empty(t, none, "jobs must not complete until RunPending is called")

	f.RunPending()

	updates, err := f.PullReady(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)

	assert.Equal(t, id, updates[0].JobID)
	assert.Equal(t, farm.StatusCompleted, updates[0].Status)

	y, err := updates[0].Results["y"].Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), y)
}

func TestFake_FailingExperimentProducesFailedUpdate(t *testing.T) {
	f := farm.NewFake(1)
	f.Register("boom", func(p value.Dict) (value.Dict, error) {
		return nil, errors.New("kaboom")
	})

	id, err := f.Submit(context.Background(), farm.Submission{ExperimentName: "boom"})
	require.NoError(t, err)

	f.RunPending()

	updates, err := f.PullReady(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)

	assert.Equal(t, id, updates[0].JobID)
	assert.Equal(t, farm.StatusFailed, updates[0].Status)
	assert.Contains(t, updates[0].Exception, "kaboom")
}

func TestFake_CancelRemovesPendingAndReportsCancelled(t *testing.T) {
	f := farm.NewFake(1)
	f.Register("noop", func(p value.Dict) (value.Dict, error) { return value.Dict{}, nil })

	id, err := f.Submit(context.Background(), farm.Submission{ExperimentName: "noop"})
	require.NoError(t, err)

	cancelled, err := f.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	f.RunPending()

	updates, err := f.PullReady(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, farm.StatusCancelled, updates[0].Status)
}

func TestFake_CancelUnknownJobReturnsFalse(t *testing.T) {
	f := farm.NewFake(1)

	cancelled, err := f.Cancel(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestFake_EngineCount(t *testing.T) {
	f := farm.NewFake(4)

	n, err := f.EngineCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

package notebook_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func sampleRecord(x int64) record.Record {
	return record.Record{
		Parameters: value.Dict{"x": value.Int(x)},
		Results:    value.Dict{},
		Metadata:   record.Metadata{Status: true, StartTime: fixedNow(), EndTime: fixedNow()},
	}
}

func TestNotebook_AddResultSet_ErrorsOnDuplicateTag(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))

	_, err := n.AddResultSet("a", "first")
	require.NoError(t, err)

	_, err = n.AddResultSet("a", "second")
	require.Error(t, err)
}

func TestNotebook_Already_ReportsExistence(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))

	existed, err := n.Already("a", "desc")
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = n.Already("a", "desc")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestNotebook_DeleteResultSet_RefusesCurrentTag(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	_, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	err = n.DeleteResultSet("a")
	require.Error(t, err)
}

func TestNotebook_DeleteResultSet_RefusedWhenLocked(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	_, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	_, err = n.AddResultSet("b", "desc")
	require.NoError(t, err)

	require.NoError(t, n.Finish())

	err = n.DeleteResultSet("a")
	require.ErrorIs(t, err, notebook.ErrNotebookLocked)
}

func TestNotebook_AddResult_AppendsToCurrentSet(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	rs, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	require.NoError(t, n.AddResult(sampleRecord(1)))
	assert.Equal(t, 1, rs.Len())
	assert.True(t, n.Dirty())
}

func TestNotebook_PendingLifecycle_ResolvesIntoSubmitTimeTag(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	setA, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	jobID, err := n.AddPending(value.Dict{"x": value.Int(1)})
	require.NoError(t, err)

	_, err = n.AddResultSet("b", "desc")
	require.NoError(t, err)

	require.NoError(t, n.ResolvePending(jobID, sampleRecord(1)))

	assert.Equal(t, 1, setA.Len(), "pending resolved into its submit-time tag, not the now-current tag")

	setB, _ := n.ResultSet("b")
	assert.Equal(t, 0, setB.Len())
}

func TestNotebook_CancelPending_IdempotentAcrossTags(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	_, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	jobID, err := n.AddPending(value.Dict{"x": value.Int(1)})
	require.NoError(t, err)

	first, err := n.CancelPending(jobID)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := n.CancelPending(jobID)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestNotebook_CancelPending_UnknownJobIDReturnsFalseNoError(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))

	cancelled, err := n.CancelPending("nonexistent")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestNotebook_Finish_CancelsAllPendingAcrossAllSetsAndLocks(t *testing.T) {
	n := notebook.New("nb", notebook.WithClock(fixedNow))
	setA, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)

	_, err = n.AddResultSet("b", "desc")
	require.NoError(t, err)

	_, err = n.AddPending(value.Dict{"x": value.Int(1)})
	require.NoError(t, err)

	require.NoError(t, n.Select("a"))

	jobA, err := n.AddPending(value.Dict{"x": value.Int(2)})
	require.NoError(t, err)

	require.NoError(t, n.Finish())

	assert.True(t, n.Locked())
	assert.True(t, setA.Locked())

	setB, _ := n.ResultSet("b")
	assert.True(t, setB.Locked())

	_, err = n.CancelPending(jobA)
	require.NoError(t, err, "cancelling an already-cancelled job after Finish is a no-op, not an error")
}

type fakePersister struct {
	saves int
}

func (f *fakePersister) Save(n *notebook.Notebook) error {
	f.saves++

	return nil
}

func TestNotebook_Commit_FlushesToPersisterAndClearsDirty(t *testing.T) {
	p := &fakePersister{}
	n := notebook.New("nb", notebook.WithClock(fixedNow), notebook.WithPersister(p))

	_, err := n.AddResultSet("a", "desc")
	require.NoError(t, err)
	assert.True(t, n.Dirty())

	require.NoError(t, n.Commit())
	assert.Equal(t, 1, p.saves)
	assert.False(t, n.Dirty())
}

func TestOpen_CommitsOnNormalReturn(t *testing.T) {
	p := &fakePersister{}
	n := notebook.New("nb", notebook.WithClock(fixedNow), notebook.WithPersister(p))

	err := notebook.Open(n, func(n *notebook.Notebook) error {
		_, err := n.AddResultSet("a", "desc")

		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.saves)
}

func TestOpen_CommitsEvenWhenFnErrors(t *testing.T) {
	p := &fakePersister{}
	n := notebook.New("nb", notebook.WithClock(fixedNow), notebook.WithPersister(p))

	err := notebook.Open(n, func(n *notebook.Notebook) error {
		_, addErr := n.AddResultSet("a", "desc")
		require.NoError(t, addErr)

		return errors.New("deliberate failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, p.saves, "commit must still run when fn returns an error")
}

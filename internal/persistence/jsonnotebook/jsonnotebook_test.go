package jsonnotebook_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/notebook"
	"github.com/labframe/labframe/internal/persistence/jsonnotebook"
	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

func sampleRecord(x int64) record.Record {
	now := time.Now().UTC().Truncate(time.Second)

	return record.Record{
		Parameters: value.Dict{"x": value.Int(x)},
		Results:    value.Dict{"y": value.Int(x * 2)},
		Metadata: record.Metadata{
			Status:          true,
			StartTime:       now,
			EndTime:         now,
			ExperimentClass: "doubler",
		},
	}
}

func TestPersister_SaveThenLoad_RoundTripsRecordsSchemaAndCurrentTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notebook.json")
	p := jsonnotebook.NewPersister(path)

	n := notebook.New("round trip", notebook.WithPersister(p))

	_, err := n.AddResultSet("run1", "first set")
	require.NoError(t, err)
	require.NoError(t, n.Select("run1"))
	require.NoError(t, n.AddResult(sampleRecord(1)))
	require.NoError(t, n.AddResult(sampleRecord(2)))

	_, err = n.AddResultSet("run2", "second set")
	require.NoError(t, err)
	require.NoError(t, n.Select("run2"))
	require.NoError(t, n.AddResult(sampleRecord(3)))

	require.NoError(t, n.Select("run1"))
	require.NoError(t, n.Commit())

	reloaded, err := p.Load()
	require.NoError(t, err)

	tag, _, ok := reloaded.Current()
	require.True(t, ok)
	assert.Equal(t, "run1", tag)

	rs1, ok := reloaded.ResultSet("run1")
	require.True(t, ok)
	assert.Equal(t, 2, rs1.Len())

	rs2, ok := reloaded.ResultSet("run2")
	require.True(t, ok)
	assert.Equal(t, 1, rs2.Len())

	y, err := rs1.Records()[0].Results["y"].Int()
	require.NoError(t, err)
	assert.Equal(t, int64(2), y)
}

func TestPersister_SaveThenLoad_RestoresPendingUnderOriginalTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notebook.json")
	p := jsonnotebook.NewPersister(path)

	n := notebook.New("pending round trip", notebook.WithPersister(p))

	_, err := n.AddResultSet("run1", "")
	require.NoError(t, err)
	require.NoError(t, n.Select("run1"))

	jobID, err := n.AddPending(value.Dict{"x": value.Int(9)})
	require.NoError(t, err)
	require.NoError(t, n.Commit())

	reloaded, err := p.Load()
	require.NoError(t, err)

	rs, ok := reloaded.ResultSet("run1")
	require.True(t, ok)
	assert.Equal(t, 1, rs.PendingLen())

	require.NoError(t, reloaded.ResolvePending(jobID, sampleRecord(9)))

	rs, ok = reloaded.ResultSet("run1")
	require.True(t, ok)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, 0, rs.PendingLen())
}

func TestPersister_Load_MigratesLegacyVersion1FlatForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")

	legacy := map[string]any{
		"description": "legacy notebook",
		"results": []map[string]any{
			{
				"parameters": map[string]any{"x": map[string]any{"kind": "int", "int": 1}},
				"results":    map[string]any{"y": map[string]any{"kind": "int", "int": 2}},
				"metadata": map[string]any{
					"status":     true,
					"start_time": time.Now().UTC().Format(time.RFC3339Nano),
					"end_time":   time.Now().UTC().Format(time.RFC3339Nano),
					"setup_time": 0, "experiment_time": 0, "teardown_time": 0,
				},
			},
		},
	}

	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	p := jsonnotebook.NewPersister(path)

	n, err := p.Load()
	require.NoError(t, err)

	tag, rs, ok := n.Current()
	require.True(t, ok)
	assert.Equal(t, "default", tag)
	assert.Equal(t, 1, rs.Len())

	require.NoError(t, n.Commit())

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
}

func TestPersister_Load_RejectsUnrecognisedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not_a_notebook": true}`), 0o644))

	p := jsonnotebook.NewPersister(path)
	_, err := p.Load()
	assert.ErrorIs(t, err, jsonnotebook.ErrNotebookVersion)
}

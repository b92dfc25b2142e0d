package record_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/record"
	"github.com/labframe/labframe/internal/value"
)

func TestMetadata_GetFixedFields(t *testing.T) {
	m := record.Metadata{
		Status:          true,
		ExperimentClass: "CurveExperiment",
		SetupTime:       2 * time.Millisecond,
	}

	status, ok := m.Get("status")
	require.True(t, ok)

	b, err := status.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	cls, ok := m.Get("experiment_class")
	require.True(t, ok)

	s, err := cls.Text()
	require.NoError(t, err)
	assert.Equal(t, "CurveExperiment", s)
}

func TestMetadata_GetExtraField(t *testing.T) {
	m := record.Metadata{Extra: value.Dict{"repetition_index": value.Int(3)}}

	v, ok := m.Get("repetition_index")
	require.True(t, ok)

	i, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(3), i)
}

func TestMetadata_GetUnknownField(t *testing.T) {
	m := record.Metadata{}

	_, ok := m.Get("does_not_exist")
	assert.False(t, ok)
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := record.Record{
		Parameters: value.Dict{"x": value.Int(1)},
		Results:    value.Dict{"y": value.Int(2)},
		Metadata:   record.Metadata{Extra: value.Dict{"job_id": value.Text("abc")}},
	}

	clone := r.Clone()
	clone.Parameters["x"] = value.Int(99)
	clone.Metadata.Extra["job_id"] = value.Text("zzz")

	xi, _ := r.Parameters["x"].Int()
	assert.Equal(t, int64(1), xi)

	jobID, _ := r.Metadata.Extra["job_id"].Text()
	assert.Equal(t, "abc", jobID)
}

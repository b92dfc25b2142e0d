package workerproc

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/experiment"
	"github.com/labframe/labframe/internal/value"
)

type doubler struct{}

func (doubler) Do(p value.Dict) (value.Dict, error) {
	x, _ := p["x"].Int()

	return value.Dict{"y": value.Int(x * 2)}, nil
}

func TestServe_HandlesOneRequestPerFrame(t *testing.T) {
	Register("protocol_test.doubler", func() experiment.Body { return doubler{} })

	var in, out bytes.Buffer

	req := Request{
		Seq:            1,
		ExperimentName: "protocol_test.doubler",
		Parameters:     value.Dict{"x": value.Int(7)},
	}

	require.NoError(t, writeFrame(&in, req))
	require.NoError(t, Serve(&in, &out, nil))

	var resp Response
	require.NoError(t, readFrame(bufio.NewReader(&out), &resp))

	require.Empty(t, resp.Error)
	require.Len(t, resp.Records, 1)

	y, err := resp.Records[0].Results["y"].Int()
	require.NoError(t, err)
	assert.Equal(t, int64(14), y)
}

func TestServe_UnregisteredExperimentProducesErrorResponse(t *testing.T) {
	var in, out bytes.Buffer

	req := Request{Seq: 2, ExperimentName: "nonexistent"}
	require.NoError(t, writeFrame(&in, req))
	require.NoError(t, Serve(&in, &out, nil))

	var resp Response
	require.NoError(t, readFrame(bufio.NewReader(&out), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer

	req := Request{Seq: 9, ExperimentName: "x", Parameters: value.Dict{"a": value.Text("hello\nworld")}}
	require.NoError(t, writeFrame(&buf, req))

	var got Request
	require.NoError(t, readFrame(bufio.NewReader(&buf), &got))

	assert.Equal(t, req.Seq, got.Seq)
	assert.Equal(t, req.ExperimentName, got.ExperimentName)

	a, err := got.Parameters["a"].Text()
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", a)
}

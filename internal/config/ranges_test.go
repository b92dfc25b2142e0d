package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/config"
	"github.com/labframe/labframe/internal/design"
	"github.com/labframe/labframe/internal/value"
)

func TestLoadRanges_ParsesSequencesAndSingletons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: [1, 2, 3]\nlabel: \"run-a\"\nscale: 0.5\nenabled: true\n"), 0o644))

	ranges, err := config.LoadRanges(path)
	require.NoError(t, err)

	points, err := design.Factorial{}.Enumerate(ranges)
	require.NoError(t, err)
	require.Len(t, points, 3)

	x, err := points[0]["x"].Int()
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)

	label, err := points[0]["label"].Text()
	require.NoError(t, err)
	assert.Equal(t, "run-a", label)

	scale, err := points[0]["scale"].Float()
	require.NoError(t, err)
	assert.InEpsilon(t, 0.5, scale, 1e-9)

	enabled, err := points[0]["enabled"].Bool()
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestLoadRanges_RejectsUnreadableFile(t *testing.T) {
	_, err := config.LoadRanges(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

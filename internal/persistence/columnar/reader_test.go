package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labframe/labframe/internal/value"
)

func TestParseComplexArrayText_RoundTripsValueAsText(t *testing.T) {
	v := value.ArrayComplex([]complex128{complex(1, 2), complex(3, -4)})

	got, err := parseComplexArrayText(v.AsText())
	require.NoError(t, err)
	assert.Equal(t, []complex128{complex(1, 2), complex(3, -4)}, got)
}

func TestParseComplexArrayText_EmptyArray(t *testing.T) {
	v := value.ArrayComplex(nil)

	got, err := parseComplexArrayText(v.AsText())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseComplexArrayText_RejectsMalformedElement(t *testing.T) {
	_, err := parseComplexArrayText("[not-a-complex]")
	assert.Error(t, err)
}

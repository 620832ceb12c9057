package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrings_SeparatorIsUnambiguous(t *testing.T) {
	assert.NotEqual(t, Strings("ab", "c"), Strings("a", "bc"))
	assert.Equal(t, Strings("warfarin", "fluconazole"), Strings("warfarin", "fluconazole"))
	assert.Len(t, Short("x"), 16)
}

func TestValue_MapOrderIndependent(t *testing.T) {
	a, err := Value(map[string]float64{"x": 1, "y": 2})
	require.NoError(t, err)
	b, err := Value(map[string]float64{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestJoin_SkipsEmpty(t *testing.T) {
	assert.Equal(t, "bundle:v1:abc", Join("bundle", "", "v1", "abc"))
}

package sassplay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestEntries(t *testing.T) {
	entries := []string{"vectorAdd", "vectorSub", "vectorAddFast", "saxpy", "relu"}

	got := SuggestEntries("vectoradd", entries, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "vectorAdd", got[0])
	assert.ElementsMatch(t, []string{"vectorAdd", "vectorSub", "vectorAddFast"}, got)

	assert.Len(t, SuggestEntries("vectorAd", entries, 1), 1)
	assert.Empty(t, SuggestEntries("zzzzzzzzzzzzzzzz", []string{"ab"}, 3))
}

func TestDemangledName(t *testing.T) {
	tests := map[string]string{
		"_Z9vectorAddPKfS0_Pfi": "vectorAdd",
		"_Z5saxpyPKfS0_Pffi":    "saxpy",
		"relu":                  "relu",
		"_Zfoo":                 "_Zfoo",
		"_Z99short":             "_Z99short",
	}
	for in, want := range tests {
		assert.Equal(t, want, demangledName(in), in)
	}
}

func TestResolveEntry(t *testing.T) {
	emu := newTestEmulator(t)
	mod, err := emu.LoadModule(ptxImage("m", "_Z9vectorAddPKfS0_Pfi", "saxpy"))
	require.NoError(t, err)

	fn, err := resolveEntry(mod, "saxpy")
	require.NoError(t, err)
	assert.Equal(t, "saxpy", fn.Name())

	fn, err = resolveEntry(mod, "vectorAdd")
	require.NoError(t, err)
	assert.Equal(t, "_Z9vectorAddPKfS0_Pfi", fn.Name())

	_, err = resolveEntry(mod, "saxpyy")
	var snf *SymbolNotFoundError
	require.True(t, errors.As(err, &snf))
	assert.Equal(t, "saxpyy", snf.Name)
	require.NotEmpty(t, snf.Candidates)
	assert.Equal(t, "saxpy", snf.Candidates[0])
	assert.LessOrEqual(t, len(snf.Candidates), 3)
	assert.Contains(t, err.Error(), "did you mean: saxpy")
}

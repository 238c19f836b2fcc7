package sassplay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageSequence(t *testing.T) {
	snap := &memSnapshotter{}
	tr := NewTracker(snap, nil)

	a := NewArtifact("/src/k.cu", "sm_86")
	require.Equal(t, StageSource, a.Stage)
	require.Equal(t, 1, a.Version)

	steps := []struct {
		target Stage
		files  map[Representation]string
	}{
		{StageCompiled, map[Representation]string{RepPTX: "/b/k.ptx", RepCubin: "/b/k.cubin"}},
		{StageDisassembled, map[Representation]string{RepSASS: "/b/k.sass", RepCuasm: "/b/k.cuasm"}},
		{StageEdited, map[Representation]string{RepCuasm: "/b/k.cuasm"}},
		{StageReassembled, map[Representation]string{RepCubin: "/b/k_new.cubin"}},
	}
	for i, step := range steps {
		next, err := tr.Advance(a, step.target, step.files)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.target, next.Stage)
		assert.Equal(t, a.Version+1, next.Version)
		require.NotNil(t, next.Parent)
		assert.Equal(t, a.Ref(), *next.Parent)
		a = next
	}

	assert.Equal(t, "/b/k_new.cubin", a.Files[RepCubin])
	// The edit replaced the cuasm text and reassembly replaced the cubin.
	assert.Equal(t, []string{"/b/k.cuasm", "/b/k.cubin"}, snap.taken)
	require.NotNil(t, a.Backup)
	assert.Equal(t, RepCubin, a.Backup.Representation)
}

func TestStageOrderRejected(t *testing.T) {
	tr := NewTracker(&memSnapshotter{}, nil)
	a := NewArtifact("/src/k.cu", "sm_86")

	tests := []struct {
		target   Stage
		expected Stage
	}{
		{StageDisassembled, StageCompiled},
		{StageEdited, StageDisassembled},
		{StageReassembled, StageEdited},
		{StageSource, StageSource},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			got, err := tr.Advance(a, tt.target, nil)
			var soe *StageOrderError
			require.True(t, errors.As(err, &soe), "got %v", err)
			assert.Equal(t, tt.expected, soe.Expected)
			assert.Equal(t, StageSource, soe.Current)
			assert.True(t, IsStageOrderError(err))
			assert.Equal(t, a.Version, got.Version)
		})
	}
}

func TestAdvanceLeavesInputUntouched(t *testing.T) {
	tr := NewTracker(&memSnapshotter{}, nil)
	a := NewArtifact("/src/k.cu", "sm_86")
	next, err := tr.Advance(a, StageCompiled, map[Representation]string{RepCubin: "/b/k.cubin"})
	require.NoError(t, err)

	next.Files[RepSource] = "/elsewhere.cu"
	assert.Equal(t, "/src/k.cu", a.Files[RepSource])
	_, has := a.Files[RepCubin]
	assert.False(t, has)
	assert.Equal(t, StageSource, a.Stage)
}

func TestReplacementRequiresSnapshot(t *testing.T) {
	a := NewArtifact("/src/k.cu", "sm_86")
	a.Stage = StageDisassembled
	a.Files[RepCuasm] = "/b/k.cuasm"

	_, err := NewTracker(nil, nil).Advance(a, StageEdited, map[Representation]string{RepCuasm: "/b/k.cuasm"})
	require.Error(t, err)
	assert.True(t, IsInvalidArgError(err))

	boom := errors.New("disk full")
	_, err = NewTracker(&memSnapshotter{fail: boom}, nil).Advance(a, StageEdited, map[Representation]string{RepCuasm: "/b/k.cuasm"})
	assert.ErrorIs(t, err, boom)
}

func TestAmend(t *testing.T) {
	snap := &memSnapshotter{}
	tr := NewTracker(snap, nil)
	a := NewArtifact("/src/k.cu", "sm_86")
	a.Stage = StageEdited
	a.Files[RepCuasm] = "/b/k.cuasm"

	next, err := tr.Amend(a, map[Representation]string{RepCuasm: "/b/k.cuasm"})
	require.NoError(t, err)
	assert.Equal(t, StageEdited, next.Stage)
	assert.Equal(t, 2, next.Version)
	assert.Len(t, snap.taken, 1)

	a.Stage = StageDisassembled
	_, err = tr.Amend(a, map[Representation]string{RepCuasm: "/b/k.cuasm"})
	assert.True(t, IsStageOrderError(err))
}

func TestParseStage(t *testing.T) {
	for s := StageSource; s <= StageReassembled; s++ {
		got, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	got, err := ParseStage("edited")
	require.NoError(t, err)
	assert.Equal(t, StageEdited, got)

	_, err = ParseStage("linked")
	assert.Error(t, err)

	_, ok := StageReassembled.Next()
	assert.False(t, ok)
	_, ok = StageSource.Prev()
	assert.False(t, ok)
}

func TestExecutable(t *testing.T) {
	a := NewArtifact("/src/k.cu", "sm_86")
	assert.False(t, a.Executable())

	a.Stage = StageDisassembled
	assert.False(t, a.Executable(), "no binary")

	a.Files[RepCubin] = "/b/k.cubin"
	assert.True(t, a.Executable())
}

func TestParseRef(t *testing.T) {
	r, err := ParseRef("abc@3")
	require.NoError(t, err)
	assert.Equal(t, Ref{ID: "abc", Version: 3}, r)
	assert.Equal(t, "abc@3", r.String())

	r, err = ParseRef("abc")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Version)

	for _, bad := range []string{"", "@2", "abc@0", "abc@x"} {
		_, err := ParseRef(bad)
		assert.Error(t, err, bad)
	}
}

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynnColeArt/sassplay"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPutDeduplicatesContent(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.cuasm", "IADD3 R0, R1, R2, RZ ;\n")
	b := writeFile(t, dir, "b.cuasm", "IADD3 R0, R1, R2, RZ ;\n")

	da, pa, err := s.Put(a)
	require.NoError(t, err)
	db, pb, err := s.Put(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Equal(t, pa, pb)
	assert.Len(t, da, 64)
	assert.Equal(t, filepath.Join(s.Root(), "blobs", da[:2], da+".cuasm"), pa)

	info, err := os.Stat(pa)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	got, err := s.BlobPath(da)
	require.NoError(t, err)
	assert.Equal(t, pa, got)
}

func TestSnapshotSurvivesOverwrite(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "kernel.cubin", "original")

	snap, err := s.Snapshot(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("replaced"), 0o644))

	data, err := os.ReadFile(snap.Path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.False(t, snap.TakenAt.IsZero())
}

func TestSaveIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "k.cu", "__global__ void k() {}")

	v1 := sassplay.NewArtifact(src, "sm_86")
	saved, err := s.Save(v1)
	require.NoError(t, err)
	assert.Len(t, saved.Digests[sassplay.RepSource], 64)

	// Same version again is rejected.
	_, err = s.Save(v1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Skipping a version is rejected.
	skip := v1
	skip.Version = 3
	_, err = s.Save(skip)
	assert.ErrorIs(t, err, ErrVersionConflict)

	tracker := sassplay.NewTracker(s, nil)
	cubin := writeFile(t, dir, "k.cubin", "\x7fELF")
	ptx := writeFile(t, dir, "k.ptx", ".version 7.8")
	v2, err := tracker.Advance(saved, sassplay.StageCompiled, map[sassplay.Representation]string{
		sassplay.RepCubin: cubin,
		sassplay.RepPTX:   ptx,
	})
	require.NoError(t, err)
	_, err = s.Save(v2)
	require.NoError(t, err)

	history, err := s.History(v1.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sassplay.StageSource, history[0].Stage)
	assert.Equal(t, sassplay.StageCompiled, history[1].Stage)
	require.NotNil(t, history[1].Parent)
	assert.Equal(t, v1.Ref(), *history[1].Parent)
	assert.Equal(t, cubin, history[1].Files[sassplay.RepCubin])

	latest, err := s.Latest(v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.WithinDuration(t, v2.CreatedAt, latest.CreatedAt, time.Millisecond)

	first, err := s.Get(sassplay.Ref{ID: v1.ID, Version: 1})
	require.NoError(t, err)
	assert.Equal(t, sassplay.StageSource, first.Stage)
}

func TestBackupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	a := sassplay.NewArtifact(writeFile(t, dir, "k.cu", "src"), "sm_86")
	a.Stage = sassplay.StageEdited
	a.Files[sassplay.RepCuasm] = writeFile(t, dir, "k.cuasm", "v1")
	saved, err := s.Save(a)
	require.NoError(t, err)

	tracker := sassplay.NewTracker(s, nil)
	next, err := tracker.Amend(saved, map[sassplay.Representation]string{
		sassplay.RepCuasm: writeFile(t, dir, "k2.cuasm", "v2"),
	})
	require.NoError(t, err)
	_, err = s.Save(next)
	require.NoError(t, err)

	got, err := s.Version(a.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, got.Backup)
	assert.Equal(t, sassplay.RepCuasm, got.Backup.Representation)
	data, err := os.ReadFile(got.Backup.Path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestMaterializePinsContent(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	a := sassplay.NewArtifact(writeFile(t, dir, "k.cu", "src"), "sm_86")
	cubin := writeFile(t, dir, "k.cubin", "first build")
	a.Stage = sassplay.StageCompiled
	a.Files[sassplay.RepCubin] = cubin
	saved, err := s.Save(a)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(cubin, []byte("rebuilt"), 0o644))

	m, err := s.Materialize(saved)
	require.NoError(t, err)
	path, ok := m.Binary()
	require.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first build", string(data))
	// The original artifact is untouched.
	assert.Equal(t, cubin, saved.Files[sassplay.RepCubin])
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Latest("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Version("missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.History("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.BlobPath("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLineages(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	older := sassplay.NewArtifact(writeFile(t, dir, "a.cu", "a"), "sm_86")
	older.CreatedAt = base
	newer := sassplay.NewArtifact(writeFile(t, dir, "b.cu", "b"), "sm_80")
	newer.CreatedAt = base.Add(time.Hour)
	for _, a := range []sassplay.Artifact{older, newer} {
		_, err := s.Save(a)
		require.NoError(t, err)
	}

	heads, err := s.Lineages()
	require.NoError(t, err)
	require.Len(t, heads, 2)
	assert.Equal(t, newer.ID, heads[0].ID)
	assert.Equal(t, older.ID, heads[1].ID)
}

func TestReports(t *testing.T) {
	s := openTestStore(t)
	speedup := 1.25
	r := &sassplay.ComparisonReport{
		Family:      "vector_add",
		Spec:        sassplay.DefaultExecutionSpec(),
		Baseline:    sassplay.SideReport{Artifact: sassplay.Ref{ID: "base", Version: 2}, Status: sassplay.StatusSuccess},
		Modified:    sassplay.SideReport{Artifact: sassplay.Ref{ID: "mod", Version: 5}, Status: sassplay.StatusSuccess},
		Speedup:     &speedup,
		BothCorrect: true,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	id, err := s.SaveReport(r)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, r.ID)

	other := &sassplay.ComparisonReport{
		Family:    "relu",
		Spec:      sassplay.DefaultExecutionSpec(),
		Baseline:  sassplay.SideReport{Artifact: sassplay.Ref{ID: "x", Version: 1}},
		Modified:  sassplay.SideReport{Artifact: sassplay.Ref{ID: "y", Version: 1}},
		CreatedAt: r.CreatedAt.Add(time.Minute),
	}
	_, err = s.SaveReport(other)
	require.NoError(t, err)

	got, err := s.Reports("mod", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	require.NotNil(t, got[0].Speedup)
	assert.InDelta(t, 1.25, *got[0].Speedup, 1e-12)

	all, err := s.Reports("", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "relu", all[0].Family)
}

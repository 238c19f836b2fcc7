package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LynnColeArt/sassplay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingEditor advances the version whenever the file content changes.
type countingEditor struct {
	mu      sync.Mutex
	calls   int
	version int
	last    string
	fail    error
}

func (e *countingEditor) Edit(ref sassplay.Ref, path string) (sassplay.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	a := sassplay.Artifact{ID: ref.ID, Version: e.version, Stage: sassplay.StageEdited}
	if e.fail != nil {
		return a, e.fail
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	if string(data) != e.last {
		e.last = string(data)
		e.version++
		a.Version = e.version
	}
	return a, nil
}

func (e *countingEditor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newWatched(t *testing.T, editor Editor) (*Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.cuasm")
	require.NoError(t, os.WriteFile(path, []byte("MOV R1, c[0x0][0x28] ;\n"), 0o644))
	w, err := New(editor, sassplay.Ref{ID: "k", Version: 3}, path, Options{Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	return w, path
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for edit")
		return Event{}
	}
}

func TestBurstOfWritesIsOneEdit(t *testing.T) {
	editor := &countingEditor{version: 3}
	w, path := newWatched(t, editor)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("NOP ;\n"+string(rune('a'+i))+"\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	ev := next(t, w.Edited())
	require.NoError(t, ev.Err)
	assert.Equal(t, 4, ev.Artifact.Version)
	assert.Equal(t, 1, editor.Calls())

	require.NoError(t, os.WriteFile(path, []byte("NOP ;\nsecond\n"), 0o644))
	ev = next(t, w.Edited())
	assert.Equal(t, 5, ev.Artifact.Version)
}

func TestIgnoresOtherFiles(t *testing.T) {
	editor := &countingEditor{version: 3}
	w, path := newWatched(t, editor)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.cuasm"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	w.Stop()

	assert.Zero(t, editor.Calls())
	_, ok := <-w.Edited()
	assert.False(t, ok)
}

func TestEditErrorsAreReported(t *testing.T) {
	boom := errors.New("stage order")
	editor := &countingEditor{version: 3, fail: boom}
	w, path := newWatched(t, editor)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("changed ;\n"), 0o644))
	ev := next(t, w.Edited())
	assert.ErrorIs(t, ev.Err, boom)
}

func TestStopIsIdempotentAndContextEndsRun(t *testing.T) {
	w, _ := newWatched(t, &countingEditor{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case _, ok := <-w.Edited():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit on cancel")
	}
	w.Stop()
	w.Stop()
}

func TestNewRequiresExistingFile(t *testing.T) {
	_, err := New(&countingEditor{}, sassplay.Ref{ID: "k"}, filepath.Join(t.TempDir(), "missing.cuasm"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

package sassplay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// ptxImage returns a minimal PTX module declaring the given entries. The
// tag is placed in a comment so images with the same entries can differ.
func ptxImage(tag string, entries ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s\n.version 7.8\n.target sm_86\n.address_size 64\n\n", tag)
	for _, e := range entries {
		fmt.Fprintf(&b, ".visible .entry %s(\n\t.param .u64 p0\n)\n{\n\tret;\n}\n\n", e)
	}
	return []byte(b.String())
}

// compiledArtifact writes image to a temp dir and returns a COMPILED
// artifact whose binary is that file.
func compiledArtifact(t testing.TB, image []byte) Artifact {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.cubin")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	a := NewArtifact(filepath.Join(dir, "kernel.cu"), "sm_86")
	a.Stage = StageCompiled
	a.Files[RepCubin] = path
	return a
}

// newTestEmulator returns an emulator closed at test cleanup.
func newTestEmulator(t testing.TB) *Emulator {
	t.Helper()
	emu := NewEmulator()
	t.Cleanup(emu.Close)
	return emu
}

// memSnapshotter records snapshots without touching disk.
type memSnapshotter struct {
	mu    sync.Mutex
	taken []string
	fail  error
}

func (m *memSnapshotter) Snapshot(path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Snapshot{}, m.fail
	}
	m.taken = append(m.taken, path)
	sum := sha256.Sum256([]byte(path))
	d := hex.EncodeToString(sum[:])
	return Snapshot{Digest: d, Path: "/blobs/" + d, TakenAt: time.Unix(0, 0)}, nil
}

func testSpec(n, reps int) ExecutionSpec {
	s := DefaultExecutionSpec()
	s.ProblemSize = n
	s.Repetitions = reps
	return s
}

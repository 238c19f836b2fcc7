//go:build unix

package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynnColeArt/sassplay"
)

const fakeNVCC = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "nvcc: NVIDIA (R) Cuda compiler driver"
  echo "Cuda compilation tools, release 12.2, V12.2.140"
  exit 0
fi
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
echo "// generated" > "$out"
`

const fakeNVDisasm = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "nvdisasm: NVIDIA (R) CUDA disassembler"
  exit 0
fi
echo "        /*0000*/                   MOV R1, c[0x0][0x28] ;"
`

const fakeCuAsm = `#!/bin/sh
case "$1" in
--help)
  echo "usage: cuasm [-h] [-o OUTPUT] infile"
  ;;
--bin2asm)
  printf '\t.type vectorAdd,@function\n  [B------:R-:W-:-:S02]  /*0000*/  MOV R1, c[0x0][0x28] ;\n' > "$4"
  ;;
--asm2bin)
  if grep -q BADOP "$2"; then
    echo "Traceback (most recent call last):" >&2
    echo "ValueError: Line 2: Unknown instruction BADOP" >&2
    exit 1
  fi
  cp "$2" "$4"
  ;;
esac
`

func writeTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func fakeTools(t *testing.T) Tools {
	t.Helper()
	dir := t.TempDir()
	return Tools{
		NVCC:     writeTool(t, dir, "nvcc", fakeNVCC),
		NVDisasm: writeTool(t, dir, "nvdisasm", fakeNVDisasm),
		CuAsm:    writeTool(t, dir, "cuasm", fakeCuAsm),
	}
}

func TestProbe(t *testing.T) {
	tools := fakeTools(t)
	a := Probe(context.Background(), tools, Options{})
	assert.Empty(t, a.Missing())
	assert.Equal(t, "Cuda compilation tools, release 12.2, V12.2.140", a.NVCC.Version)
	assert.Equal(t, "usage: cuasm [-h] [-o OUTPUT] infile", a.CuAsm.Version)
	assert.NotZero(t, a.Host.Cores)

	dir := t.TempDir()
	noexec := filepath.Join(dir, "nvdisasm")
	require.NoError(t, os.WriteFile(noexec, []byte("#!/bin/sh\n"), 0o644))

	a = Probe(context.Background(), Tools{
		NVCC:     "nvcc",
		NVDisasm: noexec,
		CuAsm:    filepath.Join(dir, "missing"),
	}, Options{})
	assert.Equal(t, []string{"nvcc", "nvdisasm", "cuasm"}, a.Missing())
	assert.Equal(t, "path must be absolute", a.NVCC.Err)
	assert.Equal(t, "not executable", a.NVDisasm.Err)
	assert.NotEmpty(t, a.CuAsm.Err)
}

func TestCompile(t *testing.T) {
	tc := New(Probe(context.Background(), fakeTools(t), Options{}), Options{BuildDir: t.TempDir()})
	src := filepath.Join(t.TempDir(), "vector_add.cu")
	require.NoError(t, os.WriteFile(src, []byte("__global__ void vectorAdd() {}"), 0o644))

	out, err := tc.Compile(context.Background(), src, "sm_86")
	require.NoError(t, err)
	assert.Equal(t, "vector_add.ptx", filepath.Base(out.PTXPath))
	assert.Equal(t, "vector_add.cubin", filepath.Base(out.CubinPath))
	assert.FileExists(t, out.PTXPath)
	assert.FileExists(t, out.CubinPath)
}

func TestCompileRejections(t *testing.T) {
	tc := New(Probe(context.Background(), fakeTools(t), Options{}), Options{})
	dir := t.TempDir()

	_, err := tc.Compile(context.Background(), filepath.Join(dir, "kernel.py"), "sm_86")
	assert.True(t, sassplay.IsInvalidArgError(err))

	_, err = tc.Compile(context.Background(), filepath.Join(dir, "kernel.cu"), "ampere")
	assert.True(t, sassplay.IsInvalidArgError(err))

	unavailable := New(&Availability{}, Options{})
	_, err = unavailable.Compile(context.Background(), filepath.Join(dir, "kernel.cu"), "sm_86")
	assert.ErrorIs(t, err, sassplay.ErrToolUnavailable)
	assert.True(t, sassplay.IsToolchainError(err))
}

func TestCompileFailureCarriesStderr(t *testing.T) {
	tools := fakeTools(t)
	diag := `kernel.cu(3): error: identifier "foo" is undefined`
	tools.NVCC = writeTool(t, t.TempDir(), "nvcc", "#!/bin/sh\n[ \"$1\" = \"--version\" ] && exit 0\necho '"+diag+"' >&2\nexit 2\n")
	tc := New(Probe(context.Background(), tools, Options{}), Options{})

	src := filepath.Join(t.TempDir(), "kernel.cu")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	_, err := tc.Compile(context.Background(), src, "")

	var te *sassplay.ToolchainError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "compile", te.Stage)
	assert.Equal(t, "nvcc", te.Tool)
	assert.Contains(t, te.Stderr, diag)
	assert.False(t, te.Timeout)
}

func TestToolTimeout(t *testing.T) {
	tools := fakeTools(t)
	tools.NVCC = writeTool(t, t.TempDir(), "nvcc", "#!/bin/sh\n[ \"$1\" = \"--version\" ] && exit 0\nsleep 30\n")
	tc := New(Probe(context.Background(), tools, Options{}), Options{Timeout: 200 * time.Millisecond})

	src := filepath.Join(t.TempDir(), "kernel.cu")
	require.NoError(t, os.WriteFile(src, nil, 0o644))

	start := time.Now()
	_, err := tc.Compile(context.Background(), src, "sm_86")
	var te *sassplay.ToolchainError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.True(t, te.Timeout)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDisassembleAndAssemble(t *testing.T) {
	build := t.TempDir()
	tc := New(Probe(context.Background(), fakeTools(t), Options{}), Options{BuildDir: build})
	cubin := filepath.Join(t.TempDir(), "kernel.cubin")
	require.NoError(t, os.WriteFile(cubin, []byte("\x7fELF"), 0o644))

	dis, err := tc.Disassemble(context.Background(), cubin, "sm_86")
	require.NoError(t, err)
	listing, err := os.ReadFile(dis.SASSPath)
	require.NoError(t, err)
	assert.Contains(t, string(listing), "MOV R1")
	assert.FileExists(t, dis.CuasmPath)

	asm, err := tc.Assemble(context.Background(), dis.CuasmPath, "sm_86")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(build, "kernel_new.cubin"), asm.CubinPath)
	assert.FileExists(t, asm.CubinPath)
}

func TestAssembleReportsSyntaxErrors(t *testing.T) {
	tc := New(Probe(context.Background(), fakeTools(t), Options{}), Options{})
	dir := t.TempDir()

	// Caught by the assembler.
	bad := filepath.Join(dir, "bad.cuasm")
	require.NoError(t, os.WriteFile(bad, []byte("\t.type k,@function\n  [B------:R-:W-:-:S02]  /*0000*/  BADOP R1 ;\n"), 0o644))
	_, err := tc.Assemble(context.Background(), bad, "sm_86")
	var ae *sassplay.AssembleError
	require.True(t, errors.As(err, &ae), "got %v", err)
	require.Len(t, ae.SyntaxErrors, 1)
	assert.Equal(t, 2, ae.SyntaxErrors[0].Line)
	assert.Contains(t, ae.SyntaxErrors[0].Message, "BADOP")
	assert.NoFileExists(t, filepath.Join(dir, "bad_new.cubin"))

	// Caught before the assembler runs.
	unterminated := filepath.Join(dir, "edit.cuasm")
	require.NoError(t, os.WriteFile(unterminated, []byte("  [B------:R-:W-:-:S02]  /*0000*/  MOV R1, c[0x0][0x28]\n"), 0o644))
	_, err = tc.Assemble(context.Background(), unterminated, "sm_86")
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 1, ae.SyntaxErrors[0].Line)
	assert.Empty(t, ae.Stderr)
}

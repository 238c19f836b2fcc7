// Package toolchain wraps the external CUDA tools a kernel passes through:
// nvcc to compile, nvdisasm and CuAssembler to disassemble, and CuAssembler
// again to reassemble edited text. Each call is synchronous and bounded by
// a timeout; a failure carries the tool's diagnostic text unchanged.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

const (
	// DefaultArch is the SM target used when none is given.
	DefaultArch = "sm_86"
	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout = 2 * time.Minute
)

var archRe = regexp.MustCompile(`^sm_\d+[a-z]?$`)

// Tools holds absolute paths of the external executables. Nothing is looked
// up on PATH.
type Tools struct {
	NVCC     string `yaml:"nvcc" json:"nvcc"`
	NVDisasm string `yaml:"nvdisasm" json:"nvdisasm"`
	CuAsm    string `yaml:"cuasm" json:"cuasm"`
}

// Options configures the adapters.
type Options struct {
	// BuildDir receives generated files. Empty means next to the input.
	BuildDir string
	Timeout  time.Duration
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Compiled lists the outputs of Compile.
type Compiled struct {
	PTXPath   string
	CubinPath string
}

// Disassembled lists the outputs of Disassemble. SASSPath is a read-only
// listing; CuasmPath is the editable text that Assemble accepts.
type Disassembled struct {
	SASSPath  string
	CuasmPath string
}

// Assembled lists the output of Assemble.
type Assembled struct {
	CubinPath string
}

// Toolchain runs the adapters against probed tools.
type Toolchain struct {
	avail *Availability
	opts  Options
	log   *zap.Logger
}

// New creates a Toolchain from the result of Probe. The tools are not
// probed again; an adapter whose tool was unavailable fails with
// ErrToolUnavailable.
func New(avail *Availability, opts Options) *Toolchain {
	opts = opts.withDefaults()
	if avail == nil {
		avail = &Availability{}
	}
	return &Toolchain{avail: avail, opts: opts, log: opts.Logger}
}

// Availability returns the probe result the toolchain was built from.
func (t *Toolchain) Availability() *Availability {
	return t.avail
}

// Compile runs nvcc twice, producing PTX and a cubin for arch.
func (t *Toolchain) Compile(ctx context.Context, sourcePath, arch string) (Compiled, error) {
	const stage = "compile"
	arch, err := checkArch(arch)
	if err != nil {
		return Compiled{}, err
	}
	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".cu":
	case ".py":
		return Compiled{}, sassplay.NewInvalidArgError("Compile", "Triton sources are not supported: "+sourcePath)
	default:
		return Compiled{}, sassplay.NewInvalidArgError("Compile", "unsupported source type: "+sourcePath)
	}
	if err := t.require(stage, t.avail.NVCC); err != nil {
		return Compiled{}, err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return Compiled{}, fmt.Errorf("%s: %w", stage, err)
	}

	dir, err := t.outputDir(sourcePath)
	if err != nil {
		return Compiled{}, err
	}
	stem := stemOf(sourcePath)
	out := Compiled{
		PTXPath:   filepath.Join(dir, stem+".ptx"),
		CubinPath: filepath.Join(dir, stem+".cubin"),
	}
	for _, step := range []struct{ flag, path string }{
		{"-ptx", out.PTXPath},
		{"-cubin", out.CubinPath},
	} {
		if _, err := t.run(ctx, stage, t.avail.NVCC, step.flag, sourcePath, "-o", step.path, "-arch="+arch, "-O3"); err != nil {
			return Compiled{}, err
		}
	}
	return out, nil
}

// Disassemble writes the nvdisasm listing and the CuAssembler text for a
// cubin.
func (t *Toolchain) Disassemble(ctx context.Context, cubinPath, arch string) (Disassembled, error) {
	const stage = "disassemble"
	if _, err := checkArch(arch); err != nil {
		return Disassembled{}, err
	}
	if err := t.require(stage, t.avail.NVDisasm); err != nil {
		return Disassembled{}, err
	}
	if err := t.require(stage, t.avail.CuAsm); err != nil {
		return Disassembled{}, err
	}
	if _, err := os.Stat(cubinPath); err != nil {
		return Disassembled{}, fmt.Errorf("%s: %w", stage, err)
	}

	dir, err := t.outputDir(cubinPath)
	if err != nil {
		return Disassembled{}, err
	}
	stem := stemOf(cubinPath)
	out := Disassembled{
		SASSPath:  filepath.Join(dir, stem+".sass"),
		CuasmPath: filepath.Join(dir, stem+".cuasm"),
	}

	listing, err := t.run(ctx, stage, t.avail.NVDisasm, "-g", "-c", cubinPath)
	if err != nil {
		return Disassembled{}, err
	}
	if err := os.WriteFile(out.SASSPath, listing, 0o644); err != nil {
		return Disassembled{}, fmt.Errorf("%s: write listing: %w", stage, err)
	}
	if _, err := t.run(ctx, stage, t.avail.CuAsm, "--bin2asm", cubinPath, "-o", out.CuasmPath); err != nil {
		return Disassembled{}, err
	}
	return out, nil
}

// Assemble lints the edited text and reassembles it into <stem>_new.cubin.
// Diagnostics from either step come back as *sassplay.AssembleError with at
// least one SyntaxError.
func (t *Toolchain) Assemble(ctx context.Context, editedPath, arch string) (Assembled, error) {
	const stage = "assemble"
	if _, err := checkArch(arch); err != nil {
		return Assembled{}, err
	}
	if err := t.require(stage, t.avail.CuAsm); err != nil {
		return Assembled{}, err
	}
	text, err := os.ReadFile(editedPath)
	if err != nil {
		return Assembled{}, fmt.Errorf("%s: %w", stage, err)
	}
	if issues := Lint(text); len(issues) > 0 {
		t.log.Info("edited text rejected before assembly",
			zap.String("path", editedPath),
			zap.Int("issues", len(issues)))
		return Assembled{}, &sassplay.AssembleError{Path: editedPath, SyntaxErrors: issues}
	}

	dir, err := t.outputDir(editedPath)
	if err != nil {
		return Assembled{}, err
	}
	out := Assembled{CubinPath: filepath.Join(dir, stemOf(editedPath)+"_new.cubin")}
	if _, err := t.run(ctx, stage, t.avail.CuAsm, "--asm2bin", editedPath, "-o", out.CubinPath); err != nil {
		var te *sassplay.ToolchainError
		if errors.As(err, &te) && !te.Timeout && te.Stderr != "" {
			return Assembled{}, &sassplay.AssembleError{
				Path:         editedPath,
				SyntaxErrors: ParseDiagnostics(te.Stderr),
				Stderr:       te.Stderr,
			}
		}
		return Assembled{}, err
	}
	return out, nil
}

func (t *Toolchain) require(stage string, s ToolStatus) error {
	if s.Available {
		return nil
	}
	reason := s.Err
	if reason == "" {
		reason = "not probed"
	}
	return &sassplay.ToolchainError{
		Stage: stage,
		Tool:  s.Name,
		Err:   fmt.Errorf("%w: %s", sassplay.ErrToolUnavailable, reason),
	}
}

func (t *Toolchain) outputDir(input string) (string, error) {
	dir := t.opts.BuildDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	return dir, nil
}

func checkArch(arch string) (string, error) {
	if arch == "" {
		return DefaultArch, nil
	}
	if !archRe.MatchString(arch) {
		return "", sassplay.NewInvalidArgError("toolchain", fmt.Sprintf("invalid architecture %q (want sm_XX)", arch))
	}
	return arch, nil
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Package pipeline drives an artifact through compile, disassemble, edit
// and reassemble, persisting every version, and runs executions and
// comparisons against stored versions.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/toolchain"
)

// Adapters are the external tool wrappers. *toolchain.Toolchain
// implements it.
type Adapters interface {
	Compile(ctx context.Context, sourcePath, arch string) (toolchain.Compiled, error)
	Disassemble(ctx context.Context, cubinPath, arch string) (toolchain.Disassembled, error)
	Assemble(ctx context.Context, editedPath, arch string) (toolchain.Assembled, error)
}

// Repository persists versions and reports. *store.Store implements it.
type Repository interface {
	sassplay.Snapshotter
	Put(path string) (digest, blobPath string, err error)
	BlobPath(digest string) (string, error)
	Save(a sassplay.Artifact) (sassplay.Artifact, error)
	Get(ref sassplay.Ref) (sassplay.Artifact, error)
	Materialize(a sassplay.Artifact) (sassplay.Artifact, error)
	SaveReport(r *sassplay.ComparisonReport) (string, error)
}

// Config holds pipeline settings.
type Config struct {
	// Arch is the SM target recorded on uploaded artifacts.
	Arch   string
	Logger *zap.Logger
}

// Pipeline is safe for concurrent use to the extent its Repository is;
// device access is serialized by the Comparator's engine.
type Pipeline struct {
	tools   Adapters
	repo    Repository
	cmp     *sassplay.Comparator
	tracker *sassplay.Tracker
	arch    string
	log     *zap.Logger
	now     func() time.Time
}

// New wires the adapters, repository and comparator together. cmp may be
// nil when only the transformation stages are needed.
func New(tools Adapters, repo Repository, cmp *sassplay.Comparator, cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	arch := cfg.Arch
	if arch == "" {
		arch = toolchain.DefaultArch
	}
	return &Pipeline{
		tools:   tools,
		repo:    repo,
		cmp:     cmp,
		tracker: sassplay.NewTracker(repo, log),
		arch:    arch,
		log:     log,
		now:     time.Now,
	}
}

// Upload registers a CUDA source file as version 1 of a new lineage.
func (p *Pipeline) Upload(sourcePath string) (sassplay.Artifact, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return sassplay.Artifact{}, err
	}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".cu":
	case ".py":
		return sassplay.Artifact{}, sassplay.NewInvalidArgError("Upload", "Triton sources are not supported: "+sourcePath)
	default:
		return sassplay.Artifact{}, sassplay.NewInvalidArgError("Upload", "expected a .cu source: "+sourcePath)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return sassplay.Artifact{}, err
	}
	if info.IsDir() {
		return sassplay.Artifact{}, sassplay.NewInvalidArgError("Upload", sourcePath+" is a directory")
	}

	a, err := p.repo.Save(sassplay.NewArtifact(abs, p.arch))
	if err != nil {
		return sassplay.Artifact{}, err
	}
	p.log.Info("source uploaded", zap.String("artifact", a.ID), zap.String("path", abs))
	return a, nil
}

// head returns the latest version of ref's lineage. Transitions only
// extend the newest version; naming an older one is an error.
func (p *Pipeline) head(ref sassplay.Ref) (sassplay.Artifact, error) {
	a, err := p.repo.Get(sassplay.Ref{ID: ref.ID})
	if err != nil {
		return sassplay.Artifact{}, err
	}
	if ref.Version != 0 && ref.Version != a.Version {
		return a, sassplay.NewInvalidArgError("pipeline",
			fmt.Sprintf("%s is not the latest version (%s); only the latest version can be transformed", ref, a.Ref()))
	}
	return a, nil
}

// advance applies a transition and persists the result.
func (p *Pipeline) advance(a sassplay.Artifact, target sassplay.Stage, files map[sassplay.Representation]string) (sassplay.Artifact, error) {
	next, err := p.trackerFor(a).Advance(a, target, files)
	if err != nil {
		return a, err
	}
	return p.repo.Save(next)
}

// trackerFor returns a tracker whose backups of a's files use the content
// recorded for a, which differs from the working file after an in-place
// edit.
func (p *Pipeline) trackerFor(a sassplay.Artifact) *sassplay.Tracker {
	return sassplay.NewTracker(recorded{p: p, a: a}, p.log)
}

type recorded struct {
	p *Pipeline
	a sassplay.Artifact
}

func (r recorded) Snapshot(path string) (sassplay.Snapshot, error) {
	for rep, file := range r.a.Files {
		if file != path {
			continue
		}
		d, ok := r.a.Digests[rep]
		if !ok {
			break
		}
		blob, err := r.p.repo.BlobPath(d)
		if err != nil {
			break
		}
		return sassplay.Snapshot{Digest: d, Path: blob, TakenAt: r.p.now()}, nil
	}
	return r.p.repo.Snapshot(path)
}

// Compile runs the compiler on a SOURCE artifact.
func (p *Pipeline) Compile(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, error) {
	a, err := p.head(ref)
	if err != nil {
		return a, err
	}
	if err := p.tracker.Check(a, sassplay.StageCompiled); err != nil {
		return a, err
	}
	out, err := p.tools.Compile(ctx, a.Files[sassplay.RepSource], a.Arch)
	if err != nil {
		return a, err
	}
	return p.advance(a, sassplay.StageCompiled, map[sassplay.Representation]string{
		sassplay.RepPTX:   out.PTXPath,
		sassplay.RepCubin: out.CubinPath,
	})
}

// Disassemble produces the listing and editable text of a COMPILED
// artifact. The returned path is the file to edit.
func (p *Pipeline) Disassemble(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, string, error) {
	a, err := p.head(ref)
	if err != nil {
		return a, "", err
	}
	if err := p.tracker.Check(a, sassplay.StageDisassembled); err != nil {
		return a, "", err
	}
	cubin, _ := a.Binary()
	out, err := p.tools.Disassemble(ctx, cubin, a.Arch)
	if err != nil {
		return a, "", err
	}
	next, err := p.advance(a, sassplay.StageDisassembled, map[sassplay.Representation]string{
		sassplay.RepSASS:  out.SASSPath,
		sassplay.RepCuasm: out.CuasmPath,
	})
	if err != nil {
		return a, "", err
	}
	return next, out.CuasmPath, nil
}

// Edit records a modification of the editable text. editedPath may be
// empty to mean the artifact's current cuasm file. A DISASSEMBLED artifact
// moves to EDITED; an EDITED one gains a new version when the content
// changed and is returned unchanged otherwise.
func (p *Pipeline) Edit(ref sassplay.Ref, editedPath string) (sassplay.Artifact, error) {
	a, err := p.head(ref)
	if err != nil {
		return a, err
	}
	if editedPath == "" {
		editedPath = a.Files[sassplay.RepCuasm]
	}
	if editedPath == "" {
		return a, sassplay.NewInvalidArgError("Edit", a.Ref().String()+" has no editable text")
	}
	editedPath, err = filepath.Abs(editedPath)
	if err != nil {
		return a, err
	}
	files := map[sassplay.Representation]string{sassplay.RepCuasm: editedPath}

	switch a.Stage {
	case sassplay.StageDisassembled:
		return p.advance(a, sassplay.StageEdited, files)
	case sassplay.StageEdited:
		digest, _, err := p.repo.Put(editedPath)
		if err != nil {
			return a, err
		}
		if digest == a.Digests[sassplay.RepCuasm] && editedPath == a.Files[sassplay.RepCuasm] {
			p.log.Debug("edit unchanged", zap.String("artifact", a.ID), zap.String("digest", digest))
			return a, nil
		}
		next, err := p.trackerFor(a).Amend(a, files)
		if err != nil {
			return a, err
		}
		return p.repo.Save(next)
	default:
		return a, p.tracker.Check(a, sassplay.StageEdited)
	}
}

// Assemble reassembles the edited text of an EDITED artifact. On an
// assembler error the artifact is returned unchanged with the
// *sassplay.AssembleError.
func (p *Pipeline) Assemble(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, error) {
	a, err := p.head(ref)
	if err != nil {
		return a, err
	}
	if err := p.tracker.Check(a, sassplay.StageReassembled); err != nil {
		return a, err
	}
	out, err := p.tools.Assemble(ctx, a.Files[sassplay.RepCuasm], a.Arch)
	if err != nil {
		p.log.Info("reassembly failed", zap.String("artifact", a.ID), zap.Error(err))
		return a, err
	}
	return p.advance(a, sassplay.StageReassembled, map[sassplay.Representation]string{
		sassplay.RepCubin: out.CubinPath,
	})
}

// Resolve returns the stored version named by ref with its files pinned to
// their content at the time the version was recorded.
func (p *Pipeline) Resolve(ref sassplay.Ref) (sassplay.Artifact, error) {
	a, err := p.repo.Get(ref)
	if err != nil {
		return a, err
	}
	return p.repo.Materialize(a)
}

// Run executes and verifies one stored version.
func (p *Pipeline) Run(ctx context.Context, ref sassplay.Ref, spec sassplay.ExecutionSpec, k sassplay.KernelFamily) (*sassplay.ExecutionResult, sassplay.Verdict, error) {
	if p.cmp == nil {
		return nil, sassplay.Verdict{}, sassplay.NewInvalidArgError("Run", "pipeline has no execution engine")
	}
	a, err := p.Resolve(ref)
	if err != nil {
		return nil, sassplay.Verdict{}, err
	}
	return p.cmp.Run(ctx, a, spec, k)
}

// Compare runs two stored versions and persists the report. In strict
// mode a tolerance failure is returned alongside the saved report.
func (p *Pipeline) Compare(ctx context.Context, baseline, modified sassplay.Ref, spec sassplay.ExecutionSpec, k sassplay.KernelFamily) (*sassplay.ComparisonReport, error) {
	if p.cmp == nil {
		return nil, sassplay.NewInvalidArgError("Compare", "pipeline has no execution engine")
	}
	base, err := p.Resolve(baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	mod, err := p.Resolve(modified)
	if err != nil {
		return nil, fmt.Errorf("modified: %w", err)
	}

	report, cerr := p.cmp.Compare(ctx, base, mod, spec, k)
	if report == nil {
		return nil, cerr
	}
	if _, err := p.repo.SaveReport(report); err != nil {
		return report, fmt.Errorf("save report: %w", err)
	}
	return report, cerr
}

package sassplay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stage is a position in the fixed kernel transformation sequence.
type Stage int

const (
	StageSource Stage = iota
	StageCompiled
	StageDisassembled
	StageEdited
	StageReassembled
)

var stageNames = [...]string{
	StageSource:       "SOURCE",
	StageCompiled:     "COMPILED",
	StageDisassembled: "DISASSEMBLED",
	StageEdited:       "EDITED",
	StageReassembled:  "REASSEMBLED",
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the five pipeline stages.
func (s Stage) Valid() bool {
	return s >= StageSource && s <= StageReassembled
}

// Next returns the immediate successor of s.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == StageReassembled {
		return s, false
	}
	return s + 1, true
}

// Prev returns the immediate predecessor of s.
func (s Stage) Prev() (Stage, bool) {
	if !s.Valid() || s == StageSource {
		return s, false
	}
	return s - 1, true
}

// ParseStage parses a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Stage(i), nil
		}
	}
	return 0, NewInvalidArgError("ParseStage", fmt.Sprintf("unknown stage %q", name))
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	v, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Snapshot is an immutable, content-addressed copy of one representation
// file, captured before that file is replaced.
type Snapshot struct {
	Representation Representation `json:"representation"`
	Digest         string         `json:"digest"`
	Path           string         `json:"path"`
	TakenAt        time.Time      `json:"taken_at"`
}

// Snapshotter captures content-addressed copies of files.
type Snapshotter interface {
	Snapshot(path string) (Snapshot, error)
}

// Tracker enforces the stage sequence. Every successful transition returns
// a new artifact version; the input artifact is never modified.
type Tracker struct {
	snap Snapshotter
	log  *zap.Logger
	now  func() time.Time
}

// NewTracker creates a tracker that snapshots replaced files through snap.
func NewTracker(snap Snapshotter, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{snap: snap, log: log, now: time.Now}
}

// Check reports whether a may advance to target without performing the
// transition. Pipelines call it before invoking an external tool.
func (t *Tracker) Check(a Artifact, target Stage) error {
	next, ok := a.Stage.Next()
	if ok && next == target {
		return nil
	}
	expected, hasPrev := target.Prev()
	if !hasPrev {
		// SOURCE has no predecessor; artifacts are only created there.
		expected = target
	}
	return &StageOrderError{
		ArtifactID: a.ID,
		Current:    a.Stage,
		Target:     target,
		Expected:   expected,
	}
}

// Advance moves a to target, attaching files for the new representations.
// A representation that already has a file is snapshotted first and the
// snapshot becomes the new version's Backup.
func (t *Tracker) Advance(a Artifact, target Stage, files map[Representation]string) (Artifact, error) {
	if err := t.Check(a, target); err != nil {
		t.log.Debug("stage transition rejected",
			zap.String("artifact", a.ID),
			zap.Stringer("from", a.Stage),
			zap.Stringer("to", target))
		return a, err
	}
	next, err := t.derive(a, files)
	if err != nil {
		return a, err
	}
	next.Stage = target
	t.log.Info("artifact advanced",
		zap.String("artifact", a.ID),
		zap.Int("version", next.Version),
		zap.Stringer("from", a.Stage),
		zap.Stringer("to", target))
	return next, nil
}

// Amend records a further manual edit of an EDITED artifact as a new
// version without changing its stage.
func (t *Tracker) Amend(a Artifact, files map[Representation]string) (Artifact, error) {
	if a.Stage != StageEdited {
		return a, &StageOrderError{
			ArtifactID: a.ID,
			Current:    a.Stage,
			Target:     StageEdited,
			Expected:   StageDisassembled,
		}
	}
	next, err := t.derive(a, files)
	if err != nil {
		return a, err
	}
	t.log.Info("edited artifact amended", zap.String("artifact", a.ID), zap.Int("version", next.Version))
	return next, nil
}

func (t *Tracker) derive(a Artifact, files map[Representation]string) (Artifact, error) {
	next := a.clone()
	next.Version = a.Version + 1
	parent := a.Ref()
	next.Parent = &parent
	next.CreatedAt = t.now()

	reps := make([]Representation, 0, len(files))
	for rep := range files {
		reps = append(reps, rep)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i] < reps[j] })

	for _, rep := range reps {
		if old, ok := a.Files[rep]; ok && old != "" {
			if t.snap == nil {
				return a, NewInvalidArgError("Advance", "no snapshotter configured; refusing to replace "+string(rep))
			}
			snap, err := t.snap.Snapshot(old)
			if err != nil {
				return a, fmt.Errorf("backup %s of %s before replacement: %w", rep, a.Ref(), err)
			}
			snap.Representation = rep
			next.Backup = &snap
			t.log.Debug("backup captured",
				zap.String("artifact", a.ID),
				zap.String("representation", string(rep)),
				zap.String("digest", snap.Digest))
		}
		next.Files[rep] = files[rep]
		delete(next.Digests, rep)
	}
	return next, nil
}

package sassplay

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Representation names one file-based form of a kernel.
type Representation string

const (
	RepSource Representation = "source" // .cu
	RepPTX    Representation = "ptx"    // compiler intermediate
	RepCubin  Representation = "cubin"  // device binary
	RepSASS   Representation = "sass"   // read-only disassembly listing
	RepCuasm  Representation = "cuasm"  // editable, reassemblable text
)

// Ref identifies one version of an artifact lineage.
type Ref struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%d", r.ID, r.Version)
}

// ParseRef parses "id" or "id@version". A missing version is returned as 0,
// meaning the latest.
func ParseRef(s string) (Ref, error) {
	id, ver, found := strings.Cut(strings.TrimSpace(s), "@")
	if id == "" {
		return Ref{}, NewInvalidArgError("ParseRef", "empty artifact id")
	}
	if !found {
		return Ref{ID: id}, nil
	}
	v, err := strconv.Atoi(ver)
	if err != nil || v < 1 {
		return Ref{}, NewInvalidArgError("ParseRef", fmt.Sprintf("invalid version in %q", s))
	}
	return Ref{ID: id, Version: v}, nil
}

// Artifact is one immutable version of a kernel as it moves through the
// pipeline. New versions are derived by the Tracker; nothing mutates an
// existing version.
type Artifact struct {
	ID        string                    `json:"id"`
	Version   int                       `json:"version"`
	Stage     Stage                     `json:"stage"`
	Arch      string                    `json:"arch"`
	Files     map[Representation]string `json:"files"`
	Digests   map[Representation]string `json:"digests,omitempty"`
	Parent    *Ref                      `json:"parent,omitempty"`
	Backup    *Snapshot                 `json:"backup,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

// NewArtifact creates the first version of a lineage at SOURCE.
func NewArtifact(sourcePath, arch string) Artifact {
	return Artifact{
		ID:        uuid.NewString(),
		Version:   1,
		Stage:     StageSource,
		Arch:      arch,
		Files:     map[Representation]string{RepSource: sourcePath},
		Digests:   map[Representation]string{},
		CreatedAt: time.Now(),
	}
}

// Ref returns the reference of this version.
func (a Artifact) Ref() Ref {
	return Ref{ID: a.ID, Version: a.Version}
}

// Binary returns the path of the current device binary.
func (a Artifact) Binary() (string, bool) {
	p, ok := a.Files[RepCubin]
	return p, ok && p != ""
}

// Executable reports whether the artifact is eligible for execution.
func (a Artifact) Executable() bool {
	if a.Stage < StageCompiled {
		return false
	}
	_, ok := a.Binary()
	return ok
}

func (a Artifact) clone() Artifact {
	c := a
	c.Files = make(map[Representation]string, len(a.Files))
	for k, v := range a.Files {
		c.Files[k] = v
	}
	c.Digests = make(map[Representation]string, len(a.Digests))
	for k, v := range a.Digests {
		c.Digests[k] = v
	}
	if a.Parent != nil {
		p := *a.Parent
		c.Parent = &p
	}
	if a.Backup != nil {
		b := *a.Backup
		c.Backup = &b
	}
	return c
}

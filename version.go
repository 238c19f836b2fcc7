// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sassplay

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/LynnColeArt/sassplay"

// BuildInfo describes the running sassplay binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Sum       string `json:"sum,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

func (b BuildInfo) String() string {
	s := "sassplay " + b.Version
	if b.Revision != "" {
		rev := b.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		s += " (" + rev
		if b.Modified {
			s += ", modified"
		}
		s += ")"
	}
	return s + " " + b.GoVersion
}

// Version returns the version of sassplay and its checksum. The returned
// values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return moduleVersion(b)
}

// ReadBuildInfo reports the module version together with the VCS stamp
// recorded by the go command. Version is "(devel)" for an unreleased main
// module and empty without module support.
func ReadBuildInfo() BuildInfo {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return BuildInfo{}
	}
	info := BuildInfo{GoVersion: b.GoVersion}
	info.Version, info.Sum = moduleVersion(b)
	for _, s := range b.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Revision = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func moduleVersion(b *debug.BuildInfo) (version, sum string) {
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace == nil {
			return m.Version, m.Sum
		}
		switch {
		case m.Replace.Version != "" && m.Replace.Path != "":
			return fmt.Sprintf("%s=>%s %s", m.Version, m.Replace.Path, m.Replace.Version), m.Replace.Sum
		case m.Replace.Version != "":
			return fmt.Sprintf("%s=>%s", m.Version, m.Replace.Version), m.Replace.Sum
		case m.Replace.Path != "":
			return fmt.Sprintf("%s=>%s", m.Version, m.Replace.Path), m.Replace.Sum
		default:
			return m.Version + "*", m.Sum + "*"
		}
	}
	return "", ""
}

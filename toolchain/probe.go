package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

// ToolStatus is the probe result for one executable.
type ToolStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Err       string `json:"error,omitempty"`
}

// Availability is the capability report produced once by Probe.
type Availability struct {
	NVCC     ToolStatus            `json:"nvcc"`
	NVDisasm ToolStatus            `json:"nvdisasm"`
	CuAsm    ToolStatus            `json:"cuasm"`
	Host     sassplay.HostFeatures `json:"host"`
	// Driver is filled in by callers that can reach a GPU driver.
	Driver string `json:"driver,omitempty"`
}

// Tools returns the status of every probed tool.
func (a *Availability) Tools() []ToolStatus {
	return []ToolStatus{a.NVCC, a.NVDisasm, a.CuAsm}
}

// Missing lists the names of tools that are unavailable.
func (a *Availability) Missing() []string {
	var out []string
	for _, s := range a.Tools() {
		if !s.Available {
			out = append(out, s.Name)
		}
	}
	return out
}

// Probe checks each configured tool: the path must be absolute and
// executable, and the tool must answer a version query within the timeout.
func Probe(ctx context.Context, tools Tools, opts Options) *Availability {
	opts = opts.withDefaults()
	a := &Availability{
		NVCC:     probeTool(ctx, "nvcc", tools.NVCC, opts.Timeout, "--version"),
		NVDisasm: probeTool(ctx, "nvdisasm", tools.NVDisasm, opts.Timeout, "--version"),
		CuAsm:    probeTool(ctx, "cuasm", tools.CuAsm, opts.Timeout, "--help"),
		Host:     sassplay.DetectHost(),
	}
	for _, s := range a.Tools() {
		if s.Available {
			opts.Logger.Debug("tool available", zap.String("tool", s.Name), zap.String("version", s.Version))
		} else {
			opts.Logger.Info("tool unavailable", zap.String("tool", s.Name), zap.String("reason", s.Err))
		}
	}
	return a
}

func probeTool(ctx context.Context, name, path string, timeout time.Duration, args ...string) ToolStatus {
	s := ToolStatus{Name: name, Path: path}
	switch {
	case path == "":
		s.Err = "not configured"
		return s
	case !filepath.IsAbs(path):
		s.Err = "path must be absolute"
		return s
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		s.Err = err.Error()
		return s
	case info.IsDir() || info.Mode().Perm()&0o111 == 0:
		s.Err = "not executable"
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, args...)
	setupProcessGroup(cmd)
	out, err := cmd.CombinedOutput()
	if err != nil {
		s.Err = "version check failed: " + strings.TrimSpace(firstLine(out, err.Error()))
		return s
	}
	s.Available = true
	s.Version = versionLine(out)
	return s
}

// versionLine picks the line naming the release, as nvcc prints it, or the
// first non-empty line.
func versionLine(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if strings.Contains(strings.ToLower(line), "release") {
			return line
		}
	}
	return first
}

func firstLine(out []byte, fallback string) string {
	if l := versionLine(out); l != "" {
		return l
	}
	return fallback
}

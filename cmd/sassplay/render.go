// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/toolchain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#101F38"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E53935"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8F98"))
	labelStyle = lipgloss.NewStyle().Width(16).Foreground(lipgloss.Color("#5C6773"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func passFail(ok bool, pass, fail string) string {
	if ok {
		return okStyle.Render(pass)
	}
	return failStyle.Render(fail)
}

func renderArtifact(a sassplay.Artifact) string {
	lines := []string{
		titleStyle.Render(a.Ref().String()),
		field("stage", a.Stage.String()),
		field("arch", a.Arch),
		field("created", a.CreatedAt.Local().Format("2006-01-02 15:04:05")),
	}
	reps := make([]string, 0, len(a.Files))
	for rep := range a.Files {
		reps = append(reps, string(rep))
	}
	sort.Strings(reps)
	for _, rep := range reps {
		lines = append(lines, field(rep, a.Files[sassplay.Representation(rep)]))
	}
	if a.Backup != nil {
		lines = append(lines, field("backup", fmt.Sprintf("%s %s", a.Backup.Representation, mutedStyle.Render(shortDigest(a.Backup.Digest)))))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderHistory(history []sassplay.Artifact) string {
	var b strings.Builder
	for _, a := range history {
		marker := " "
		if a.Executable() {
			marker = okStyle.Render("▸")
		}
		fmt.Fprintf(&b, "%s %-4d %-13s %s\n", marker, a.Version, a.Stage, mutedStyle.Render(a.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func renderTiming(t sassplay.Timing) string {
	if t.Repetitions == 0 {
		return mutedStyle.Render("no completed repetitions")
	}
	return fmt.Sprintf("%.4f ms ± %.4f (min %.4f, max %.4f, n=%d)", t.MeanMS, t.StdMS, t.MinMS, t.MaxMS, t.Repetitions)
}

func renderVerdict(v *sassplay.Verdict) string {
	if v == nil {
		return mutedStyle.Render("not verified")
	}
	s := passFail(v.Pass, "PASS", "FAIL")
	s += fmt.Sprintf(" max %s error %g at %d (tolerance %g)", v.Mode, float64(v.MaxError), v.MaxErrorIndex, v.Tolerance)
	if v.Failures > 0 {
		s += fmt.Sprintf(", %d/%d elements out of tolerance", v.Failures, v.Elements)
	}
	if v.NonFinite > 0 {
		s += failStyle.Render(fmt.Sprintf(", %d non-finite", v.NonFinite))
	}
	return s
}

func renderSamples(samples []sassplay.Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render(fmt.Sprintf("%6s  %-28s %14s %14s %12s", "index", "inputs", "output", "expected", "error")))
	for _, s := range samples {
		ins := make([]string, len(s.Inputs))
		for i, in := range s.Inputs {
			ins[i] = fmt.Sprintf("%.5g", float64(in))
		}
		fmt.Fprintf(&b, "%6d  %-28s %14.7g %14.7g %12.3g\n", s.Index, strings.Join(ins, ", "), float64(s.Output), float64(s.Expected), float64(s.Error))
	}
	return b.String()
}

func renderRun(res *sassplay.ExecutionResult, v sassplay.Verdict) string {
	lines := []string{
		titleStyle.Render(res.Artifact.String()),
		field("entry", res.Entry),
		field("device", res.Device),
		field("status", passFail(res.Succeeded(), res.Status.String(), res.Status.String())),
		field("timing", renderTiming(res.Timing)),
		field("verdict", renderVerdict(&v)),
	}
	if res.Incomplete {
		lines = append(lines, field("note", failStyle.Render("cancelled before all repetitions completed")))
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n" + renderSamples(v.Samples)
}

func renderSide(title string, s sassplay.SideReport) string {
	lines := []string{
		titleStyle.Render(title + " " + s.Artifact.String()),
		field("status", passFail(s.Executed(), s.Status.String(), s.Status.String())),
	}
	if s.Failure != nil {
		msg := s.Failure.Kind + ": " + s.Failure.Message
		if s.Failure.Phase != "" {
			msg = s.Failure.Kind + " (" + s.Failure.Phase + "): " + s.Failure.Message
		}
		lines = append(lines, field("failure", failStyle.Render(msg)))
	}
	lines = append(lines,
		field("timing", renderTiming(s.Timing)),
		field("verdict", renderVerdict(s.Verdict)),
	)
	if s.Incomplete {
		lines = append(lines, field("note", "incomplete run"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderReport(r *sassplay.ComparisonReport) string {
	sides := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSide("baseline", r.Baseline), " ", renderSide("modified", r.Modified))

	speed := mutedStyle.Render("undefined")
	if r.Speedup != nil {
		text := fmt.Sprintf("%.3fx", *r.Speedup)
		if r.SpeedupPercent != nil {
			text += fmt.Sprintf(" (%+.1f%%)", *r.SpeedupPercent)
		}
		speed = passFail(*r.Speedup >= 1, text, text)
	}
	lines := []string{
		field("family", r.Family),
		field("speedup", speed),
		field("both correct", passFail(r.BothCorrect, "yes", "no")),
	}
	if r.SpeedupNote != "" {
		lines = append(lines, field("note", r.SpeedupNote))
	}
	if r.MaxDivergence != nil {
		lines = append(lines, field("divergence", fmt.Sprintf("%g", float64(*r.MaxDivergence))))
	}
	if r.ID != "" {
		lines = append(lines, field("report", mutedStyle.Render(r.ID)))
	}
	return sides + "\n" + strings.Join(lines, "\n")
}

func renderProbe(a *toolchain.Availability) string {
	var lines []string
	for _, t := range a.Tools() {
		status := okStyle.Render("ok")
		detail := t.Version
		if !t.Available {
			status = failStyle.Render("missing")
			detail = t.Err
		}
		lines = append(lines, fmt.Sprintf("%-9s %-8s %s %s", t.Name, status, t.Path, mutedStyle.Render(detail)))
	}
	lines = append(lines, field("host", a.Host.String()))
	if a.Driver != "" {
		lines = append(lines, field("driver", a.Driver))
	}
	return strings.Join(lines, "\n")
}

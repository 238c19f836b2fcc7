// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LynnColeArt/sassplay"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <source.cu>",
	Short: "Register a CUDA source file as a new artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var compileCmd = &cobra.Command{
	Use:   "compile <artifact>",
	Short: "Compile a SOURCE artifact to PTX and cubin",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <artifact>",
	Short: "Disassemble a COMPILED artifact into editable text",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisasm,
}

var editCmd = &cobra.Command{
	Use:   "edit <artifact> [edited.cuasm]",
	Short: "Record a manual edit of the disassembled text",
	Long: `Records the current content of the editable text as a new version. The
first edit moves a DISASSEMBLED artifact to EDITED; later edits amend it.
Pass a path to record a copy edited elsewhere.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEdit,
}

var assembleCmd = &cobra.Command{
	Use:   "assemble <artifact>",
	Short: "Reassemble an EDITED artifact into a new cubin",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssemble,
}

var historyCmd = &cobra.Command{
	Use:   "history [artifact]",
	Short: "List artifacts, or the versions of one artifact",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func runUpload(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := a.pipeline(cmd.Context()).Upload(args[0])
	if err != nil {
		return err
	}
	return printArtifact(cmd, art)
}

func runCompile(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], func(p stagePipeline, ref sassplay.Ref) (sassplay.Artifact, error) {
		return p.Compile(cmd.Context(), ref)
	})
}

func runDisasm(cmd *cobra.Command, args []string) error {
	var editable string
	err := transition(cmd, args[0], func(p stagePipeline, ref sassplay.Ref) (sassplay.Artifact, error) {
		a, path, err := p.Disassemble(cmd.Context(), ref)
		editable = path
		return a, err
	})
	if err == nil && !jsonOutput {
		fmt.Fprintf(cmd.OutOrStdout(), "edit %s, then run: sassplay edit %s\n", editable, args[0])
	}
	return err
}

func runEdit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 2 {
		path = args[1]
	}
	return transition(cmd, args[0], func(p stagePipeline, ref sassplay.Ref) (sassplay.Artifact, error) {
		return p.Edit(ref, path)
	})
}

func runAssemble(cmd *cobra.Command, args []string) error {
	err := transition(cmd, args[0], func(p stagePipeline, ref sassplay.Ref) (sassplay.Artifact, error) {
		return p.Assemble(cmd.Context(), ref)
	})
	if ae, ok := asAssembleError(err); ok && !jsonOutput {
		for _, se := range ae.SyntaxErrors {
			fmt.Fprintln(cmd.ErrOrStderr(), failStyle.Render(se.String()))
		}
	}
	return err
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		heads, err := a.store.Lineages()
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), heads)
		}
		if len(heads) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No artifacts yet. Start with: sassplay upload <source.cu>")
			return nil
		}
		for _, h := range heads {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-13s %s\n", titleStyle.Render(h.Ref().String()), h.Stage, mutedStyle.Render(h.Files[sassplay.RepSource]))
		}
		return nil
	}

	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	if ref.Version != 0 {
		art, err := a.store.Version(ref.ID, ref.Version)
		if err != nil {
			return err
		}
		return printArtifact(cmd, art)
	}
	history, err := a.store.History(ref.ID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), history)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderHistory(history))
	return nil
}

// stagePipeline is the part of the pipeline the transition commands use.
type stagePipeline interface {
	Compile(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, error)
	Disassemble(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, string, error)
	Edit(ref sassplay.Ref, editedPath string) (sassplay.Artifact, error)
	Assemble(ctx context.Context, ref sassplay.Ref) (sassplay.Artifact, error)
}

func transition(cmd *cobra.Command, refArg string, step func(stagePipeline, sassplay.Ref) (sassplay.Artifact, error)) error {
	ref, err := parseRef(refArg)
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := step(a.pipeline(cmd.Context()), ref)
	if err != nil {
		return err
	}
	return printArtifact(cmd, art)
}

func printArtifact(cmd *cobra.Command, art sassplay.Artifact) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), art)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderArtifact(art))
	return nil
}

func asAssembleError(err error) (*sassplay.AssembleError, bool) {
	var ae *sassplay.AssembleError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

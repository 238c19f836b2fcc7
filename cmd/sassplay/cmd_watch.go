// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <artifact>",
	Short: "Record every save of the editable text until interrupted",
	Long: `Watches the editable text of a DISASSEMBLED or EDITED artifact and
records each save as a new version, the same as running "sassplay edit"
after every save. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period after the last write")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	art, err := a.store.Latest(ref.ID)
	if err != nil {
		return err
	}
	if art.Stage != sassplay.StageDisassembled && art.Stage != sassplay.StageEdited {
		return &sassplay.StageOrderError{
			ArtifactID: art.ID,
			Current:    art.Stage,
			Target:     sassplay.StageEdited,
			Expected:   sassplay.StageDisassembled,
		}
	}
	path := art.Files[sassplay.RepCuasm]

	w, err := watch.New(a.pipeline(cmd.Context()), art.Ref(), path, watch.Options{
		Debounce: watchDebounce,
		Logger:   logger.Named("watch"),
	})
	if err != nil {
		return err
	}
	if err := w.Start(cmd.Context()); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s %s\n", path, mutedStyle.Render("(Ctrl-C to stop)"))
	for ev := range w.Edited() {
		if ev.Err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), failStyle.Render(ev.Err.Error()))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("recorded"), ev.Artifact.Ref())
	}
	return nil
}

// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LynnColeArt/sassplay/cuda"
	"github.com/LynnColeArt/sassplay/toolchain"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which external tools and devices are available",
	Long: `Runs a version query against each configured tool and, for the cuda
backend, opens the configured device. Nothing is looked up on PATH; tools
must be configured with absolute paths.`,
	RunE: runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	avail := toolchain.Probe(cmd.Context(), cfg.Toolchain.Tools, toolchainOptions())
	if cfg.Device.Backend == "cuda" {
		dev, err := cuda.Open(cfg.Device.Library, cfg.Device.Ordinal, logger)
		if err != nil {
			avail.Driver = err.Error()
		} else {
			avail.Driver = dev.Name()
			dev.Close()
		}
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), avail)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderProbe(avail))
	return nil
}

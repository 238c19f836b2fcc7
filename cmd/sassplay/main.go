// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sassplay moves CUDA kernels through compile, disassemble, edit
// and reassemble, and benchmarks edited binaries against their originals.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
	"github.com/LynnColeArt/sassplay/config"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sassplay",
	Short: "Edit GPU machine code and measure what the edit did",
	Long: `sassplay tracks a CUDA kernel through a fixed lifecycle:

  SOURCE -> COMPILED -> DISASSEMBLED -> EDITED -> REASSEMBLED

Every step records a new immutable version. Any two executable versions can
be run side by side under the same inputs to compare speed and correctness.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, err = cfg.Logging.Build(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sassplay version",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := sassplay.ReadBuildInfo()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(versionCmd, probeCmd)
	rootCmd.AddCommand(uploadCmd, compileCmd, disasmCmd, editCmd, assembleCmd, historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runCmd, compareCmd, reportsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

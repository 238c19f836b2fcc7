// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LynnColeArt/sassplay"
)

// execFlags are shared by run and compare and override the configured
// execution spec when set.
type execFlags struct {
	family          string
	entry           string
	size            int
	block           int
	seed            uint64
	reps            int
	tolerance       float64
	mode            string
	strict          bool
	failOnNonFinite bool
}

func (f *execFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.family, "family", "f", "", "kernel family (vector_add, saxpy, relu)")
	fs.StringVar(&f.entry, "entry", "", "entry point name (default: the family's)")
	fs.IntVarP(&f.size, "size", "n", 0, "problem size in elements")
	fs.IntVar(&f.block, "block", 0, "threads per block")
	fs.Uint64Var(&f.seed, "seed", 0, "input generator seed")
	fs.IntVarP(&f.reps, "reps", "r", 0, "timed repetitions")
	fs.Float64Var(&f.tolerance, "tolerance", 0, "maximum allowed error")
	fs.StringVar(&f.mode, "mode", "", "tolerance mode (absolute, relative)")
	fs.BoolVar(&f.strict, "strict", false, "fail when verification fails")
	fs.BoolVar(&f.failOnNonFinite, "fail-on-nonfinite", false, "treat NaN/Inf output as an execution failure")
}

func (f *execFlags) spec(cmd *cobra.Command) (sassplay.ExecutionSpec, sassplay.KernelFamily, error) {
	spec := cfg.Execution
	fs := cmd.Flags()
	if fs.Changed("entry") {
		spec.EntryName = f.entry
	}
	if fs.Changed("size") {
		spec.ProblemSize = f.size
	}
	if fs.Changed("block") {
		spec.Block = sassplay.Dim3{X: f.block, Y: 1, Z: 1}
		spec.Grid = sassplay.Dim3{}
	}
	if fs.Changed("seed") {
		spec.Seed = f.seed
	}
	if fs.Changed("reps") {
		spec.Repetitions = f.reps
	}
	if fs.Changed("tolerance") {
		spec.Tolerance = f.tolerance
	}
	if fs.Changed("mode") {
		m, err := sassplay.ParseToleranceMode(f.mode)
		if err != nil {
			return spec, sassplay.KernelFamily{}, err
		}
		spec.ToleranceMode = m
	}
	if fs.Changed("strict") {
		spec.Strict = f.strict
	}
	if fs.Changed("fail-on-nonfinite") {
		spec.FailOnNonFinite = f.failOnNonFinite
	}
	if err := spec.Validate(); err != nil {
		return spec, sassplay.KernelFamily{}, err
	}
	k, err := family(f.family)
	return spec, k, err
}

type runSummary struct {
	Artifact   sassplay.Ref     `json:"artifact"`
	Entry      string           `json:"entry"`
	Device     string           `json:"device"`
	Status     sassplay.Status  `json:"status"`
	Message    string           `json:"message,omitempty"`
	Incomplete bool             `json:"incomplete"`
	Timing     sassplay.Timing  `json:"timing"`
	NonFinite  int              `json:"non_finite"`
	Verdict    sassplay.Verdict `json:"verdict"`
}

var (
	runFlags     execFlags
	compareFlags execFlags
	reportsLimit int
)

var runCmd = &cobra.Command{
	Use:   "run <artifact>",
	Short: "Execute and verify one artifact version",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <modified>",
	Short: "Compare two artifact versions for speed and correctness",
	Long: `Runs both versions with identical inputs, one after the other, verifies
each against the kernel family's reference and reports the speedup
(baseline mean / modified mean). A version that fails to execute is
reported as a failure; the other version is still measured.

Example:
  sassplay compare 3f2c...@2 3f2c...@8 --family vector_add --reps 200`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

var reportsCmd = &cobra.Command{
	Use:   "reports [artifact]",
	Short: "List saved comparison reports",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReports,
}

func init() {
	runFlags.register(runCmd)
	compareFlags.register(compareCmd)
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "maximum number of reports")
}

func runRun(cmd *cobra.Command, args []string) error {
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	spec, k, err := runFlags.spec(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, v, err := a.pipeline(cmd.Context()).Run(cmd.Context(), ref, spec, k)
	if res == nil {
		return err
	}
	if jsonOutput {
		// Raw buffers are left out; they may hold NaN, which JSON cannot.
		if jerr := writeJSON(cmd.OutOrStdout(), runSummary{
			Artifact:   res.Artifact,
			Entry:      res.Entry,
			Device:     res.Device,
			Status:     res.Status,
			Message:    res.Message,
			Incomplete: res.Incomplete,
			Timing:     res.Timing,
			NonFinite:  res.NonFinite,
			Verdict:    v,
		}); jerr != nil {
			return jerr
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderRun(res, v))
	return err
}

func runCompare(cmd *cobra.Command, args []string) error {
	baseline, err := parseRef(args[0])
	if err != nil {
		return err
	}
	modified, err := parseRef(args[1])
	if err != nil {
		return err
	}
	spec, k, err := compareFlags.spec(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline(cmd.Context()).Compare(cmd.Context(), baseline, modified, spec, k)
	if report == nil {
		return err
	}
	if jsonOutput {
		data, jerr := report.JSON()
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
	return err
}

func runReports(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		id = ref.ID
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.store.Reports(id, reportsLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No comparison reports found.")
		return nil
	}
	for _, r := range reports {
		speed := mutedStyle.Render("undefined")
		if r.Speedup != nil {
			speed = fmt.Sprintf("%.3fx", *r.Speedup)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %s -> %s  %s  %s\n",
			mutedStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")),
			r.Family, r.Baseline.Artifact, r.Modified.Artifact, speed,
			passFail(r.BothCorrect, "correct", "incorrect"))
	}
	return nil
}

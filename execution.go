package sassplay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Status is the execution-layer outcome of a run. Numerical correctness is
// reported separately by Verify.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "SUCCESS"
	}
	return "FAILURE"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "SUCCESS":
		*s = StatusSuccess
	case "FAILURE":
		*s = StatusFailure
	default:
		return NewInvalidArgError("UnmarshalText", fmt.Sprintf("unknown status %q", b))
	}
	return nil
}

// ExecutionResult is the raw outcome of one Execute call.
type ExecutionResult struct {
	Artifact Ref
	Entry    string
	Device   string
	Status   Status
	// Message is the raw device diagnostic when Status is FAILURE.
	Message string
	// Incomplete marks a run cancelled before all repetitions finished;
	// Durations and Timing cover the completed ones.
	Incomplete bool

	Inputs    [][]float32
	Output    []float32
	Expected  []float32
	Durations []time.Duration
	Timing    Timing
	// NonFinite counts NaN and Inf elements of Output.
	NonFinite int
}

// Succeeded reports whether the kernel ran to completion.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Engine loads kernel binaries onto a Device and runs them. A single Engine
// admits one run at a time; concurrent callers queue on the device.
type Engine struct {
	dev      Device
	sem      *semaphore.Weighted
	log      *zap.Logger
	readFile func(string) ([]byte, error)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates an Engine for dev.
func NewEngine(dev Device, opts ...EngineOption) *Engine {
	e := &Engine{
		dev:      dev,
		sem:      semaphore.NewWeighted(1),
		log:      zap.NewNop(),
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Device returns the device the engine drives.
func (e *Engine) Device() Device {
	return e.dev
}

// Execute runs the artifact's binary once untimed, then spec.Repetitions
// timed launches, each synchronized before its duration is taken.
//
// A device fault during any launch returns a FAILURE result with no
// timings, together with the *LaunchError. Errors that occur before the
// device is touched (not executable, unreadable binary, missing entry
// point) are returned with a nil result. Cancellation of ctx between
// repetitions is not an error: the result is marked Incomplete.
func (e *Engine) Execute(ctx context.Context, a Artifact, spec ExecutionSpec, k KernelFamily) (*ExecutionResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := k.Validate(); err != nil {
		return nil, err
	}
	if len(spec.Inputs) > 0 && len(spec.Inputs) != k.Inputs {
		return nil, NewInvalidArgError("Execute", fmt.Sprintf("%s takes %d inputs, %d supplied", k.Name, k.Inputs, len(spec.Inputs)))
	}
	if !a.Executable() {
		return nil, fmt.Errorf("artifact %s at stage %s: %w", a.Ref(), a.Stage, ErrNotExecutable)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	path, _ := a.Binary()
	image, err := e.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}
	mod, err := e.dev.LoadModule(image)
	if err != nil {
		return nil, err
	}
	defer func() {
		if uerr := mod.Unload(); uerr != nil {
			e.log.Warn("module unload failed", zap.Error(uerr))
		}
	}()

	entry := spec.EntryName
	if entry == "" {
		entry = k.Entry
	}
	fn, err := resolveEntry(mod, entry)
	if err != nil {
		return nil, err
	}

	n := spec.ProblemSize
	inputs := spec.Inputs
	if len(inputs) == 0 {
		inputs = k.Generate(n, spec.Seed)
	}

	res := &ExecutionResult{
		Artifact: a.Ref(),
		Entry:    fn.Name(),
		Device:   e.dev.Name(),
		Status:   StatusSuccess,
		Inputs:   inputs,
		// Ground truth is computed on the host before the device runs.
		Expected: k.Reference(inputs),
	}

	log := e.log.With(zap.String("artifact", a.Ref().String()), zap.String("entry", res.Entry))
	log.Debug("execution starting",
		zap.Int("problem_size", n),
		zap.Int("repetitions", spec.Repetitions),
		zap.Uint64("seed", spec.Seed))

	if lerr := e.run(ctx, res, fn, spec, k); lerr != nil {
		log.Info("execution failed", zap.String("phase", lerr.Phase), zap.String("diagnostic", lerr.Message))
		return res, lerr
	}

	res.NonFinite = countNonFinite(res.Output)
	if res.NonFinite > 0 && spec.FailOnNonFinite {
		res.Status = StatusFailure
		res.Message = fmt.Sprintf("%d non-finite output values", res.NonFinite)
	}
	res.Timing = Summarize(res.Durations)

	log.Debug("execution complete",
		zap.Stringer("status", res.Status),
		zap.Int("completed", len(res.Durations)),
		zap.Bool("incomplete", res.Incomplete),
		zap.Float64("mean_ms", res.Timing.MeanMS),
		zap.Int("non_finite", res.NonFinite))
	return res, nil
}

// run owns the device buffers for one execution. They are allocated just
// before the warm-up launch and released once the output is read back.
func (e *Engine) run(ctx context.Context, res *ExecutionResult, fn Function, spec ExecutionSpec, k KernelFamily) *LaunchError {
	n := spec.ProblemSize
	var bufs []Buffer
	release := func() {
		for _, b := range bufs {
			if err := e.dev.Free(b); err != nil {
				e.log.Warn("device free failed", zap.Error(err))
			}
		}
		bufs = nil
	}
	defer release()

	for range res.Inputs {
		b, err := e.dev.Alloc(n)
		if err != nil {
			return res.fail("alloc", err)
		}
		bufs = append(bufs, b)
	}
	out, err := e.dev.Alloc(n)
	if err != nil {
		return res.fail("alloc", err)
	}
	bufs = append(bufs, out)
	ins := bufs[:len(res.Inputs)]

	for i, in := range res.Inputs {
		if err := e.dev.CopyToDevice(ins[i], in); err != nil {
			return res.fail("copy", err)
		}
	}

	grid, block := spec.LaunchDims()
	args := k.Args(ins, out, n)
	launch := func() error {
		if err := e.dev.Launch(fn, grid, block, args...); err != nil {
			return err
		}
		return e.dev.Synchronize()
	}

	if err := launch(); err != nil {
		return res.fail("warm-up", err)
	}

	durations := make([]time.Duration, 0, spec.Repetitions)
	for rep := 0; rep < spec.Repetitions; rep++ {
		if ctx.Err() != nil {
			res.Incomplete = true
			break
		}
		start := time.Now()
		if err := launch(); err != nil {
			return res.fail(fmt.Sprintf("repetition %d", rep+1), err)
		}
		durations = append(durations, time.Since(start))
	}

	output := make([]float32, n)
	if err := e.dev.CopyFromDevice(output, out); err != nil {
		return res.fail("copy", err)
	}
	release()

	res.Durations = durations
	res.Output = output
	return nil
}

// fail marks the result as a device failure and drops any timings.
func (r *ExecutionResult) fail(phase string, err error) *LaunchError {
	le := &LaunchError{Entry: r.Entry, Phase: phase, Message: err.Error(), Err: err}
	var dev *LaunchError
	if errors.As(err, &dev) {
		le.Message = dev.Message
	}
	r.Status = StatusFailure
	r.Message = le.Message
	r.Durations = nil
	r.Output = nil
	r.Timing = Timing{}
	return le
}

func countNonFinite(xs []float32) int {
	n := 0
	for _, v := range xs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			n++
		}
	}
	return n
}

package sassplay

import (
	"fmt"
	"math"
	"strings"
)

// ToleranceMode selects how per-element error is measured.
type ToleranceMode int

const (
	// Absolute error is |o-e|.
	Absolute ToleranceMode = iota
	// Relative error is |o-e| / max(|e|, RelativeErrorFloor).
	Relative
)

func (m ToleranceMode) String() string {
	switch m {
	case Absolute:
		return "absolute"
	case Relative:
		return "relative"
	default:
		return fmt.Sprintf("ToleranceMode(%d)", int(m))
	}
}

// ParseToleranceMode accepts "absolute" or "relative" in any case.
func ParseToleranceMode(s string) (ToleranceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute", "abs":
		return Absolute, nil
	case "relative", "rel":
		return Relative, nil
	}
	return Absolute, NewInvalidArgError("ParseToleranceMode", fmt.Sprintf("unknown tolerance mode %q", s))
}

func (m ToleranceMode) MarshalText() ([]byte, error) {
	if m != Absolute && m != Relative {
		return nil, NewInvalidArgError("MarshalText", m.String())
	}
	return []byte(m.String()), nil
}

func (m *ToleranceMode) UnmarshalText(b []byte) error {
	v, err := ParseToleranceMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ExecutionSpec parameterizes one execution. The same value is applied to
// both sides of a comparison.
type ExecutionSpec struct {
	// EntryName overrides the kernel family's default entry point.
	EntryName string `yaml:"entry_name,omitempty" json:"entry_name,omitempty"`
	// Grid is derived from ProblemSize and Block when zero.
	Grid  Dim3 `yaml:"grid,omitempty" json:"grid"`
	Block Dim3 `yaml:"block,omitempty" json:"block"`

	ProblemSize   int           `yaml:"problem_size" json:"problem_size"`
	Seed          uint64        `yaml:"seed" json:"seed"`
	Tolerance     float64       `yaml:"tolerance" json:"tolerance"`
	ToleranceMode ToleranceMode `yaml:"tolerance_mode" json:"tolerance_mode"`
	Repetitions   int           `yaml:"repetitions" json:"repetitions"`

	// Strict makes a failing verdict an error.
	Strict bool `yaml:"strict,omitempty" json:"strict,omitempty"`
	// FailOnNonFinite turns NaN/Inf in the output into an execution FAILURE.
	FailOnNonFinite bool `yaml:"fail_on_non_finite,omitempty" json:"fail_on_non_finite,omitempty"`

	// Inputs, when set, are used unchanged instead of generated data.
	Inputs [][]float32 `yaml:"-" json:"-"`
}

// DefaultExecutionSpec returns the default run parameters.
func DefaultExecutionSpec() ExecutionSpec {
	return ExecutionSpec{
		Block:         Dim3{X: DefaultBlockSize, Y: 1, Z: 1},
		ProblemSize:   DefaultProblemSize,
		Seed:          DefaultSeed,
		Tolerance:     DefaultTolerance,
		ToleranceMode: Absolute,
		Repetitions:   DefaultRepetitions,
	}
}

// Validate checks the spec for values no run could honor.
func (s ExecutionSpec) Validate() error {
	switch {
	case s.ProblemSize <= 0:
		return NewInvalidArgError("ExecutionSpec", fmt.Sprintf("problem_size must be positive, got %d", s.ProblemSize))
	case s.Repetitions <= 0:
		return NewInvalidArgError("ExecutionSpec", fmt.Sprintf("repetitions must be positive, got %d", s.Repetitions))
	case s.Tolerance < 0 || math.IsNaN(s.Tolerance) || math.IsInf(s.Tolerance, 0):
		return NewInvalidArgError("ExecutionSpec", fmt.Sprintf("tolerance must be finite and not negative, got %g", s.Tolerance))
	case s.ToleranceMode != Absolute && s.ToleranceMode != Relative:
		return NewInvalidArgError("ExecutionSpec", "unknown tolerance mode "+s.ToleranceMode.String())
	}
	for i, in := range s.Inputs {
		if len(in) != s.ProblemSize {
			return NewInvalidArgError("ExecutionSpec", fmt.Sprintf("input %d has %d elements, problem_size is %d", i, len(in), s.ProblemSize))
		}
	}
	return nil
}

// LaunchDims returns the grid and block for the spec. A zero block defaults
// to DefaultBlockSize threads, and a zero grid covers ProblemSize elements.
func (s ExecutionSpec) LaunchDims() (grid, block Dim3) {
	block = s.Block
	if block.IsZero() {
		block = Dim3{X: DefaultBlockSize}
	}
	block = block.normalized()
	grid = s.Grid
	if grid.IsZero() {
		per := block.Size()
		grid = Dim3{X: (s.ProblemSize + per - 1) / per}
	}
	return grid.normalized(), block
}

// Package sassplay tolerance-based verification for floating-point comparisons
package sassplay

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 whose JSON form also carries NaN and ±Inf, encoded as
// the strings "NaN", "+Inf" and "-Inf".
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Sample is one inspected element of a verified output.
type Sample struct {
	Index    int     `json:"index"`
	Inputs   []Float `json:"inputs"`
	Output   Float   `json:"output"`
	Expected Float   `json:"expected"`
	Error    Float   `json:"error"`
}

// Verdict is the outcome of comparing an output to its reference. A failing
// verdict is data, not an error.
type Verdict struct {
	Pass          bool          `json:"pass"`
	Mode          ToleranceMode `json:"mode"`
	Tolerance     float64       `json:"tolerance"`
	MaxError      Float         `json:"max_error"`
	MaxErrorIndex int           `json:"max_error_index"`
	Elements      int           `json:"elements"`
	// Failures counts elements whose error exceeds Tolerance.
	Failures  int `json:"failures"`
	NonFinite int `json:"non_finite"`
	// MaxULP is the largest ULP distance among finite element pairs.
	MaxULP  int      `json:"max_ulp"`
	Samples []Sample `json:"samples"`
}

// String formats the verdict for display
func (v Verdict) String() string {
	if v.Pass {
		return fmt.Sprintf("PASS: max %s error %g <= %g", v.Mode, float64(v.MaxError), v.Tolerance)
	}
	return fmt.Sprintf("FAIL: %d/%d values exceed %s tolerance %g\n"+
		"  Max error: %g at index %d\n"+
		"  Non-finite values: %d",
		v.Failures, v.Elements, v.Mode, v.Tolerance,
		float64(v.MaxError), v.MaxErrorIndex, v.NonFinite)
}

// Verify checks a result's output against its expected buffer. The error
// of each element is |o-e| in Absolute mode and |o-e|/max(|e|, 1e-12) in
// Relative mode; a NaN or Inf on either side counts as +Inf. The verdict
// passes iff the maximum error is at most tolerance, which must be finite,
// so a non-finite element always fails.
func Verify(r *ExecutionResult, tolerance float64, mode ToleranceMode) (Verdict, error) {
	if r == nil {
		return Verdict{}, NewInvalidArgError("Verify", "nil result")
	}
	return VerifyBuffers(r.Output, r.Expected, r.Inputs, tolerance, mode)
}

// VerifyStrict is Verify, but a failing verdict is also returned as a
// *ToleranceError.
func VerifyStrict(r *ExecutionResult, tolerance float64, mode ToleranceMode) (Verdict, error) {
	v, err := Verify(r, tolerance, mode)
	if err != nil {
		return v, err
	}
	return v, v.Err()
}

// Err returns a *ToleranceError for a failing verdict and nil otherwise.
func (v Verdict) Err() error {
	if v.Pass {
		return nil
	}
	return &ToleranceError{
		MaxError:  float64(v.MaxError),
		Index:     v.MaxErrorIndex,
		Tolerance: v.Tolerance,
		Mode:      v.Mode,
	}
}

// VerifyBuffers compares output to expected element by element. inputs may
// be nil; when present each sample carries the input values at its index.
func VerifyBuffers(output, expected []float32, inputs [][]float32, tolerance float64, mode ToleranceMode) (Verdict, error) {
	if len(output) != len(expected) {
		return Verdict{}, &ShapeMismatchError{Output: len(output), Expected: len(expected)}
	}
	if len(output) == 0 {
		return Verdict{}, ErrEmptyBuffer
	}
	if tolerance < 0 || math.IsNaN(tolerance) || math.IsInf(tolerance, 0) {
		return Verdict{}, NewInvalidArgError("Verify", fmt.Sprintf("invalid tolerance %g", tolerance))
	}
	if mode != Absolute && mode != Relative {
		return Verdict{}, NewInvalidArgError("Verify", "unknown tolerance mode "+mode.String())
	}

	v := Verdict{
		Mode:          mode,
		Tolerance:     tolerance,
		MaxErrorIndex: -1,
		Elements:      len(output),
	}
	maxErr := math.Inf(-1)
	for i := range output {
		o, e := output[i], expected[i]
		err := elementError(o, e, mode)
		if !isFinite32(o) {
			v.NonFinite++
		}
		if err > maxErr {
			maxErr = err
			v.MaxErrorIndex = i
		}
		if err > tolerance {
			v.Failures++
		}
		if isFinite32(o) && isFinite32(e) {
			if d := Float32ULPDiff(o, e); d > v.MaxULP {
				v.MaxULP = d
			}
		}
		if i < MaxSamples {
			v.Samples = append(v.Samples, newSample(i, inputs, o, e, err))
		}
	}
	v.MaxError = Float(maxErr)
	v.Pass = maxErr <= tolerance
	return v, nil
}

func newSample(i int, inputs [][]float32, o, e float32, err float64) Sample {
	s := Sample{
		Index:    i,
		Inputs:   make([]Float, 0, len(inputs)),
		Output:   Float(o),
		Expected: Float(e),
		Error:    Float(err),
	}
	for _, in := range inputs {
		if i < len(in) {
			s.Inputs = append(s.Inputs, Float(in[i]))
		}
	}
	return s
}

func elementError(o, e float32, mode ToleranceMode) float64 {
	if !isFinite32(o) || !isFinite32(e) {
		return math.Inf(1)
	}
	of, ef := float64(o), float64(e)
	diff := math.Abs(of - ef)
	if mode == Relative {
		diff /= math.Max(math.Abs(ef), RelativeErrorFloor)
	}
	return diff
}

func isFinite32(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Float32ULPDiff computes the difference in ULPs between two float32 values
func Float32ULPDiff(a, b float32) int {
	if a == b {
		return 0 // also covers +0 == -0
	}
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)

	// Different signs, can't use simple subtraction
	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}

	if aBits > bBits {
		return int(aBits - bBits)
	}
	return int(bBits - aBits)
}

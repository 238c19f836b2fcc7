// Package sassplay reference implementations for verification
package sassplay

import (
	"fmt"
	"sort"
)

// ReferenceFunc computes the expected output for a set of host inputs. It
// must be pure: the same inputs always produce the same output.
type ReferenceFunc func(inputs [][]float32) []float32

// ArgsFunc orders device buffers and scalars into a kernel's parameter list.
type ArgsFunc func(inputs []Buffer, output Buffer, n int) []interface{}

// KernelFamily is the contract between a kernel's launch signature and its
// host reference. The engine generates Inputs buffers of ProblemSize
// elements, launches Entry with Args, and checks the single output against
// Reference.
type KernelFamily struct {
	Name   string
	Entry  string
	Inputs int
	// Range bounds the generated input values.
	Range     [2]float32
	Reference ReferenceFunc
	Args      ArgsFunc
	// Emulated is the host implementation run by the Emulator.
	Emulated KernelFunc
}

// Validate reports an incomplete family.
func (k KernelFamily) Validate() error {
	switch {
	case k.Name == "":
		return NewInvalidArgError("KernelFamily", "missing name")
	case k.Entry == "":
		return NewInvalidArgError("KernelFamily", k.Name+": missing entry name")
	case k.Inputs <= 0:
		return NewInvalidArgError("KernelFamily", k.Name+": needs at least one input")
	case k.Reference == nil:
		return NewInvalidArgError("KernelFamily", k.Name+": missing reference function")
	case k.Args == nil:
		return NewInvalidArgError("KernelFamily", k.Name+": missing argument layout")
	}
	return nil
}

// Generate produces the family's inputs for n elements and seed.
func (k KernelFamily) Generate(n int, seed uint64) [][]float32 {
	lo, hi := k.Range[0], k.Range[1]
	if lo == hi {
		lo, hi = -1, 1
	}
	return GenerateInputs(k.Inputs, n, seed, lo, hi)
}

// SaxpyAlpha is the scale factor passed to the saxpy family.
const SaxpyAlpha float32 = 2

// VectorAdd computes c[i] = a[i] + b[i].
// Launch signature: (const float* a, const float* b, float* c, int n).
var VectorAdd = KernelFamily{
	Name:   "vector_add",
	Entry:  "vectorAdd",
	Inputs: 2,
	Range:  [2]float32{-1, 1},
	Reference: func(in [][]float32) []float32 {
		out := make([]float32, len(in[0]))
		for i := range out {
			out[i] = in[0][i] + in[1][i]
		}
		return out
	},
	Args: func(in []Buffer, out Buffer, n int) []interface{} {
		return []interface{}{in[0], in[1], out, int32(n)}
	},
	Emulated: func(tid ThreadID, args ...interface{}) {
		a, b, c := args[0].([]float32), args[1].([]float32), args[2].([]float32)
		n := int(args[3].(int32))
		if i := tid.Global(); i < n {
			c[i] = a[i] + b[i]
		}
	},
}

// Saxpy computes out[i] = SaxpyAlpha*x[i] + y[i].
// Launch signature: (const float* x, const float* y, float* out, float alpha, int n).
var Saxpy = KernelFamily{
	Name:   "saxpy",
	Entry:  "saxpy",
	Inputs: 2,
	Range:  [2]float32{-1, 1},
	Reference: func(in [][]float32) []float32 {
		out := make([]float32, len(in[0]))
		for i := range out {
			out[i] = SaxpyAlpha*in[0][i] + in[1][i]
		}
		return out
	},
	Args: func(in []Buffer, out Buffer, n int) []interface{} {
		return []interface{}{in[0], in[1], out, SaxpyAlpha, int32(n)}
	},
	Emulated: func(tid ThreadID, args ...interface{}) {
		x, y, out := args[0].([]float32), args[1].([]float32), args[2].([]float32)
		alpha := args[3].(float32)
		n := int(args[4].(int32))
		if i := tid.Global(); i < n {
			out[i] = alpha*x[i] + y[i]
		}
	},
}

// ReLU computes out[i] = max(x[i], 0).
// Launch signature: (const float* x, float* out, int n).
var ReLU = KernelFamily{
	Name:   "relu",
	Entry:  "relu",
	Inputs: 1,
	Range:  [2]float32{-1, 1},
	Reference: func(in [][]float32) []float32 {
		out := make([]float32, len(in[0]))
		for i, v := range in[0] {
			if v > 0 {
				out[i] = v
			}
		}
		return out
	},
	Args: func(in []Buffer, out Buffer, n int) []interface{} {
		return []interface{}{in[0], out, int32(n)}
	},
	Emulated: func(tid ThreadID, args ...interface{}) {
		x, out := args[0].([]float32), args[1].([]float32)
		n := int(args[2].(int32))
		if i := tid.Global(); i < n {
			if v := x[i]; v > 0 {
				out[i] = v
			} else {
				out[i] = 0
			}
		}
	},
}

// Families returns the built-in kernel families sorted by name.
func Families() []KernelFamily {
	fams := []KernelFamily{VectorAdd, Saxpy, ReLU}
	sort.Slice(fams, func(i, j int) bool { return fams[i].Name < fams[j].Name })
	return fams
}

// LookupFamily returns the built-in family with the given name.
func LookupFamily(name string) (KernelFamily, error) {
	for _, f := range Families() {
		if f.Name == name {
			return f, nil
		}
	}
	names := make([]string, 0, 3)
	for _, f := range Families() {
		names = append(names, f.Name)
	}
	return KernelFamily{}, NewInvalidArgError("LookupFamily", fmt.Sprintf("unknown kernel family %q (known: %v)", name, names))
}

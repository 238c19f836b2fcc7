package sassplay

import (
	"math"
)

// GenerateFloat32 generates deterministic float32 data in [0, 1) using a
// 64-bit linear congruential generator. The same size and seed always yield
// the same slice.
//
// Example:
//
//	data := GenerateFloat32(1024, 12345)
func GenerateFloat32(size int, seed uint64) []float32 {
	data := make([]float32, size)
	rng := seed
	for i := range data {
		rng = rng*6364136223846793005 + 1442695040888963407 // Knuth MMIX
		// Top 24 bits fit a float32 mantissa exactly.
		data[i] = float32(rng>>40) / float32(1<<24)
	}
	return data
}

// GenerateFloat32Range generates deterministic float32 data in [min, max).
//
// Example:
//
//	data := GenerateFloat32Range(1024, 42, -1.0, 1.0)
func GenerateFloat32Range(size int, seed uint64, min, max float32) []float32 {
	data := GenerateFloat32(size, seed)
	scale := max - min
	for i := range data {
		data[i] = data[i]*scale + min
	}
	return data
}

// GenerateInputs generates count input buffers of size elements each.
// Buffer i is seeded with seed+i so the inputs differ from one another.
func GenerateInputs(count, size int, seed uint64, min, max float32) [][]float32 {
	inputs := make([][]float32, count)
	for i := range inputs {
		inputs[i] = GenerateFloat32Range(size, seed+uint64(i), min, max)
	}
	return inputs
}

// GenerateFloat32EdgeCases generates test data with edge cases for floating point.
// Includes zero, denormals, infinity, NaN, and extreme values.
func GenerateFloat32EdgeCases() []float32 {
	return []float32{
		0.0,
		float32(math.Copysign(0, -1)),
		1.0,
		-1.0,
		math.SmallestNonzeroFloat32,
		-math.SmallestNonzeroFloat32,
		math.MaxFloat32,
		-math.MaxFloat32,
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		float32(math.NaN()),
		1e-38, // Near denormal
		-1e-38,
		1e38, // Large but not max
		-1e38,
	}
}

// GenerateSequence generates a simple arithmetic sequence for debugging.
//
// Example:
//
//	data := GenerateSequence(10, 0, 2) // [0, 2, 4, 6, 8, 10, 12, 14, 16, 18]
func GenerateSequence(size int, start, step float32) []float32 {
	data := make([]float32, size)
	for i := range data {
		data[i] = start + float32(i)*step
	}
	return data
}

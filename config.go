// Package sassplay configuration constants
package sassplay

// Thread and block dimensions
const (
	// Default block size for kernels
	DefaultBlockSize = 256

	// Maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024
)

// Execution defaults
const (
	// Default number of elements per input and output buffer
	DefaultProblemSize = 1024

	// Default seed for generated inputs
	DefaultSeed = 42

	// Default timed repetitions after the warm-up run
	DefaultRepetitions = 100
)

// Numerical constants
const (
	// Default verification tolerance
	DefaultTolerance = 1e-5

	// Floor on the denominator of a relative error
	RelativeErrorFloor = 1e-12

	// Number of index/value samples carried by a verification verdict
	MaxSamples = 10
)

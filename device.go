package sassplay

// Dim3 represents 3D dimensions for grid and block configurations.
// This matches CUDA's dim3 structure for kernel launch parameters.
// Zero components are treated as 1.
type Dim3 struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	Z int `yaml:"z" json:"z"`
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	n := d.normalized()
	return n.X * n.Y * n.Z
}

// IsZero reports whether no component was set.
func (d Dim3) IsZero() bool {
	return d.X == 0 && d.Y == 0 && d.Z == 0
}

func (d Dim3) normalized() Dim3 {
	if d.X <= 0 {
		d.X = 1
	}
	if d.Y <= 0 {
		d.Y = 1
	}
	if d.Z <= 0 {
		d.Z = 1
	}
	return d
}

// ThreadID identifies a thread's position within the execution hierarchy.
// It provides the same indexing semantics as CUDA's built-in variables:
// blockIdx, threadIdx, blockDim, and gridDim.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// Global returns the global thread index
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// Buffer is device memory holding float32 elements.
type Buffer interface {
	Len() int
}

// Function is a resolved entry point of a loaded module.
type Function interface {
	Name() string
}

// Module is a loaded kernel image.
type Module interface {
	// Entries lists the entry points declared by the image.
	Entries() []string
	Function(name string) (Function, error)
	Unload() error
}

// Device executes kernels. Launch may be asynchronous; device faults are
// reported by Launch or by the following Synchronize. Implementations are
// not required to be safe for concurrent use; the Engine serializes access.
type Device interface {
	Name() string
	LoadModule(image []byte) (Module, error)
	Alloc(n int) (Buffer, error)
	Free(b Buffer) error
	CopyToDevice(dst Buffer, src []float32) error
	CopyFromDevice(dst []float32, src Buffer) error
	// Launch arguments are Buffers, int32 and float32 values.
	Launch(fn Function, grid, block Dim3, args ...interface{}) error
	Synchronize() error
}

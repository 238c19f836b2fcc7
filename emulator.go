package sassplay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
)

// KernelFunc is a function that can be launched on the emulator.
// Buffer arguments arrive as []float32 slices; scalars are passed through.
type KernelFunc func(tid ThreadID, args ...interface{})

// Emulator is a CPU implementation of Device. Images are parsed for their
// declared entry points and each entry is bound by name to a Go kernel.
// A kernel may also be bound to one specific image, so that two binaries
// declaring the same entry can behave differently.
type Emulator struct {
	mu      sync.Mutex
	kernels map[string]KernelFunc
	bound   map[string]map[string]KernelFunc // image digest -> entry -> kernel
	memory  *MemoryPool
	stream  *Stream
	workers int
	host    HostFeatures
	fault   error // sticky, reported by Synchronize
}

// NewEmulator creates an emulated device with the built-in kernel families
// registered under their default entry names.
func NewEmulator() *Emulator {
	e := &Emulator{
		kernels: make(map[string]KernelFunc),
		bound:   make(map[string]map[string]KernelFunc),
		memory:  NewMemoryPool(),
		stream:  newStream(),
		workers: runtime.NumCPU(),
		host:    DetectHost(),
	}
	for _, f := range Families() {
		if f.Emulated != nil {
			e.Register(f.Entry, f.Emulated)
		}
	}
	return e
}

// Register binds entry to fn for every image.
func (e *Emulator) Register(entry string, fn KernelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kernels[entry] = fn
}

// Bind binds entry to fn for the given image only. It takes precedence over
// Register.
func (e *Emulator) Bind(image []byte, entry string, fn KernelFunc) {
	d := digestOf(image)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound[d] == nil {
		e.bound[d] = make(map[string]KernelFunc)
	}
	e.bound[d][entry] = fn
}

// Memory exposes the allocation tracker.
func (e *Emulator) Memory() *MemoryPool {
	return e.memory
}

// Close stops the stream worker.
func (e *Emulator) Close() {
	e.stream.Close()
}

func (e *Emulator) Name() string {
	return "emulated (" + e.host.String() + ")"
}

func (e *Emulator) LoadModule(image []byte) (Module, error) {
	img, err := ParseImage(image)
	if err != nil {
		return nil, err
	}
	return &emuModule{emu: e, digest: digestOf(image), image: img}, nil
}

func (e *Emulator) lookup(digest, entry string) KernelFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.bound[digest][entry]; ok {
		return fn
	}
	if fn, ok := e.kernels[entry]; ok {
		return fn
	}
	// Mangled entries fall back to the kernel registered for the plain name.
	return e.kernels[demangledName(entry)]
}

func (e *Emulator) Alloc(n int) (Buffer, error) {
	return e.memory.Allocate(n)
}

func (e *Emulator) Free(b Buffer) error {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return NewInvalidArgError("Free", fmt.Sprintf("foreign buffer type %T", b))
	}
	return e.memory.Free(hb)
}

func (e *Emulator) CopyToDevice(dst Buffer, src []float32) error {
	hb, err := e.buffer("CopyToDevice", dst, len(src))
	if err != nil {
		return err
	}
	copy(hb.data, src)
	return nil
}

func (e *Emulator) CopyFromDevice(dst []float32, src Buffer) error {
	hb, err := e.buffer("CopyFromDevice", src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, hb.data)
	return nil
}

func (e *Emulator) buffer(op string, b Buffer, n int) (*hostBuffer, error) {
	hb, ok := b.(*hostBuffer)
	if !ok {
		return nil, NewInvalidArgError(op, fmt.Sprintf("foreign buffer type %T", b))
	}
	if hb.freed {
		return nil, NewMemoryError(op, "use after free", nil)
	}
	if n > hb.Len() {
		return nil, NewInvalidArgError(op, fmt.Sprintf("copy of %d elements into buffer of %d", n, hb.Len()))
	}
	return hb, nil
}

func (e *Emulator) Launch(fn Function, grid, block Dim3, args ...interface{}) error {
	f, ok := fn.(*emuFunction)
	if !ok {
		return NewInvalidArgError("Launch", fmt.Sprintf("foreign function type %T", fn))
	}
	grid, block = grid.normalized(), block.normalized()
	if block.Size() > MaxThreadsPerBlock {
		return &LaunchError{
			Entry:   f.name,
			Phase:   "launch",
			Message: fmt.Sprintf("invalid configuration argument: %d threads per block exceeds %d", block.Size(), MaxThreadsPerBlock),
		}
	}

	kargs := make([]interface{}, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case *hostBuffer:
			if v.freed {
				return &LaunchError{Entry: f.name, Phase: "launch", Message: fmt.Sprintf("argument %d: use after free", i)}
			}
			kargs[i] = v.data
		case int32, float32:
			kargs[i] = v
		default:
			return NewInvalidArgError("Launch", fmt.Sprintf("argument %d: unsupported type %T", i, a))
		}
	}

	submitted := e.stream.Submit(func() {
		if err := e.execute(f, grid, block, kargs); err != nil {
			e.mu.Lock()
			if e.fault == nil {
				e.fault = err
			}
			e.mu.Unlock()
		}
	})
	if !submitted {
		return &LaunchError{Entry: f.name, Phase: "launch", Message: "device is closed"}
	}
	return nil
}

// Synchronize waits for submitted launches and reports the first fault
// since the previous call.
func (e *Emulator) Synchronize() error {
	e.stream.Synchronize()
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.fault
	e.fault = nil
	return err
}

// execute runs every block of the grid. Blocks are spread over workers;
// threads within a block run sequentially for cache reuse. A panicking
// kernel (out-of-range access, nil slice) becomes a launch fault.
func (e *Emulator) execute(f *emuFunction, grid, block Dim3, args []interface{}) error {
	gridSize := grid.Size()
	blockSize := block.Size()

	numWorkers := e.workers
	if gridSize < numWorkers {
		numWorkers = gridSize
	}
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	var (
		wg       sync.WaitGroup
		faultMu  sync.Mutex
		firstErr error
	)
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		startBlock := w * blocksPerWorker
		endBlock := startBlock + blocksPerWorker
		if endBlock > gridSize {
			endBlock = gridSize
		}
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					faultMu.Lock()
					if firstErr == nil {
						firstErr = &LaunchError{Entry: f.name, Phase: "execution", Message: fmt.Sprint(r)}
					}
					faultMu.Unlock()
				}
			}()
			for blockID := startBlock; blockID < endBlock; blockID++ {
				blockIdx := linearTo3D(blockID, grid)
				for threadID := 0; threadID < blockSize; threadID++ {
					f.fn(ThreadID{
						BlockIdx:  blockIdx,
						ThreadIdx: linearTo3D(threadID, block),
						BlockDim:  block,
						GridDim:   grid,
					}, args...)
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

type emuModule struct {
	emu    *Emulator
	digest string
	image  *Image
}

func (m *emuModule) Entries() []string {
	return append([]string(nil), m.image.Entries...)
}

func (m *emuModule) Function(name string) (Function, error) {
	found := false
	for _, e := range m.image.Entries {
		if e == name {
			found = true
			break
		}
	}
	if !found {
		return nil, &SymbolNotFoundError{Name: name, Candidates: SuggestEntries(name, m.image.Entries, maxSuggestions)}
	}
	fn := m.emu.lookup(m.digest, name)
	if fn == nil {
		return nil, &LaunchError{Entry: name, Phase: "load", Message: "no emulated implementation registered for entry"}
	}
	return &emuFunction{name: name, fn: fn}, nil
}

func (m *emuModule) Unload() error { return nil }

type emuFunction struct {
	name string
	fn   KernelFunc
}

func (f *emuFunction) Name() string { return f.name }

// Stream is an ordered queue of device work executed by one worker.
type Stream struct {
	tasks  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func newStream() *Stream {
	s := &Stream{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go s.worker()
	return s
}

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
		s.wg.Done()
	}
	close(s.done)
}

// Submit adds a task to the stream. It returns false once the stream is
// closed.
func (s *Stream) Submit(task func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.tasks <- task
	return true
}

// Synchronize waits for all tasks in the stream to complete
func (s *Stream) Synchronize() {
	s.wg.Wait()
}

// Close drains the stream and stops its worker.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.done
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

//go:build linux

package cuda

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

type result int32

const (
	cudaSuccess  result = 0
	cudaNotFound result = 500
)

// driver holds the libcuda entry points used by Device.
type driver struct {
	lib     uintptr
	dlclose func(handle uintptr) error

	cuInit              func(flags uint32) result
	cuDeviceGet         func(dev *int32, ordinal int32) result
	cuDeviceGetName     func(name *byte, length int32, dev int32) result
	cuCtxCreate         func(ctx *uintptr, flags uint32, dev int32) result
	cuCtxDestroy        func(ctx uintptr) result
	cuCtxSetCurrent     func(ctx uintptr) result
	cuCtxSynchronize    func() result
	cuModuleLoadData    func(mod *uintptr, image unsafe.Pointer) result
	cuModuleUnload      func(mod uintptr) result
	cuModuleGetFunction func(fn *uintptr, mod uintptr, name string) result
	cuMemAlloc          func(dptr *uint64, size uint64) result
	cuMemFree           func(dptr uint64) result
	cuMemcpyHtoD        func(dst uint64, src unsafe.Pointer, size uint64) result
	cuMemcpyDtoH        func(dst unsafe.Pointer, src uint64, size uint64) result
	cuLaunchKernel      func(fn uintptr, gx, gy, gz, bx, by, bz, sharedMem uint32, stream uintptr, params, extra unsafe.Pointer) result
	cuGetErrorString    func(r result, str **byte) result
}

func loadDriver(library string) (drv *driver, err error) {
	lib, err := purego.Dlopen(library, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// RegisterLibFunc panics on a missing symbol, e.g. an old driver.
	defer func() {
		if r := recover(); r != nil {
			purego.Dlclose(lib)
			drv, err = nil, fmt.Errorf("%w: %v", ErrUnavailable, r)
		}
	}()

	d := &driver{lib: lib, dlclose: purego.Dlclose}
	for _, sym := range []struct {
		fptr interface{}
		name string
	}{
		{&d.cuInit, "cuInit"},
		{&d.cuDeviceGet, "cuDeviceGet"},
		{&d.cuDeviceGetName, "cuDeviceGetName"},
		{&d.cuCtxCreate, "cuCtxCreate_v2"},
		{&d.cuCtxDestroy, "cuCtxDestroy_v2"},
		{&d.cuCtxSetCurrent, "cuCtxSetCurrent"},
		{&d.cuCtxSynchronize, "cuCtxSynchronize"},
		{&d.cuModuleLoadData, "cuModuleLoadData"},
		{&d.cuModuleUnload, "cuModuleUnload"},
		{&d.cuModuleGetFunction, "cuModuleGetFunction"},
		{&d.cuMemAlloc, "cuMemAlloc_v2"},
		{&d.cuMemFree, "cuMemFree_v2"},
		{&d.cuMemcpyHtoD, "cuMemcpyHtoD_v2"},
		{&d.cuMemcpyDtoH, "cuMemcpyDtoH_v2"},
		{&d.cuLaunchKernel, "cuLaunchKernel"},
		{&d.cuGetErrorString, "cuGetErrorString"},
	} {
		purego.RegisterLibFunc(sym.fptr, lib, sym.name)
	}
	return d, nil
}

// open initializes the driver and creates a context on device ordinal.
func (d *driver) open(ordinal int) (ctx uintptr, name string, err error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if r := d.cuInit(0); r != cudaSuccess {
		return 0, "", fmt.Errorf("%w: cuInit: %s", ErrUnavailable, d.message(r))
	}
	var dev int32
	if r := d.cuDeviceGet(&dev, int32(ordinal)); r != cudaSuccess {
		return 0, "", fmt.Errorf("%w: device %d: %s", ErrUnavailable, ordinal, d.message(r))
	}
	buf := make([]byte, 256)
	name = fmt.Sprintf("CUDA device %d", ordinal)
	if r := d.cuDeviceGetName(&buf[0], int32(len(buf)), dev); r == cudaSuccess {
		name = cString(&buf[0])
	}
	if r := d.cuCtxCreate(&ctx, 0, dev); r != cudaSuccess {
		return 0, "", fmt.Errorf("%w: context: %s", ErrUnavailable, d.message(r))
	}
	return ctx, name, nil
}

// close releases the driver library handle.
func (d *driver) close() {
	if d.lib == 0 {
		return
	}
	_ = d.dlclose(d.lib)
	d.lib = 0
}

// message returns the driver's description of r.
func (d *driver) message(r result) string {
	var p *byte
	if d.cuGetErrorString(r, &p) != cudaSuccess || p == nil {
		return fmt.Sprintf("CUDA error %d", int32(r))
	}
	return cString(p)
}

func cString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// Device is one CUDA device with its own context. Driver calls are made
// with the context current on a locked OS thread.
type Device struct {
	mu   sync.Mutex
	drv  *driver
	ctx  uintptr
	name string
	log  *zap.Logger
}

var _ sassplay.Device = (*Device)(nil)

// Open loads the driver library and creates a context on the device with
// the given ordinal. An empty library means DefaultLibrary.
func Open(library string, ordinal int, log *zap.Logger) (*Device, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if library == "" {
		library = DefaultLibrary
	}
	drv, err := loadDriver(library)
	if err != nil {
		return nil, err
	}
	return openDevice(drv, ordinal, log)
}

// openDevice creates the device context. The library is released if that
// fails.
func openDevice(drv *driver, ordinal int, log *zap.Logger) (*Device, error) {
	ctx, name, err := drv.open(ordinal)
	if err != nil {
		drv.close()
		return nil, err
	}

	log.Info("CUDA device opened", zap.String("device", name), zap.Int("ordinal", ordinal))
	return &Device{drv: drv, ctx: ctx, name: name, log: log}, nil
}

// call runs f with the device context current.
func (d *Device) call(f func() result) result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == 0 {
		return result(201) // CUDA_ERROR_INVALID_CONTEXT
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if r := d.drv.cuCtxSetCurrent(d.ctx); r != cudaSuccess {
		return r
	}
	return f()
}

// Close destroys the context.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == 0 {
		return nil
	}
	var err error
	if r := d.drv.cuCtxDestroy(d.ctx); r != cudaSuccess {
		err = errors.New(d.drv.message(r))
	}
	d.ctx = 0
	d.drv.close()
	return err
}

func (d *Device) Name() string { return d.name }

// LoadModule loads a cubin or PTX image. CuAssembler text has to be
// assembled first.
func (d *Device) LoadModule(image []byte) (sassplay.Module, error) {
	img, err := sassplay.ParseImage(image)
	if err != nil {
		return nil, err
	}
	switch img.Format {
	case sassplay.FormatCuasm:
		return nil, sassplay.NewInvalidArgError("LoadModule", "CuAssembler text must be assembled before loading")
	case sassplay.FormatPTX:
		// The driver reads PTX as a NUL-terminated string.
		image = append(append([]byte(nil), image...), 0)
	}

	var handle uintptr
	r := d.call(func() result {
		return d.drv.cuModuleLoadData(&handle, unsafe.Pointer(&image[0]))
	})
	runtime.KeepAlive(image)
	if r != cudaSuccess {
		return nil, &sassplay.LaunchError{Phase: "load", Message: d.drv.message(r)}
	}
	return &module{dev: d, handle: handle, entries: img.Entries}, nil
}

type module struct {
	dev     *Device
	handle  uintptr
	entries []string
}

func (m *module) Entries() []string {
	return append([]string(nil), m.entries...)
}

func (m *module) Function(name string) (sassplay.Function, error) {
	var fn uintptr
	r := m.dev.call(func() result {
		return m.dev.drv.cuModuleGetFunction(&fn, m.handle, name)
	})
	switch r {
	case cudaSuccess:
		return &function{name: name, handle: fn}, nil
	case cudaNotFound:
		return nil, &sassplay.SymbolNotFoundError{Name: name, Candidates: sassplay.SuggestEntries(name, m.entries, 3)}
	default:
		return nil, &sassplay.LaunchError{Entry: name, Phase: "load", Message: m.dev.drv.message(r)}
	}
}

func (m *module) Unload() error {
	if m.handle == 0 {
		return nil
	}
	r := m.dev.call(func() result { return m.dev.drv.cuModuleUnload(m.handle) })
	m.handle = 0
	if r != cudaSuccess {
		return errors.New(m.dev.drv.message(r))
	}
	return nil
}

type function struct {
	name   string
	handle uintptr
}

func (f *function) Name() string { return f.name }

type buffer struct {
	ptr   uint64
	n     int
	freed bool
}

func (b *buffer) Len() int { return b.n }

func (d *Device) Alloc(n int) (sassplay.Buffer, error) {
	if n <= 0 {
		return nil, sassplay.NewInvalidArgError("Alloc", fmt.Sprintf("invalid element count %d", n))
	}
	var ptr uint64
	if r := d.call(func() result { return d.drv.cuMemAlloc(&ptr, uint64(n)*4) }); r != cudaSuccess {
		return nil, sassplay.NewMemoryError("Alloc", d.drv.message(r), nil)
	}
	return &buffer{ptr: ptr, n: n}, nil
}

func (d *Device) Free(b sassplay.Buffer) error {
	db, err := d.buffer("Free", b, 0)
	if err != nil {
		return err
	}
	db.freed = true
	if r := d.call(func() result { return d.drv.cuMemFree(db.ptr) }); r != cudaSuccess {
		return sassplay.NewMemoryError("Free", d.drv.message(r), nil)
	}
	return nil
}

func (d *Device) CopyToDevice(dst sassplay.Buffer, src []float32) error {
	db, err := d.buffer("CopyToDevice", dst, len(src))
	if err != nil || len(src) == 0 {
		return err
	}
	r := d.call(func() result {
		return d.drv.cuMemcpyHtoD(db.ptr, unsafe.Pointer(&src[0]), uint64(len(src))*4)
	})
	runtime.KeepAlive(src)
	if r != cudaSuccess {
		return sassplay.NewMemoryError("CopyToDevice", d.drv.message(r), nil)
	}
	return nil
}

func (d *Device) CopyFromDevice(dst []float32, src sassplay.Buffer) error {
	db, err := d.buffer("CopyFromDevice", src, len(dst))
	if err != nil || len(dst) == 0 {
		return err
	}
	r := d.call(func() result {
		return d.drv.cuMemcpyDtoH(unsafe.Pointer(&dst[0]), db.ptr, uint64(len(dst))*4)
	})
	runtime.KeepAlive(dst)
	if r != cudaSuccess {
		// Faults from earlier asynchronous launches surface here.
		return &sassplay.LaunchError{Phase: "copy", Message: d.drv.message(r)}
	}
	return nil
}

func (d *Device) buffer(op string, b sassplay.Buffer, n int) (*buffer, error) {
	db, ok := b.(*buffer)
	if !ok {
		return nil, sassplay.NewInvalidArgError(op, fmt.Sprintf("foreign buffer type %T", b))
	}
	if db.freed {
		return nil, sassplay.NewMemoryError(op, "use after free", nil)
	}
	if n > db.n {
		return nil, sassplay.NewInvalidArgError(op, fmt.Sprintf("copy of %d elements into buffer of %d", n, db.n))
	}
	return db, nil
}

// Launch enqueues fn. Each argument is copied into pinned host memory and
// the driver receives an array of pointers to those copies.
func (d *Device) Launch(fn sassplay.Function, grid, block sassplay.Dim3, args ...interface{}) error {
	f, ok := fn.(*function)
	if !ok {
		return sassplay.NewInvalidArgError("Launch", fmt.Sprintf("foreign function type %T", fn))
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()

	params := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		var p unsafe.Pointer
		switch v := a.(type) {
		case *buffer:
			if v.freed {
				return &sassplay.LaunchError{Entry: f.name, Phase: "launch", Message: fmt.Sprintf("argument %d: use after free", i)}
			}
			ptr := new(uint64)
			*ptr = v.ptr
			p = unsafe.Pointer(ptr)
		case int32:
			x := new(int32)
			*x = v
			p = unsafe.Pointer(x)
		case float32:
			x := new(float32)
			*x = v
			p = unsafe.Pointer(x)
		default:
			return sassplay.NewInvalidArgError("Launch", fmt.Sprintf("argument %d: unsupported type %T", i, a))
		}
		pinner.Pin(p)
		params[i] = p
	}
	var paramPtr unsafe.Pointer
	if len(params) > 0 {
		pinner.Pin(&params[0])
		paramPtr = unsafe.Pointer(&params[0])
	}

	r := d.call(func() result {
		return d.drv.cuLaunchKernel(f.handle,
			uint32(max(grid.X, 1)), uint32(max(grid.Y, 1)), uint32(max(grid.Z, 1)),
			uint32(max(block.X, 1)), uint32(max(block.Y, 1)), uint32(max(block.Z, 1)),
			0, 0, paramPtr, nil)
	})
	if r != cudaSuccess {
		return &sassplay.LaunchError{Entry: f.name, Phase: "launch", Message: d.drv.message(r)}
	}
	return nil
}

// Synchronize waits for the context's work and reports any fault.
func (d *Device) Synchronize() error {
	if r := d.call(d.drv.cuCtxSynchronize); r != cudaSuccess {
		return &sassplay.LaunchError{Phase: "execution", Message: d.drv.message(r)}
	}
	return nil
}

//go:build !linux

package cuda

import (
	"go.uber.org/zap"

	"github.com/LynnColeArt/sassplay"
)

// Device is unavailable on this platform.
type Device struct{}

var _ sassplay.Device = (*Device)(nil)

// Open always fails with ErrUnavailable.
func Open(library string, ordinal int, log *zap.Logger) (*Device, error) {
	return nil, ErrUnavailable
}

func (d *Device) Close() error { return nil }
func (d *Device) Name() string { return "unavailable" }

func (d *Device) LoadModule([]byte) (sassplay.Module, error)    { return nil, ErrUnavailable }
func (d *Device) Alloc(int) (sassplay.Buffer, error)            { return nil, ErrUnavailable }
func (d *Device) Free(sassplay.Buffer) error                    { return ErrUnavailable }
func (d *Device) CopyToDevice(sassplay.Buffer, []float32) error { return ErrUnavailable }
func (d *Device) CopyFromDevice([]float32, sassplay.Buffer) error {
	return ErrUnavailable
}
func (d *Device) Launch(sassplay.Function, sassplay.Dim3, sassplay.Dim3, ...interface{}) error {
	return ErrUnavailable
}
func (d *Device) Synchronize() error { return ErrUnavailable }

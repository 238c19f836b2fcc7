// Package cuda implements sassplay.Device on the CUDA driver API. libcuda
// is loaded at run time, so the package builds without cgo and without a
// CUDA installation; Open fails with ErrUnavailable where no driver can be
// loaded.
package cuda

import "errors"

// DefaultLibrary is the driver library opened when none is configured.
const DefaultLibrary = "libcuda.so.1"

// ErrUnavailable indicates that the driver library or a device could not
// be opened.
var ErrUnavailable = errors.New("CUDA driver unavailable")

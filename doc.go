// Copyright ©2019 The Gonum Authors. All rights reserved.
// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sassplay manages GPU kernel artifacts through a fixed lifecycle
// (source, compiled, disassembled, edited, reassembled) and measures what a
// hand edit to the machine code did.
//
// The core is the execution engine: it loads a binary onto a Device, runs
// one warm-up launch followed by timed repetitions, and returns the output
// together with timing statistics. Verify checks an output against a
// reference within an absolute or relative tolerance, and a Comparator runs
// a baseline and a modified binary under the same ExecutionSpec to report
// correctness of both and the speedup between them.
//
// Two devices are provided. Emulator runs kernels on the host CPU, with Go
// implementations bound to the entry points a kernel image declares; the
// cuda package drives a real GPU through the driver library.
package sassplay

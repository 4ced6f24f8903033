// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend for tensor operations.
package cpu

import (
	internalcpu "github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/tensor"
)

// Backend represents the CPU backend implementation.
//
// The CPU backend provides pure Go implementations of all tensor
// operations, with BLAS-backed matrix multiplication.
type Backend = internalcpu.Backend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	import (
//	    "github.com/bytesplit-ml/bytesplit/backend/cpu"
//	    "github.com/bytesplit-ml/bytesplit/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	}
func New() *Backend {
	return internalcpu.New()
}

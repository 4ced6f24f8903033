// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU accelerator device used by the
// export pipeline.
//
// WebGPU is a cross-platform graphics and compute API that works on:
//   - Windows (via Dawn/D3D12)
//   - macOS (via Dawn/Metal)
//   - Linux (via Dawn/Vulkan)
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    dev, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer dev.Release()
//	}
package webgpu

import (
	internalwebgpu "github.com/bytesplit-ml/bytesplit/internal/backend/webgpu"
)

// Device is an acquired WebGPU accelerator.
type Device = internalwebgpu.Device

// New acquires a WebGPU device. Call Release() when done to free GPU
// resources.
//
// Returns an error if no compatible adapter or native library is present.
func New() (*Device, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether a WebGPU adapter can be acquired on the
// current system. It is useful for graceful fallback to the CPU-only
// export path when no GPU is available.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}

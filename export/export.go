// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package export writes a trained network to its deployment targets.
//
// A single Store call produces up to four artifacts in the target
// directory: a quantized CPU inference graph, a half-precision
// accelerator graph (when a WebGPU adapter is present), an ONNX model
// and a TensorFlow.js layers bundle.
//
// Example:
//
//	import (
//	    "github.com/bytesplit-ml/bytesplit/export"
//	)
//
//	if err := export.Store(net, "out", export.DefaultOptions()); err != nil {
//	    log.Fatal(err)
//	}
package export

import (
	"github.com/bytesplit-ml/bytesplit/internal/export"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/tensor"
)

// Artifact file names inside the export directory.
const (
	CPUGraphName    = export.CPUGraphName
	WebGPUGraphName = export.WebGPUGraphName
	ONNXName        = export.ONNXName
	TFJSDirName     = export.TFJSDirName
)

// Options selects the export targets.
type Options = export.Options

// DefaultOptions enables every target.
func DefaultOptions() Options {
	return export.DefaultOptions()
}

// Store writes the selected artifacts for net into dir.
func Store[B tensor.Backend](net *model.Network[B], dir string, opts Options) error {
	return export.Store(net, dir, opts)
}

// CPUGraph is a loaded quantized CPU inference graph.
type CPUGraph = export.CPUGraph

// LoadCPUGraph reads a quantized CPU graph artifact for inference.
func LoadCPUGraph(path string) (*CPUGraph, error) {
	return export.LoadCPUGraph(path)
}

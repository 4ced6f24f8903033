// Package export writes a trained network to its four deployment
// targets: a quantized CPU inference graph, a half-precision
// accelerator graph, an ONNX model and a TensorFlow.js layers bundle.
package export

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/bytesplit-ml/bytesplit/internal/backend/webgpu"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Artifact file names inside the export directory.
const (
	CPUGraphName    = "graph_cpu_q8.bspl"
	WebGPUGraphName = "graph_webgpu_f16.bspl"
	ONNXName        = "model.onnx"
	TFJSDirName     = "tfjs"
)

// Options selects the export targets and their device/precision
// configuration. Every target is explicit; nothing is inferred from
// ambient process state.
type Options struct {
	// CPU enables the quantized CPU graph (on by default via
	// DefaultOptions). Failure aborts the export.
	CPU bool
	// Accelerator enables the fp16 graph when a WebGPU adapter is
	// available. An unavailable adapter logs a warning and is not an
	// error.
	Accelerator bool
	// ONNX enables the ONNX export. Failure aborts the export.
	ONNX bool
	// TFJS enables the TensorFlow.js bundle. Failure aborts the export.
	TFJS bool

	// DummyLength is the position count of the zero probe input the CPU
	// graph is traced with.
	DummyLength int
}

// DefaultOptions enables all four targets with the standard probe size.
func DefaultOptions() Options {
	return Options{
		CPU:         true,
		Accelerator: true,
		ONNX:        true,
		TFJS:        true,
		DummyLength: 100,
	}
}

// Store writes the enabled artifacts into dir, creating it (parents
// included) first. Artifacts are written in a fixed order; a failure
// aborts the remaining targets but leaves already-written files in
// place.
func Store[B tensor.Backend](net *model.Network[B], dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: creating %s: %w", dir, err)
	}
	if opts.DummyLength <= 0 {
		opts.DummyLength = 100
	}

	if opts.CPU {
		if err := storeCPUGraph(net, filepath.Join(dir, CPUGraphName), opts.DummyLength); err != nil {
			return fmt.Errorf("export: cpu graph: %w", err)
		}
	}

	if opts.Accelerator {
		if !webgpu.IsAvailable() {
			log.Printf("export: no WebGPU adapter available, accelerator graph not stored")
		} else if err := storeWebGPUGraph(net, filepath.Join(dir, WebGPUGraphName)); err != nil {
			return fmt.Errorf("export: accelerator graph: %w", err)
		}
	}

	if opts.ONNX {
		if err := storeONNX(net, filepath.Join(dir, ONNXName)); err != nil {
			return fmt.Errorf("export: onnx: %w", err)
		}
	}

	if opts.TFJS {
		if err := storeTFJS(net, filepath.Join(dir, TFJSDirName)); err != nil {
			return fmt.Errorf("export: tfjs bundle: %w", err)
		}
	}
	return nil
}

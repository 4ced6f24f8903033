// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package onnx provides ONNX export for the byte tagger network.
//
// The exported model uses the standard ONNX operator set (opset 14)
// with Cast, Gather, bidirectional LSTM, Reshape, MatMul and Add
// nodes. Batch and sequence dimensions are dynamic so the model can
// be served at any input length.
//
// Example:
//
//	import "github.com/bytesplit-ml/bytesplit/onnx"
//
//	data := onnx.Marshal(onnx.BuildTagger(graph))
//	if err := os.WriteFile("model.onnx", data, 0o644); err != nil {
//	    log.Fatal(err)
//	}
package onnx

import (
	"github.com/bytesplit-ml/bytesplit/internal/onnx"
)

// Graph input and output names of the exported tagger.
const (
	InputName  = onnx.InputName
	OutputName = onnx.OutputName
)

// Exported format versions.
const (
	OpsetVersion = onnx.OpsetVersion
	IRVersion    = onnx.IRVersion
)

// ModelProto is the top-level ONNX model message.
type ModelProto = onnx.ModelProto

// GraphProto is the computation graph message.
type GraphProto = onnx.GraphProto

// NodeProto is a single operator node.
type NodeProto = onnx.NodeProto

// TensorProto is a constant tensor (initializer) message.
type TensorProto = onnx.TensorProto

// LSTMWeights holds one bidirectional layer's parameters in the order
// forward weight_ih, weight_hh, bias_ih, bias_hh then the same four
// for the reverse direction.
type LSTMWeights = onnx.LSTMWeights

// TaggerGraph describes the full network to export.
type TaggerGraph = onnx.TaggerGraph

// BuildTagger assembles the ONNX model for the byte tagger.
func BuildTagger(g TaggerGraph) *ModelProto {
	return onnx.BuildTagger(g)
}

// Marshal serializes a model to ONNX protobuf wire format.
func Marshal(m *ModelProto) []byte {
	return onnx.Marshal(m)
}

// Unmarshal parses an ONNX protobuf file.
func Unmarshal(data []byte) (*ModelProto, error) {
	return onnx.Unmarshal(data)
}

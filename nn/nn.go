// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for neural network layers.
package nn

import (
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Module is the common interface of all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter is a named trainable tensor with its gradient buffer.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a trainable parameter with the given name.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Layers

// Embedding is a lookup table mapping discrete indices to dense vectors.
type Embedding[B tensor.Backend] = nn.Embedding[B]

// NewEmbedding creates an embedding layer.
//
// Example:
//
//	backend := cpu.New()
//	emb := nn.NewEmbedding(256, 32, backend)
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	return nn.NewEmbedding(numEmbeddings, embeddingDim, backend)
}

// Linear is a fully connected layer over the trailing feature axis.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer with Xavier-initialized weights.
func NewLinear[B tensor.Backend](prefix string, inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(prefix, inFeatures, outFeatures, backend)
}

// LSTM is a single-layer bidirectional LSTM over batch-first sequences.
type LSTM[B tensor.Backend] = nn.LSTM[B]

// NewLSTM creates a bidirectional LSTM layer.
//
// Example:
//
//	backend := cpu.New()
//	lstm := nn.NewLSTM("lstm1", 32, 128, backend)
func NewLSTM[B tensor.Backend](prefix string, inputSize, hiddenSize int, backend B) *LSTM[B] {
	return nn.NewLSTM(prefix, inputSize, hiddenSize, backend)
}

// Losses

// BCEWithLogitsLoss is binary cross-entropy fused with the sigmoid,
// with support for a positive-class weight and per-channel weights.
type BCEWithLogitsLoss[B tensor.Backend] = nn.BCEWithLogitsLoss[B]

// NewBCEWithLogitsLoss creates the weighted loss.
func NewBCEWithLogitsLoss[B tensor.Backend](posWeight float32, channelWeights []float32, backend B) *BCEWithLogitsLoss[B] {
	return nn.NewBCEWithLogitsLoss(posWeight, channelWeights, backend)
}

// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model provides the byte tagger network.
//
// Example:
//
//	import (
//	    "github.com/bytesplit-ml/bytesplit/backend/cpu"
//	    "github.com/bytesplit-ml/bytesplit/model"
//	)
//
//	net, err := model.NewNetwork(cpu.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
package model

import (
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/tensor"
)

// Architecture dimensions.
const (
	VocabSize   = model.VocabSize
	EmbedDim    = model.EmbedDim
	Hidden1     = model.Hidden1
	Hidden2     = model.Hidden2
	NumChannels = model.NumChannels
)

// Network is the byte tagger: a byte embedding, two stacked
// bidirectional LSTMs with frozen biases, and a linear head emitting
// one logit per label channel and position.
type Network[B tensor.Backend] = model.Network[B]

// NewNetwork builds the tagger on the given backend and verifies its
// forward pass against an independent reference before returning.
func NewNetwork[B tensor.Backend](backend B) (*Network[B], error) {
	return model.NewNetwork(backend)
}

// Copyright 2026 The bytesplit Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	import (
//	    "github.com/bytesplit-ml/bytesplit/optim"
//	    "github.com/bytesplit-ml/bytesplit/nn"
//	    "github.com/bytesplit-ml/bytesplit/backend/cpu"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    layer := nn.NewLinear("out", 128, 2, backend)
//
//	    optimizer := optim.NewAdam(layer.Parameters(), optim.AdamConfig{
//	        LR:    0.001,
//	        Betas: [2]float32{0.9, 0.999},
//	    })
//
//	    for range 10 {
//	        optimizer.ZeroGrad()
//	        // ... forward and backward passes populate gradients ...
//	        optimizer.Step()
//	    }
//	}
package optim

import (
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/optim"
	"github.com/bytesplit-ml/bytesplit/tensor"
)

// Optimizer is the interface implemented by all optimizers.
type Optimizer = optim.Optimizer

// SGD implements stochastic gradient descent with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig holds SGD hyperparameters.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	return optim.NewSGD(params, config)
}

// Adam implements the Adam optimizer with bias correction.
type Adam[B tensor.Backend] = optim.Adam[B]

// AdamConfig holds Adam hyperparameters. Zero values select the
// conventional defaults (lr 0.001, betas 0.9/0.999, epsilon 1e-8).
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig) *Adam[B] {
	return optim.NewAdam(params, config)
}

// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients accumulated on nn.Parameter by the
// layers' Backward passes and update the parameter data in place.
// Frozen parameters (requires_grad false) expose no gradient buffer and
// are skipped, which is how biases pinned to zero stay at zero for the
// whole run.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{
//	    LR: 0.001,
//	})
//
//	for epoch := range epochs {
//	    optimizer.ZeroGrad()
//	    logits := model.Forward(input)
//	    loss := lossFunc.Forward(logits, targets)
//	    model.Backward(lossFunc.Backward())
//	    optimizer.Step()
//	}
package optim

import (
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update using the gradients currently accumulated
	// on the parameters.
	Step()

	// ZeroGrad clears all parameter gradients.
	//
	// This should be called before each backward pass to prevent
	// gradient accumulation from previous iterations.
	ZeroGrad()

	// GetLR returns the current learning rate.
	//
	// Useful for monitoring and learning rate scheduling.
	GetLR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// zeroGrads clears the gradient buffers of all trainable parameters.
func zeroGrads[B tensor.Backend](params []*nn.Parameter[B]) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

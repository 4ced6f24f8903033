package nn

import (
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Parameter represents a learnable tensor in a neural network.
//
// Parameters carry their own gradient buffer, filled by the owning
// layer's Backward pass and consumed by the optimizer. A parameter can
// be frozen with SetRequiresGrad(false): frozen parameters receive no
// gradient and are skipped by the optimizer, which is how the recurrent
// bias terms are pinned to zero for the lifetime of the network.
type Parameter[B tensor.Backend] struct {
	name         string
	tensor       *tensor.Tensor[float32, B]
	grad         *tensor.Tensor[float32, B]
	requiresGrad bool
}

// NewParameter creates a new trainable parameter.
// The gradient buffer is allocated lazily on first accumulation.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:         name,
		tensor:       t,
		requiresGrad: true,
	}
}

// Name returns the parameter name (e.g. "lstm1.weight_ih_l0").
func (p *Parameter[B]) Name() string { return p.name }

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] { return p.tensor }

// Grad returns the gradient tensor, or nil before the first backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] { return p.grad }

// RequiresGrad reports whether the parameter participates in training.
func (p *Parameter[B]) RequiresGrad() bool { return p.requiresGrad }

// SetRequiresGrad toggles training participation. Freezing drops any
// accumulated gradient.
func (p *Parameter[B]) SetRequiresGrad(v bool) {
	p.requiresGrad = v
	if !v {
		p.grad = nil
	}
}

// GradData returns the gradient buffer as a flat slice, allocating it on
// first use. Layers accumulate into the returned slice during Backward.
// Returns nil for frozen parameters: gradient flow stops here.
func (p *Parameter[B]) GradData() []float32 {
	if !p.requiresGrad {
		return nil
	}
	if p.grad == nil {
		p.grad = tensor.Zeros[float32, B](p.tensor.Shape(), p.tensor.Backend())
	}
	return p.grad.Data()
}

// ZeroGrad clears the gradient buffer. Called by the optimizer between
// iterations so gradients do not accumulate across steps.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

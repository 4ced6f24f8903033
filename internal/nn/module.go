// Package nn implements the neural network building blocks for bytesplit:
// parameters with gradient storage, an embedding table, a fully connected
// layer, a bidirectional LSTM with explicit backpropagation through time,
// and the weighted binary cross-entropy loss the tagger trains with.
//
// Layers expose typed Forward/Backward pairs instead of a taped autodiff:
// the architecture is fixed, so each layer computes its own gradients and
// accumulates them into its Parameters. Type parameter B selects the
// tensor backend.
package nn

import (
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Forward signatures vary by layer (the embedding consumes indices, the
// LSTM returns sequence outputs), so the shared contract covers parameter
// traversal and state-dict serialization only.
type Module[B tensor.Backend] interface {
	// Parameters returns all trainable parameters of this module,
	// including frozen ones (callers filter on RequiresGrad).
	Parameters() []*Parameter[B]

	// StateDict returns a map of parameter names to raw tensors.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict loads parameters from a state dictionary.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// loadInto copies a state-dict entry into a parameter, validating name,
// shape, and dtype. Shared by the layer LoadStateDict implementations.
func loadInto[B tensor.Backend](stateDict map[string]*tensor.RawTensor, p *Parameter[B]) error {
	raw, ok := stateDict[p.Name()]
	if !ok {
		return &MissingParameterError{Name: p.Name()}
	}
	if !raw.Shape().Equal(p.Tensor().Shape()) {
		return &ShapeMismatchError{Name: p.Name(), Want: p.Tensor().Shape(), Got: raw.Shape()}
	}
	if raw.DType() != tensor.Float32 {
		return &DTypeError{Name: p.Name(), Got: raw.DType()}
	}
	copy(p.Tensor().Data(), raw.AsFloat32())
	return nil
}

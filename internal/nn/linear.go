package nn

import (
	"fmt"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Linear implements a fully connected layer applied over the trailing
// feature axis: y = x @ Wᵀ + b.
//
// Weight layout is [outFeatures, inFeatures] so the state dict matches
// the export targets directly. Input may be [batch, in] or
// [batch, length, in]; leading axes pass through.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B] // [out, in]
	bias        *Parameter[B] // [out]
	backend     B

	lastInput *tensor.Tensor[float32, B] // cached for Backward
}

// NewLinear creates a Linear layer with Xavier-initialized weights and
// zero bias. Parameter names are prefixed (e.g. "out.weight").
func NewLinear[B tensor.Backend](prefix string, inFeatures, outFeatures int, backend B) *Linear[B] {
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, backend)
	bias := Zeros[B](tensor.Shape{outFeatures}, backend)

	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(prefix+".weight", weight),
		bias:        NewParameter(prefix+".bias", bias),
		backend:     backend,
	}
}

// Forward computes y = x @ Wᵀ + b over the trailing axis.
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected %d input features, got %d", l.inFeatures, shape[len(shape)-1]))
	}

	l.lastInput = input
	wT := l.weight.Tensor().Transpose() // [in, out]
	return input.MatMul(wT).Add(l.bias.Tensor())
}

// Backward accumulates weight and bias gradients and returns the input
// gradient. gradOut must have the shape of the last Forward output.
func (l *Linear[B]) Backward(gradOut *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if l.lastInput == nil {
		panic("linear: Backward called before Forward")
	}

	rows := gradOut.NumElements() / l.outFeatures
	gFlat := gradOut.Reshape(rows, l.outFeatures)
	xFlat := l.lastInput.Reshape(rows, l.inFeatures)

	if gw := l.weight.GradData(); gw != nil {
		// dW = gᵀ @ x, [out, in]
		dw := gFlat.Transpose().MatMul(xFlat)
		accumulate(gw, dw.Data())
	}
	if gb := l.bias.GradData(); gb != nil {
		db := gFlat.SumDim(0, false)
		accumulate(gb, db.Data())
	}

	// dX = g @ W, [rows, in], restored to the input shape.
	dx := gFlat.MatMul(l.weight.Tensor())
	return dx.Reshape(l.lastInput.Shape()...)
}

func accumulate(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Parameters returns [weight, bias].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }

// Bias returns the bias parameter.
func (l *Linear[B]) Bias() *Parameter[B] { return l.bias }

// InFeatures returns the input width.
func (l *Linear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output width.
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }

// StateDict returns a map of parameter names to raw tensors.
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		l.weight.Name(): l.weight.Tensor().Raw(),
		l.bias.Name():   l.bias.Tensor().Raw(),
	}
}

// LoadStateDict loads parameters from a state dictionary.
func (l *Linear[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(stateDict, l.weight); err != nil {
		return err
	}
	return loadInto(stateDict, l.bias)
}

package tensor

// Backend defines the interface compute backends must implement.
//
// The op surface is exactly what the network, its loss, and the export
// pipeline need; backends handle broadcasting for the element-wise ops.
type Backend interface {
	// Element-wise binary operations (with broadcasting).
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies the two innermost axes; leading axes are treated
	// as a batch: [..., M, K] @ [K, N] -> [..., M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Scalar operations.
	AddScalar(x *RawTensor, scalar float32) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// Element-wise math.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// Activations.
	Sigmoid(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Embedding looks up rows of weight [V, D] by indices of any shape,
	// producing [..., D].
	Embedding(weight, indices *RawTensor) *RawTensor

	// Cast converts to a different element type.
	Cast(x *RawTensor, dtype DataType) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}

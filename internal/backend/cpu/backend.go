// Package cpu implements the CPU backend. Matrix multiplication is
// delegated to gonum's float32 BLAS; element-wise kernels are pure Go
// parallelized with the parallel package.
package cpu

import (
	"fmt"
	"math"

	"github.com/bytesplit-ml/bytesplit/internal/parallel"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Backend implements tensor.Backend on the CPU.
type Backend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend.
func New() *Backend {
	return &Backend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (c *Backend) Name() string { return "CPU" }

// Device returns the compute device.
func (c *Backend) Device() tensor.Device { return c.device }

// Add performs element-wise addition with NumPy-style broadcasting.
func (c *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (c *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (c *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (c *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("div", a, b, func(x, y float32) float32 { return x / y })
}

func (c *Backend) binaryOp(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: float32 operands required, got %s and %s", name, a.DType(), b.DType()))
	}

	outShape, expands, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, tensor.Float32, c.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	out := result.AsFloat32()
	av := a.AsFloat32()
	bv := b.AsFloat32()

	if !expands {
		// Fast path: identical shapes.
		parallel.For(len(out), func(i int) {
			out[i] = f(av[i], bv[i])
		}, c.par)
		return result
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)

	parallel.For(len(out), func(i int) {
		out[i] = f(av[flatIndex(i, outStrides, aStrides)], bv[flatIndex(i, outStrides, bStrides)])
	}, c.par)
	return result
}

// AddScalar adds a scalar to every element.
func (c *Backend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return v + scalar })
}

// MulScalar multiplies every element by a scalar.
func (c *Backend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return v * scalar })
}

// Exp applies the element-wise exponential.
func (c *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log applies the element-wise natural logarithm.
func (c *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt applies the element-wise square root.
func (c *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Sigmoid applies the logistic function element-wise.
func (c *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp(x, sigmoid)
}

// Tanh applies the hyperbolic tangent element-wise.
func (c *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp(x, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

func (c *Backend) unaryOp(x *tensor.RawTensor, f func(v float32) float32) *tensor.RawTensor {
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("unary op: float32 operand required, got %s", x.DType()))
	}

	result, err := tensor.NewRaw(x.Shape(), tensor.Float32, c.device)
	if err != nil {
		panic(err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()
	parallel.For(len(out), func(i int) {
		out[i] = f(in[i])
	}, c.par)
	return result
}

// Sum reduces the tensor to a single-element total.
// Accumulates in float64 to keep long reductions stable.
func (c *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, c.device)
	if err != nil {
		panic(err)
	}

	var total float64
	for _, v := range x.AsFloat32() {
		total += float64(v)
	}
	result.AsFloat32()[0] = float32(total)
	return result
}

// SumDim sums along one dimension.
func (c *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	shape := x.Shape()
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("sumdim: dimension %d out of range for shape %v", dim, shape))
	}

	outShape := tensor.Shape{}
	for i, d := range shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	result, err := tensor.NewRaw(outShape, tensor.Float32, c.device)
	if err != nil {
		panic(err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()

	// Iterate as [outer, dim, inner].
	strides := shape.ComputeStrides()
	inner := strides[dim]
	outer := len(in) / (inner * shape[dim])

	parallel.For(outer*inner, func(k int) {
		o, r := k/inner, k%inner
		base := o*shape[dim]*inner + r
		var total float64
		for j := 0; j < shape[dim]; j++ {
			total += float64(in[base+j*inner])
		}
		out[k] = float32(total)
	}, c.par)
	return result
}

// Reshape returns a view of the tensor under a new shape.
func (c *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	return t.View(newShape)
}

// Transpose permutes axes, materializing the result.
// With no explicit axes, all axes are reversed.
func (c *Backend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	n := len(shape)

	if len(axes) == 0 {
		axes = make([]int, n)
		for i := range axes {
			axes[i] = n - 1 - i
		}
	}
	if len(axes) != n {
		panic(fmt.Sprintf("transpose: expected %d axes, got %d", n, len(axes)))
	}

	outShape := make(tensor.Shape, n)
	for i, ax := range axes {
		outShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(outShape, t.DType(), c.device)
	if err != nil {
		panic(err)
	}
	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("transpose: float32 operand required, got %s", t.DType()))
	}

	in := t.AsFloat32()
	out := result.AsFloat32()
	inStrides := shape.ComputeStrides()
	outStrides := outShape.ComputeStrides()

	parallel.For(len(out), func(i int) {
		rem := i
		src := 0
		for d := 0; d < n; d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			src += coord * inStrides[axes[d]]
		}
		out[i] = in[src]
	}, c.par)
	return result
}

// Embedding gathers rows of weight [V, D] by indices, producing [..., D].
// Indices may be int32 or uint8 (byte input is looked up directly).
func (c *Backend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("embedding: weight must be 2D, got %v", wShape))
	}
	vocab, dim := wShape[0], wShape[1]

	outShape := append(indices.Shape().Clone(), dim)
	result, err := tensor.NewRaw(outShape, tensor.Float32, c.device)
	if err != nil {
		panic(err)
	}

	idx := make([]int, indices.NumElements())
	switch indices.DType() {
	case tensor.Int32:
		for i, v := range indices.AsInt32() {
			idx[i] = int(v)
		}
	case tensor.Int64:
		for i, v := range indices.AsInt64() {
			idx[i] = int(v)
		}
	case tensor.Uint8:
		for i, v := range indices.AsUint8() {
			idx[i] = int(v)
		}
	default:
		panic(fmt.Sprintf("embedding: unsupported index dtype %s", indices.DType()))
	}

	w := weight.AsFloat32()
	out := result.AsFloat32()
	parallel.For(len(idx), func(i int) {
		row := idx[i]
		if row < 0 || row >= vocab {
			panic(fmt.Sprintf("embedding: index %d out of range [0, %d)", row, vocab))
		}
		copy(out[i*dim:(i+1)*dim], w[row*dim:(row+1)*dim])
	}, c.par)
	return result
}

// Cast converts the tensor to a different element type.
func (c *Backend) Cast(x *tensor.RawTensor, dtype tensor.DataType) *tensor.RawTensor {
	if x.DType() == dtype {
		return x.Clone()
	}

	result, err := tensor.NewRaw(x.Shape(), dtype, c.device)
	if err != nil {
		panic(err)
	}

	n := x.NumElements()
	read := sourceReader(x)
	switch dtype {
	case tensor.Float32:
		out := result.AsFloat32()
		for i := 0; i < n; i++ {
			out[i] = float32(read(i))
		}
	case tensor.Float16:
		out := result.AsFloat16()
		for i := 0; i < n; i++ {
			out[i] = tensor.Float16FromFloat32(float32(read(i)))
		}
	case tensor.Int32:
		out := result.AsInt32()
		for i := 0; i < n; i++ {
			out[i] = int32(read(i))
		}
	case tensor.Int64:
		out := result.AsInt64()
		for i := 0; i < n; i++ {
			out[i] = int64(read(i))
		}
	case tensor.Uint8:
		out := result.AsUint8()
		for i := 0; i < n; i++ {
			out[i] = uint8(read(i))
		}
	default:
		panic(fmt.Sprintf("cast: unsupported target dtype %s", dtype))
	}
	return result
}

// sourceReader returns an element accessor promoting any dtype to float64.
func sourceReader(x *tensor.RawTensor) func(i int) float64 {
	switch x.DType() {
	case tensor.Float32:
		v := x.AsFloat32()
		return func(i int) float64 { return float64(v[i]) }
	case tensor.Float16:
		v := x.AsFloat16()
		return func(i int) float64 { return float64(tensor.Float16ToFloat32(v[i])) }
	case tensor.Float64:
		v := x.AsFloat64()
		return func(i int) float64 { return v[i] }
	case tensor.Int32:
		v := x.AsInt32()
		return func(i int) float64 { return float64(v[i]) }
	case tensor.Int64:
		v := x.AsInt64()
		return func(i int) float64 { return float64(v[i]) }
	case tensor.Uint8:
		v := x.AsUint8()
		return func(i int) float64 { return float64(v[i]) }
	default:
		panic(fmt.Sprintf("cast: unsupported source dtype %s", x.DType()))
	}
}

// broadcastStrides computes strides for broadcasting inShape to outShape.
// Dimensions of size 1 (and padded leading dimensions) get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)
	offset := outDim - len(inShape)
	orig := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		if inIdx < 0 || inShape[inIdx] == 1 {
			strides[i] = 0
			continue
		}
		strides[i] = orig[inIdx]
	}
	return strides
}

// flatIndex maps a flat output index to a flat source index given
// broadcast-adjusted strides.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	flat := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flat += coord * inStrides[i]
	}
	return flat
}

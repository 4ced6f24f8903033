package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// MatMul multiplies the two innermost axes through gonum's float32 BLAS.
//
// Supported operand ranks:
//
//	[M, K]    @ [K, N] -> [M, N]
//	[..., M, K] @ [K, N] -> [..., M, N]  (leading axes flattened into M)
//
// The right operand is always a plain matrix; that is the only form the
// network needs (gate projections and the output head).
func (c *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: right operand must be 2D, got %v", bShape))
	}
	if len(aShape) < 2 {
		panic(fmt.Sprintf("matmul: left operand must be at least 2D, got %v", aShape))
	}

	k := aShape[len(aShape)-1]
	if k != bShape[0] {
		panic(fmt.Sprintf("matmul: inner dimensions disagree: %v @ %v", aShape, bShape))
	}
	n := bShape[1]
	m := a.NumElements() / k

	outShape := aShape.Clone()
	outShape[len(outShape)-1] = n

	result, err := tensor.NewRaw(outShape, tensor.Float32, c.device)
	if err != nil {
		panic(err)
	}

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a.AsFloat32()},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b.AsFloat32()},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: result.AsFloat32()},
	)
	return result
}

package quant

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/cpuid/v2"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// dotKernel computes the int32 dot product of one activation block
// against one weight block.
type dotKernel func(aq []int8, wq []byte) int32

// blockDot is selected once at startup. CPUs with AVX2 get the unrolled
// wide-accumulation path; everything else uses the scalar loop. Both
// produce identical results.
var blockDot = pickKernel()

func pickKernel() dotKernel {
	if cpuid.CPU.Supports(cpuid.AVX2) {
		return blockDotWide
	}
	return blockDotScalar
}

func blockDotScalar(aq []int8, wq []byte) int32 {
	var acc int32
	for i := 0; i < Q8BlockSize; i++ {
		acc += int32(aq[i]) * int32(int8(wq[i]))
	}
	return acc
}

// blockDotWide keeps four independent accumulators so the compiler can
// schedule the multiplies without a loop-carried dependency.
func blockDotWide(aq []int8, wq []byte) int32 {
	var a0, a1, a2, a3 int32
	for i := 0; i < Q8BlockSize; i += 4 {
		a0 += int32(aq[i]) * int32(int8(wq[i]))
		a1 += int32(aq[i+1]) * int32(int8(wq[i+1]))
		a2 += int32(aq[i+2]) * int32(int8(wq[i+2]))
		a3 += int32(aq[i+3]) * int32(int8(wq[i+3]))
	}
	return a0 + a1 + a2 + a3
}

// MatMulQ8 multiplies float32 activations a [m, k] by a Q8-quantized
// weight matrix w [n, k] (row-major, each row independently blocked),
// producing [m, n]. Activations are dynamically quantized per block
// with the same symmetric scheme as the weights, the dot products
// accumulate in int32 and the two scales recover the float magnitude.
// k must be a multiple of the block size.
func MatMulQ8(a []float32, m, k int, w []byte, n int, out []float32) error {
	if k%Q8BlockSize != 0 {
		return fmt.Errorf("quant: inner dimension %d not a multiple of block size %d", k, Q8BlockSize)
	}
	if len(a) != m*k {
		return fmt.Errorf("quant: %d activations for [%d, %d]", len(a), m, k)
	}
	blocksPerRow := k / Q8BlockSize
	if len(w) != n*blocksPerRow*q8BlockBytes {
		return fmt.Errorf("quant: %d weight bytes for [%d, %d]", len(w), n, k)
	}
	if len(out) != m*n {
		return fmt.Errorf("quant: %d output elements for [%d, %d]", len(out), m, n)
	}

	// Quantize each activation row once, then reuse it for every
	// weight row.
	aQuants := make([]int8, k)
	aScales := make([]float32, blocksPerRow)

	for row := 0; row < m; row++ {
		quantizeRow(a[row*k:(row+1)*k], aQuants, aScales)

		for col := 0; col < n; col++ {
			wRow := w[col*blocksPerRow*q8BlockBytes:]
			var acc float32
			for blk := 0; blk < blocksPerRow; blk++ {
				wBlock := wRow[blk*q8BlockBytes:]
				wScale := tensor.Float16ToFloat32(binary.LittleEndian.Uint16(wBlock[0:2]))
				dot := blockDot(aQuants[blk*Q8BlockSize:(blk+1)*Q8BlockSize], wBlock[2:2+Q8BlockSize])
				acc += float32(dot) * aScales[blk] * wScale
			}
			out[row*n+col] = acc
		}
	}
	return nil
}

// quantizeRow symmetrically quantizes one activation row per block.
func quantizeRow(row []float32, quants []int8, scales []float32) {
	for blk := 0; blk < len(row)/Q8BlockSize; blk++ {
		block := row[blk*Q8BlockSize : (blk+1)*Q8BlockSize]

		var absMax float32
		for _, v := range block {
			if v < 0 {
				v = -v
			}
			if v > absMax {
				absMax = v
			}
		}
		d := absMax / 127
		scales[blk] = d

		for i, v := range block {
			var q int32
			if d != 0 {
				q = int32(roundf(v / d))
			}
			if q > 127 {
				q = 127
			}
			if q < -127 {
				q = -127
			}
			quants[blk*Q8BlockSize+i] = int8(q)
		}
	}
}

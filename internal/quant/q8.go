// Package quant implements the weight quantization schemes used by the
// export pipeline: symmetric 8-bit block quantization for the CPU
// inference graph and affine uint8 quantization for the JS bundle.
package quant

import (
	"encoding/binary"
	"fmt"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Q8 block layout: 32 elements per block, one half-precision scale
// followed by 32 int8 quants. 34 bytes per block.
const (
	Q8BlockSize  = 32
	q8BlockBytes = 2 + Q8BlockSize
)

// Q8Blocks returns the number of blocks needed for n elements.
func Q8Blocks(n int) int {
	return (n + Q8BlockSize - 1) / Q8BlockSize
}

// Q8Size returns the serialized size in bytes for n elements.
func Q8Size(n int) int {
	return Q8Blocks(n) * q8BlockBytes
}

// QuantizeQ8 quantizes values into Q8 blocks. Each block stores its own
// scale d = absmax/127 as float16, so the scale survives the round trip
// through serialized form bit-exactly. A partial final block is padded
// with zeros.
func QuantizeQ8(values []float32) []byte {
	out := make([]byte, Q8Size(len(values)))
	for b := 0; b < Q8Blocks(len(values)); b++ {
		start := b * Q8BlockSize
		end := start + Q8BlockSize
		if end > len(values) {
			end = len(values)
		}
		block := values[start:end]

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
		// Round the scale through fp16 first so quantization uses the
		// exact scale the decoder will see.
		d = tensor.Float16ToFloat32(tensor.Float16FromFloat32(d))

		dst := out[b*q8BlockBytes:]
		binary.LittleEndian.PutUint16(dst[0:2], tensor.Float16FromFloat32(d))
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
			dst[2+i] = byte(int8(q))
		}
	}
	return out
}

// DequantizeQ8 expands Q8 blocks back to numElements float32 values.
func DequantizeQ8(data []byte, numElements int) ([]float32, error) {
	if len(data) != Q8Size(numElements) {
		return nil, fmt.Errorf("quant: %d bytes for %d elements, expected %d", len(data), numElements, Q8Size(numElements))
	}
	out := make([]float32, numElements)
	for b := 0; b < Q8Blocks(numElements); b++ {
		src := data[b*q8BlockBytes:]
		d := tensor.Float16ToFloat32(binary.LittleEndian.Uint16(src[0:2]))
		start := b * Q8BlockSize
		for i := 0; i < Q8BlockSize && start+i < numElements; i++ {
			out[start+i] = d * float32(int8(src[2+i]))
		}
	}
	return out, nil
}

func roundf(v float32) float32 {
	if v >= 0 {
		return float32(int32(v + 0.5))
	}
	return float32(int32(v - 0.5))
}

package nn

import (
	"math"
	"math/rand"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Xavier initializes a weight tensor from the Glorot uniform distribution
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return uniform[B](shape, bound, backend)
}

// RecurrentUniform initializes a recurrent weight tensor from
// U(-1/sqrt(hidden), +1/sqrt(hidden)), the conventional LSTM weight
// distribution.
func RecurrentUniform[B tensor.Backend](hidden int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return uniform[B](shape, 1.0/math.Sqrt(float64(hidden)), backend)
}

func uniform[B tensor.Backend](shape tensor.Shape, bound float64, backend B) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32, B](shape, backend)
	data := t.Data()
	for i := range data {
		//nolint:gosec // math/rand is appropriate for weight initialization
		data[i] = float32((rand.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// Zeros creates a zero-filled tensor; used for bias initialization.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

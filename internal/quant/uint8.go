package quant

// AffineParams holds the min/scale pair of one uint8-quantized tensor,
// matching the quantization metadata the JS loader expects.
type AffineParams struct {
	Min   float32
	Scale float32
}

// QuantizeUint8 maps values onto [0, 255] with a single affine
// transform: q = round((v - min) / scale). A constant tensor gets
// scale 1 so dequantization reproduces it exactly.
func QuantizeUint8(values []float32) ([]uint8, AffineParams) {
	if len(values) == 0 {
		return nil, AffineParams{Scale: 1}
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	scale := (maxV - minV) / 255
	if scale == 0 {
		scale = 1
	}

	out := make([]uint8, len(values))
	for i, v := range values {
		q := roundf((v - minV) / scale)
		if q < 0 {
			q = 0
		}
		if q > 255 {
			q = 255
		}
		out[i] = uint8(q)
	}
	return out, AffineParams{Min: minV, Scale: scale}
}

// DequantizeUint8 reverses QuantizeUint8.
func DequantizeUint8(q []uint8, p AffineParams) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = float32(v)*p.Scale + p.Min
	}
	return out
}

package model

import (
	"fmt"
	"math"

	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// referenceTolerance bounds the allowed divergence between the float32
// forward pass and the float64 reference on the probe input.
const referenceTolerance = 1e-4

// probe is the fixed byte sequence used for the construction-time check.
var probe = []byte("Byte boundaries are cheap to tag. The model sees raw bytes!")

// verifyAgainstReference runs the network forward on the probe and
// compares it element-wise against an independent float64 evaluation of
// the same architecture with the same weights. Catches broken kernels
// and mis-wired layers at construction instead of mid-training.
func (n *Network[B]) verifyAgainstReference() error {
	input, err := tensor.FromSlice(probe, tensor.Shape{1, len(probe)}, n.backend)
	if err != nil {
		return err
	}
	got := n.Forward(input).Data()
	want := n.referenceForward(probe)
	if len(got) != len(want) {
		return fmt.Errorf("output has %d elements, reference has %d", len(got), len(want))
	}

	var maxDiff float64
	for i := range got {
		d := math.Abs(float64(got[i]) - want[i])
		if d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff > referenceTolerance {
		return fmt.Errorf("max abs diff %g exceeds %g", maxDiff, referenceTolerance)
	}
	return nil
}

// referenceForward evaluates the full network in float64 using plain
// loops, independent of the tensor backend.
func (n *Network[B]) referenceForward(input []byte) []float64 {
	L := len(input)

	// Embedding lookup.
	embW := n.embedding.Parameters()[0].Tensor().Data()
	h := make([]float64, L*EmbedDim)
	for t, b := range input {
		for j := 0; j < EmbedDim; j++ {
			h[t*EmbedDim+j] = float64(embW[int(b)*EmbedDim+j])
		}
	}

	h = refBiLSTM(h, L, EmbedDim, Hidden1, paramData(n.lstm1.Parameters()))
	h = refBiLSTM(h, L, 2*Hidden1, Hidden2, paramData(n.lstm2.Parameters()))

	// Output projection.
	w := n.out.Weight().Tensor().Data() // [NumChannels, 2*Hidden2]
	bias := n.out.Bias().Tensor().Data()
	out := make([]float64, L*NumChannels)
	for t := 0; t < L; t++ {
		for o := 0; o < NumChannels; o++ {
			acc := float64(bias[o])
			for j := 0; j < 2*Hidden2; j++ {
				acc += h[t*2*Hidden2+j] * float64(w[o*2*Hidden2+j])
			}
			out[t*NumChannels+o] = acc
		}
	}
	return out
}

// refBiLSTM runs both directions of one bidirectional layer in float64.
// weights follows the layer's Parameters() order: forward wih, whh, bih,
// bhh, then the reverse direction.
func refBiLSTM(x []float64, L, in, H int, weights [][]float32) []float64 {
	out := make([]float64, L*2*H)
	refLSTMDirection(x, out, L, in, H, weights[0:4], false)
	refLSTMDirection(x, out, L, in, H, weights[4:8], true)
	return out
}

func refLSTMDirection(x, out []float64, L, in, H int, weights [][]float32, reverse bool) {
	wih := weights[0]
	whh := weights[1]
	bih := weights[2]
	bhh := weights[3]

	hPrev := make([]float64, H)
	cPrev := make([]float64, H)
	gates := make([]float64, 4*H)

	for step := 0; step < L; step++ {
		t := step
		if reverse {
			t = L - 1 - step
		}
		for g := 0; g < 4*H; g++ {
			acc := float64(bih[g]) + float64(bhh[g])
			for j := 0; j < in; j++ {
				acc += float64(wih[g*in+j]) * x[t*in+j]
			}
			for j := 0; j < H; j++ {
				acc += float64(whh[g*H+j]) * hPrev[j]
			}
			gates[g] = acc
		}
		for j := 0; j < H; j++ {
			ig := refSigmoid(gates[j])
			fg := refSigmoid(gates[H+j])
			cg := math.Tanh(gates[2*H+j])
			og := refSigmoid(gates[3*H+j])

			c := fg*cPrev[j] + ig*cg
			cPrev[j] = c
			hPrev[j] = og * math.Tanh(c)
		}
		off := 0
		if reverse {
			off = H
		}
		copy(out[t*2*H+off:t*2*H+off+H], hPrev)
	}
}

func refSigmoid(v float64) float64 {
	return 1.0 / (1.0 + math.Exp(-v))
}

// paramData extracts the raw float32 slices from a parameter list.
func paramData[B tensor.Backend](params []*nn.Parameter[B]) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = p.Tensor().Data()
	}
	return out
}

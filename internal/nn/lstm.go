package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// LSTM is a single-layer bidirectional LSTM over batch-first sequences.
//
// Gate layout follows the (input, forget, cell, output) convention with
// per-direction weights weight_ih [4H, in], weight_hh [4H, H] and the two
// additive biases bias_ih, bias_hh [4H]. Reverse-direction parameters
// carry the "_reverse" suffix.
//
// Forward caches per-timestep gate activations and states; Backward runs
// full backpropagation through time on those caches and accumulates
// parameter gradients. The inner loops run on contiguous float32 slices
// through gonum's BLAS: the recurrence is inherently sequential, so the
// tensor-op granularity of the backend interface would only add
// per-timestep allocation overhead.
type LSTM[B tensor.Backend] struct {
	inputSize  int
	hiddenSize int
	fwd        lstmDirection[B]
	rev        lstmDirection[B]
	backend    B

	cache *lstmCache
}

type lstmDirection[B tensor.Backend] struct {
	wih *Parameter[B] // [4H, in]
	whh *Parameter[B] // [4H, H]
	bih *Parameter[B] // [4H]
	bhh *Parameter[B] // [4H]
}

// lstmCache holds everything Backward needs from the last Forward call.
type lstmCache struct {
	batch, length int
	xTM           []float32 // time-major input [L, b, in]
	fwd, rev      directionCache
}

// directionCache stores per-step activations in processing order.
type directionCache struct {
	gates [][]float32 // [L] of [b, 4H], post-activation (i, f, g, o)
	cs    [][]float32 // [L] of [b, H], cell states
	hs    [][]float32 // [L] of [b, H], hidden states
}

// NewLSTM creates a bidirectional LSTM layer. Parameter names are
// prefixed (e.g. "lstm1.weight_ih_l0"). All weights and biases are drawn
// from U(-1/sqrt(H), +1/sqrt(H)); callers that pin the biases to zero do
// so after construction.
func NewLSTM[B tensor.Backend](prefix string, inputSize, hiddenSize int, backend B) *LSTM[B] {
	newDir := func(suffix string) lstmDirection[B] {
		return lstmDirection[B]{
			wih: NewParameter(prefix+".weight_ih_l0"+suffix,
				RecurrentUniform(hiddenSize, tensor.Shape{4 * hiddenSize, inputSize}, backend)),
			whh: NewParameter(prefix+".weight_hh_l0"+suffix,
				RecurrentUniform(hiddenSize, tensor.Shape{4 * hiddenSize, hiddenSize}, backend)),
			bih: NewParameter(prefix+".bias_ih_l0"+suffix,
				RecurrentUniform(hiddenSize, tensor.Shape{4 * hiddenSize}, backend)),
			bhh: NewParameter(prefix+".bias_hh_l0"+suffix,
				RecurrentUniform(hiddenSize, tensor.Shape{4 * hiddenSize}, backend)),
		}
	}

	return &LSTM[B]{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		fwd:        newDir(""),
		rev:        newDir("_reverse"),
		backend:    backend,
	}
}

// InputSize returns the per-position input width.
func (l *LSTM[B]) InputSize() int { return l.inputSize }

// HiddenSize returns the per-direction hidden width.
func (l *LSTM[B]) HiddenSize() int { return l.hiddenSize }

// BiasParameters returns the four additive bias parameters.
func (l *LSTM[B]) BiasParameters() []*Parameter[B] {
	return []*Parameter[B]{l.fwd.bih, l.fwd.bhh, l.rev.bih, l.rev.bhh}
}

// Forward encodes input [batch, length, inputSize] into
// [batch, length, 2*hiddenSize]: forward-direction states in the first
// half of the feature axis, reverse-direction states in the second.
func (l *LSTM[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 3 || shape[2] != l.inputSize {
		panic(fmt.Sprintf("lstm: expected input [batch, length, %d], got %v", l.inputSize, shape))
	}
	b, L := shape[0], shape[1]
	H := l.hiddenSize

	// Time-major copy so each timestep is one contiguous [b, in] block.
	xTM := toTimeMajor(input.Data(), b, L, l.inputSize)

	cache := &lstmCache{batch: b, length: L, xTM: xTM}
	cache.fwd = l.runDirection(&l.fwd, xTM, b, L, false)
	cache.rev = l.runDirection(&l.rev, xTM, b, L, true)
	l.cache = cache

	out := tensor.Zeros[float32, B](tensor.Shape{b, L, 2 * H}, l.backend)
	o := out.Data()
	for step := 0; step < L; step++ {
		tf, tr := step, L-1-step
		hf := cache.fwd.hs[step]
		hr := cache.rev.hs[step]
		for bi := 0; bi < b; bi++ {
			copy(o[bi*L*2*H+tf*2*H:], hf[bi*H:(bi+1)*H])
			copy(o[bi*L*2*H+tr*2*H+H:], hr[bi*H:(bi+1)*H])
		}
	}
	return out
}

// runDirection executes the recurrence over one direction; reverse walks
// the sequence back to front. Returned caches are in processing order.
func (l *LSTM[B]) runDirection(dir *lstmDirection[B], xTM []float32, b, L int, reverse bool) directionCache {
	H := l.hiddenSize
	in := l.inputSize
	wih := dir.wih.Tensor().Data()
	whh := dir.whh.Tensor().Data()
	bih := dir.bih.Tensor().Data()
	bhh := dir.bhh.Tensor().Data()

	dc := directionCache{
		gates: make([][]float32, L),
		cs:    make([][]float32, L),
		hs:    make([][]float32, L),
	}

	hPrev := make([]float32, b*H)
	cPrev := make([]float32, b*H)

	for step := 0; step < L; step++ {
		t := step
		if reverse {
			t = L - 1 - step
		}
		xt := xTM[t*b*in : (t+1)*b*in]

		gates := make([]float32, b*4*H)
		for bi := 0; bi < b; bi++ {
			row := gates[bi*4*H : (bi+1)*4*H]
			for j := range row {
				row[j] = bih[j] + bhh[j]
			}
		}
		gemmNT(xt, b, in, wih, 4*H, gates)
		gemmNT(hPrev, b, H, whh, 4*H, gates)

		c := make([]float32, b*H)
		h := make([]float32, b*H)
		for bi := 0; bi < b; bi++ {
			g := gates[bi*4*H:]
			for j := 0; j < H; j++ {
				ig := sigmoidf(g[j])
				fg := sigmoidf(g[H+j])
				cg := tanhf(g[2*H+j])
				og := sigmoidf(g[3*H+j])

				ct := fg*cPrev[bi*H+j] + ig*cg
				c[bi*H+j] = ct
				h[bi*H+j] = og * tanhf(ct)

				// Keep the activated gates for BPTT.
				g[j], g[H+j], g[2*H+j], g[3*H+j] = ig, fg, cg, og
			}
		}

		dc.gates[step] = gates
		dc.cs[step] = c
		dc.hs[step] = h
		hPrev, cPrev = h, c
	}
	return dc
}

// Backward runs BPTT over the cached forward pass, accumulates parameter
// gradients, and returns the gradient with respect to the input.
// gradOut: [batch, length, 2*hiddenSize].
func (l *LSTM[B]) Backward(gradOut *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	cache := l.cache
	if cache == nil {
		panic("lstm: Backward called before Forward")
	}
	b, L := cache.batch, cache.length
	H := l.hiddenSize
	g := gradOut.Data()
	if len(g) != b*L*2*H {
		panic(fmt.Sprintf("lstm: gradient has %d elements, expected %d", len(g), b*L*2*H))
	}

	dxTM := make([]float32, L*b*l.inputSize)
	l.backDirection(&l.fwd, &cache.fwd, cache, g, dxTM, false)
	l.backDirection(&l.rev, &cache.rev, cache, g, dxTM, true)

	dx := tensor.Zeros[float32, B](tensor.Shape{b, L, l.inputSize}, l.backend)
	fromTimeMajor(dxTM, dx.Data(), b, L, l.inputSize)
	return dx
}

func (l *LSTM[B]) backDirection(dir *lstmDirection[B], dc *directionCache, cache *lstmCache, gradOut, dxTM []float32, reverse bool) {
	b, L := cache.batch, cache.length
	H := l.hiddenSize
	in := l.inputSize
	wih := dir.wih.Tensor().Data()
	whh := dir.whh.Tensor().Data()

	dWih := dir.wih.GradData()
	dWhh := dir.whh.GradData()
	dBih := dir.bih.GradData()
	dBhh := dir.bhh.GradData()

	dirOff := 0
	if reverse {
		dirOff = H
	}

	dhNext := make([]float32, b*H)
	dcNext := make([]float32, b*H)
	dA := make([]float32, b*4*H)

	for step := L - 1; step >= 0; step-- {
		t := step
		if reverse {
			t = L - 1 - step
		}

		gates := dc.gates[step]
		c := dc.cs[step]
		var cPrev, hPrev []float32
		if step > 0 {
			cPrev = dc.cs[step-1]
			hPrev = dc.hs[step-1]
		}

		for bi := 0; bi < b; bi++ {
			gr := gates[bi*4*H:]
			da := dA[bi*4*H:]
			for j := 0; j < H; j++ {
				ig, fg, cg, og := gr[j], gr[H+j], gr[2*H+j], gr[3*H+j]
				tc := tanhf(c[bi*H+j])

				dh := gradOut[bi*L*2*H+t*2*H+dirOff+j] + dhNext[bi*H+j]
				dct := dh*og*(1-tc*tc) + dcNext[bi*H+j]

				var cp float32
				if cPrev != nil {
					cp = cPrev[bi*H+j]
				}

				da[j] = dct * cg * ig * (1 - ig)    // input gate
				da[H+j] = dct * cp * fg * (1 - fg)  // forget gate
				da[2*H+j] = dct * ig * (1 - cg*cg)  // cell candidate
				da[3*H+j] = dh * tc * og * (1 - og) // output gate
				dcNext[bi*H+j] = dct * fg           // flows to c_{t-1}
			}
		}

		xt := cache.xTM[t*b*in : (t+1)*b*in]
		if dWih != nil {
			gemmTN(dA, b, 4*H, xt, in, dWih)
		}
		if dWhh != nil && hPrev != nil {
			gemmTN(dA, b, 4*H, hPrev, H, dWhh)
		}
		// The two biases enter the pre-activation identically, so they
		// share the column-summed gradient. Frozen biases receive none.
		if dBih != nil || dBhh != nil {
			for bi := 0; bi < b; bi++ {
				for j := 0; j < 4*H; j++ {
					v := dA[bi*4*H+j]
					if dBih != nil {
						dBih[j] += v
					}
					if dBhh != nil {
						dBhh[j] += v
					}
				}
			}
		}

		// dh_{t-1} = dA @ Whh, dx_t += dA @ Wih.
		clear(dhNext)
		gemmNN(dA, b, 4*H, whh, H, dhNext)
		gemmNN(dA, b, 4*H, wih, in, dxTM[t*b*in:(t+1)*b*in])
	}
}

// Parameters returns all eight parameters (both directions).
func (l *LSTM[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{
		l.fwd.wih, l.fwd.whh, l.fwd.bih, l.fwd.bhh,
		l.rev.wih, l.rev.whh, l.rev.bih, l.rev.bhh,
	}
}

// StateDict returns a map of parameter names to raw tensors.
func (l *LSTM[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor, 8)
	for _, p := range l.Parameters() {
		sd[p.Name()] = p.Tensor().Raw()
	}
	return sd
}

// LoadStateDict loads parameters from a state dictionary.
func (l *LSTM[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, p := range l.Parameters() {
		if err := loadInto(stateDict, p); err != nil {
			return err
		}
	}
	return nil
}

// toTimeMajor copies [b, L, d] into [L, b, d].
func toTimeMajor(x []float32, b, L, d int) []float32 {
	out := make([]float32, len(x))
	for bi := 0; bi < b; bi++ {
		for t := 0; t < L; t++ {
			copy(out[(t*b+bi)*d:], x[(bi*L+t)*d:(bi*L+t+1)*d])
		}
	}
	return out
}

// fromTimeMajor copies [L, b, d] into [b, L, d].
func fromTimeMajor(x, out []float32, b, L, d int) {
	for t := 0; t < L; t++ {
		for bi := 0; bi < b; bi++ {
			copy(out[(bi*L+t)*d:], x[(t*b+bi)*d:(t*b+bi+1)*d])
		}
	}
}

func sigmoidf(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

func tanhf(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}

// gemmNT computes C[m,n] += A[m,k] @ B[n,k]ᵀ.
func gemmNT(a []float32, m, k int, b []float32, n int, c []float32) {
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: n, Cols: k, Stride: k, Data: b},
		1,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// gemmTN computes C[k,n] += A[m,k]ᵀ @ B[m,n].
func gemmTN(a []float32, m, k int, b []float32, n int, c []float32) {
	blas32.Gemm(blas.Trans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: m, Cols: n, Stride: n, Data: b},
		1,
		blas32.General{Rows: k, Cols: n, Stride: n, Data: c},
	)
}

// gemmNN computes C[m,n] += A[m,k] @ B[k,n].
func gemmNN(a []float32, m, k int, b []float32, n int, c []float32) {
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		1,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

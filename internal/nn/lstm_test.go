package nn_test

import (
	"math"
	"testing"

	"github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// fillParams writes deterministic small values into every LSTM
// parameter so tests are reproducible without seeding.
func fillParams(l *nn.LSTM[*cpu.Backend]) {
	for pi, p := range l.Parameters() {
		data := p.Tensor().Data()
		for i := range data {
			data[i] = float32(math.Sin(float64(pi+1)*0.7+float64(i)*0.31)) * 0.4
		}
	}
}

func TestLSTM_Forward_Shape(t *testing.T) {
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm1", 3, 5, backend)

	x := tensor.Randn(tensor.Shape{2, 4, 3}, backend)
	out := lstm.Forward(x)

	if !shapesEqual(out.Shape(), tensor.Shape{2, 4, 10}) {
		t.Fatalf("expected shape [2 4 10], got %v", out.Shape())
	}
}

func TestLSTM_Forward_Deterministic(t *testing.T) {
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm1", 2, 3, backend)
	fillParams(lstm)

	x, err := tensor.FromSlice([]float32{0.1, -0.2, 0.3, 0.4, -0.5, 0.6}, tensor.Shape{1, 3, 2}, backend)
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}

	a := lstm.Forward(x).Data()
	b := lstm.Forward(x).Data()
	floatsClose(t, a, b, 0, "repeated forward")
}

// TestLSTM_Forward_MatchesReference checks the fused implementation
// against a naive float64 recurrence on a small configuration.
func TestLSTM_Forward_MatchesReference(t *testing.T) {
	const (
		batch  = 2
		length = 4
		in     = 3
		hidden = 2
	)
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm1", in, hidden, backend)
	fillParams(lstm)

	x := tensor.Randn(tensor.Shape{batch, length, in}, backend)
	got := lstm.Forward(x).Data()

	params := lstm.Parameters()
	want := make([]float32, batch*length*2*hidden)
	for bi := 0; bi < batch; bi++ {
		seq := x.Data()[bi*length*in : (bi+1)*length*in]

		fwd := refDirection(seq, length, in, hidden, params[0:4], false)
		rev := refDirection(seq, length, in, hidden, params[4:8], true)
		for tt := 0; tt < length; tt++ {
			copy(want[bi*length*2*hidden+tt*2*hidden:], fwd[tt])
			copy(want[bi*length*2*hidden+tt*2*hidden+hidden:], rev[tt])
		}
	}

	floatsClose(t, want, got, 1e-5, "bidirectional forward")
}

// refDirection is a plain float64 LSTM over one sequence, returning the
// hidden state per time position (sequence order, not processing order).
func refDirection(seq []float32, length, in, hidden int, params []*nn.Parameter[*cpu.Backend], reverse bool) [][]float32 {
	wih := params[0].Tensor().Data()
	whh := params[1].Tensor().Data()
	bih := params[2].Tensor().Data()
	bhh := params[3].Tensor().Data()

	sig := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

	out := make([][]float32, length)
	h := make([]float64, hidden)
	c := make([]float64, hidden)
	for step := 0; step < length; step++ {
		tt := step
		if reverse {
			tt = length - 1 - step
		}
		xt := seq[tt*in : (tt+1)*in]

		pre := make([]float64, 4*hidden)
		for j := range pre {
			pre[j] = float64(bih[j]) + float64(bhh[j])
			for k := 0; k < in; k++ {
				pre[j] += float64(wih[j*in+k]) * float64(xt[k])
			}
			for k := 0; k < hidden; k++ {
				pre[j] += float64(whh[j*hidden+k]) * h[k]
			}
		}

		hNew := make([]float64, hidden)
		cNew := make([]float64, hidden)
		row := make([]float32, hidden)
		for j := 0; j < hidden; j++ {
			ig := sig(pre[j])
			fg := sig(pre[hidden+j])
			cg := math.Tanh(pre[2*hidden+j])
			og := sig(pre[3*hidden+j])
			cNew[j] = fg*c[j] + ig*cg
			hNew[j] = og * math.Tanh(cNew[j])
			row[j] = float32(hNew[j])
		}
		h, c = hNew, cNew
		out[tt] = row
	}
	return out
}

// TestLSTM_Backward_NumericalGradient verifies BPTT input gradients by
// central differences on a scalar projection of the output.
func TestLSTM_Backward_NumericalGradient(t *testing.T) {
	const (
		batch  = 1
		length = 3
		in     = 2
		hidden = 2
	)
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm1", in, hidden, backend)
	fillParams(lstm)

	xData := []float32{0.3, -0.1, 0.2, 0.5, -0.4, 0.1}
	proj := make([]float32, batch*length*2*hidden)
	for i := range proj {
		proj[i] = float32(math.Cos(float64(i) * 0.9))
	}

	// Scalar objective: sum(output * proj).
	scalar := func(xs []float32) float64 {
		x, err := tensor.FromSlice(xs, tensor.Shape{batch, length, in}, backend)
		if err != nil {
			t.Fatalf("failed to create input: %v", err)
		}
		out := lstm.Forward(x).Data()
		var s float64
		for i := range out {
			s += float64(out[i]) * float64(proj[i])
		}
		return s
	}

	x, err := tensor.FromSlice(xData, tensor.Shape{batch, length, in}, backend)
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	lstm.Forward(x)
	gradOut, err := tensor.FromSlice(proj, tensor.Shape{batch, length, 2 * hidden}, backend)
	if err != nil {
		t.Fatalf("failed to create gradient: %v", err)
	}
	dx := lstm.Backward(gradOut).Data()

	const eps = 1e-3
	for i := range xData {
		plus := append([]float32(nil), xData...)
		minus := append([]float32(nil), xData...)
		plus[i] += eps
		minus[i] -= eps
		want := (scalar(plus) - scalar(minus)) / (2 * eps)

		if math.Abs(want-float64(dx[i])) > 5e-3 {
			t.Errorf("dx[%d]: numerical %v, analytic %v", i, want, dx[i])
		}
	}
}

func TestLSTM_Backward_FrozenBiasNoGradient(t *testing.T) {
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm1", 2, 3, backend)
	for _, p := range lstm.BiasParameters() {
		p.SetRequiresGrad(false)
	}

	x := tensor.Randn(tensor.Shape{2, 4, 2}, backend)
	out := lstm.Forward(x)
	lstm.Backward(tensor.Ones[float32](out.Shape(), backend))

	for _, p := range lstm.BiasParameters() {
		if p.Grad() != nil {
			t.Errorf("frozen bias %s accumulated a gradient", p.Name())
		}
	}
	// Weight gradients still flow.
	if lstm.Parameters()[0].Grad() == nil {
		t.Error("weight_ih received no gradient")
	}
}

func TestLSTM_ParameterNames(t *testing.T) {
	backend := cpu.New()
	lstm := nn.NewLSTM("lstm2", 4, 8, backend)

	want := []string{
		"lstm2.weight_ih_l0", "lstm2.weight_hh_l0",
		"lstm2.bias_ih_l0", "lstm2.bias_hh_l0",
		"lstm2.weight_ih_l0_reverse", "lstm2.weight_hh_l0_reverse",
		"lstm2.bias_ih_l0_reverse", "lstm2.bias_hh_l0_reverse",
	}
	params := lstm.Parameters()
	if len(params) != len(want) {
		t.Fatalf("expected %d parameters, got %d", len(want), len(params))
	}
	for i, p := range params {
		if p.Name() != want[i] {
			t.Errorf("parameter %d: expected %q, got %q", i, want[i], p.Name())
		}
	}
}

package export

import (
	"fmt"
	"strconv"

	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/quant"
	"github.com/bytesplit-ml/bytesplit/internal/serialization"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

const cpuGraphType = "cpu_q8"

// storeCPUGraph serializes the network with every LSTM and Linear
// weight matrix quantized to Q8 blocks. The embedding table and all
// bias vectors stay float32: the embedding is the first lookup and
// cheap to keep exact, and biases are tiny.
func storeCPUGraph[B tensor.Backend](net *model.Network[B], path string, dummyLength int) error {
	var entries []serialization.Entry

	addQ8 := func(p *nn.Parameter[B]) {
		data := p.Tensor().Data()
		entries = append(entries, serialization.Entry{
			Name:  p.Name(),
			DType: serialization.DTypeFloat32,
			Shape: p.Tensor().Shape(),
			Quant: &serialization.QuantMeta{
				Scheme:    "q8_block",
				BlockSize: quant.Q8BlockSize,
				Elements:  len(data),
			},
			Data: quant.QuantizeQ8(data),
		})
	}
	addF32 := func(p *nn.Parameter[B]) {
		entries = append(entries, serialization.Entry{
			Name:  p.Name(),
			DType: serialization.DTypeFloat32,
			Shape: p.Tensor().Shape(),
			Data:  p.Tensor().Raw().Clone().Data(),
		})
	}

	addF32(net.Embedding().Weight)
	for _, lstm := range []*nn.LSTM[B]{net.LSTM1(), net.LSTM2()} {
		for _, p := range lstm.Parameters() {
			if len(p.Tensor().Shape()) == 2 {
				addQ8(p)
			} else {
				addF32(p)
			}
		}
	}
	addQ8(net.Out().Weight())
	addF32(net.Out().Bias())

	header := serialization.Header{
		GraphType: cpuGraphType,
		Metadata: map[string]string{
			"embed_dim":    strconv.Itoa(model.EmbedDim),
			"hidden1":      strconv.Itoa(model.Hidden1),
			"hidden2":      strconv.Itoa(model.Hidden2),
			"out_features": strconv.Itoa(model.NumChannels),
			"trace_input":  fmt.Sprintf("[1,%d]", dummyLength),
			"trace":        "cast>embedding>lstm1>lstm2>linear",
		},
	}
	return serialization.Write(path, entries, header)
}

// CPUGraph executes a quantized artifact on the CPU. Weight matrices
// stay in their Q8 block form; activations are quantized on the fly per
// matmul, so the memory footprint is roughly a quarter of the float
// network's.
type CPUGraph struct {
	embedding []float32
	lstm1     qlstm
	lstm2     qlstm
	outW      []byte // q8 [NumChannels, 2*Hidden2]
	outB      []float32
}

// qlstm is one quantized bidirectional layer.
type qlstm struct {
	inputSize  int
	hiddenSize int
	dirs       [2]qdir
}

type qdir struct {
	wih, whh []byte // q8
	bias     []float32
}

// LoadCPUGraph reads and validates a quantized CPU artifact.
func LoadCPUGraph(path string) (*CPUGraph, error) {
	r, err := serialization.Open(path)
	if err != nil {
		return nil, err
	}
	if gt := r.Header().GraphType; gt != cpuGraphType {
		return nil, fmt.Errorf("export: artifact has graph type %q, expected %q", gt, cpuGraphType)
	}

	g := &CPUGraph{}
	emb, err := r.Tensor("embedding.weight")
	if err != nil {
		return nil, err
	}
	g.embedding = append([]float32(nil), emb.AsFloat32()...)

	if g.lstm1, err = loadQLSTM(r, "lstm1", model.EmbedDim, model.Hidden1); err != nil {
		return nil, err
	}
	if g.lstm2, err = loadQLSTM(r, "lstm2", 2*model.Hidden1, model.Hidden2); err != nil {
		return nil, err
	}

	if g.outW, err = r.Bytes("out.weight"); err != nil {
		return nil, err
	}
	outB, err := r.Tensor("out.bias")
	if err != nil {
		return nil, err
	}
	g.outB = append([]float32(nil), outB.AsFloat32()...)
	return g, nil
}

func loadQLSTM(r *serialization.Reader, prefix string, inputSize, hiddenSize int) (qlstm, error) {
	l := qlstm{inputSize: inputSize, hiddenSize: hiddenSize}
	for d, suffix := range []string{"", "_reverse"} {
		wih, err := r.Bytes(prefix + ".weight_ih_l0" + suffix)
		if err != nil {
			return qlstm{}, err
		}
		whh, err := r.Bytes(prefix + ".weight_hh_l0" + suffix)
		if err != nil {
			return qlstm{}, err
		}
		bih, err := r.Tensor(prefix + ".bias_ih_l0" + suffix)
		if err != nil {
			return qlstm{}, err
		}
		bhh, err := r.Tensor(prefix + ".bias_hh_l0" + suffix)
		if err != nil {
			return qlstm{}, err
		}

		bias := make([]float32, 4*hiddenSize)
		bi, bh := bih.AsFloat32(), bhh.AsFloat32()
		for i := range bias {
			bias[i] = bi[i] + bh[i]
		}
		l.dirs[d] = qdir{wih: wih, whh: whh, bias: bias}
	}
	return l, nil
}

// Forward runs the quantized graph on input bytes [batch, length] and
// returns logits [batch, length, NumChannels].
func (g *CPUGraph) Forward(input []byte, batch, length int) ([]float32, error) {
	if len(input) != batch*length {
		return nil, fmt.Errorf("export: %d input bytes for [%d, %d]", len(input), batch, length)
	}

	// Embedding lookup, already time-major friendly as [b, L, D].
	h := make([]float32, batch*length*model.EmbedDim)
	for i, b := range input {
		copy(h[i*model.EmbedDim:], g.embedding[int(b)*model.EmbedDim:(int(b)+1)*model.EmbedDim])
	}

	h, err := g.lstm1.forward(h, batch, length)
	if err != nil {
		return nil, err
	}
	h, err = g.lstm2.forward(h, batch, length)
	if err != nil {
		return nil, err
	}

	// Output projection over the trailing axis.
	rows := batch * length
	out := make([]float32, rows*model.NumChannels)
	if err := quant.MatMulQ8(h, rows, 2*model.Hidden2, g.outW, model.NumChannels, out); err != nil {
		return nil, err
	}
	for r := 0; r < rows; r++ {
		for o := 0; o < model.NumChannels; o++ {
			out[r*model.NumChannels+o] += g.outB[o]
		}
	}
	return out, nil
}

// forward runs the bidirectional recurrence with quantized projections.
func (l *qlstm) forward(x []float32, batch, length int) ([]float32, error) {
	h, in := l.hiddenSize, l.inputSize
	out := make([]float32, batch*length*2*h)

	// Time-major input copy so each step is one contiguous block.
	xTM := make([]float32, len(x))
	for b := 0; b < batch; b++ {
		for t := 0; t < length; t++ {
			copy(xTM[(t*batch+b)*in:], x[(b*length+t)*in:(b*length+t+1)*in])
		}
	}

	for d := 0; d < 2; d++ {
		dir := &l.dirs[d]
		reverse := d == 1

		hPrev := make([]float32, batch*h)
		cPrev := make([]float32, batch*h)
		gates := make([]float32, batch*4*h)
		gatesH := make([]float32, batch*4*h)

		for step := 0; step < length; step++ {
			t := step
			if reverse {
				t = length - 1 - step
			}
			xt := xTM[t*batch*in : (t+1)*batch*in]

			if err := quant.MatMulQ8(xt, batch, in, dir.wih, 4*h, gates); err != nil {
				return nil, err
			}
			if err := quant.MatMulQ8(hPrev, batch, h, dir.whh, 4*h, gatesH); err != nil {
				return nil, err
			}

			for b := 0; b < batch; b++ {
				gr := gates[b*4*h:]
				gh := gatesH[b*4*h:]
				for j := 0; j < h; j++ {
					ig := sigmoid32(gr[j] + gh[j] + dir.bias[j])
					fg := sigmoid32(gr[h+j] + gh[h+j] + dir.bias[h+j])
					cg := tanh32(gr[2*h+j] + gh[2*h+j] + dir.bias[2*h+j])
					og := sigmoid32(gr[3*h+j] + gh[3*h+j] + dir.bias[3*h+j])

					c := fg*cPrev[b*h+j] + ig*cg
					cPrev[b*h+j] = c
					hv := og * tanh32(c)
					hPrev[b*h+j] = hv

					off := 0
					if reverse {
						off = h
					}
					out[(b*length+t)*2*h+off+j] = hv
				}
			}
		}
	}
	return out, nil
}

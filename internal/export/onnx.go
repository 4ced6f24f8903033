package export

import (
	"os"

	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/onnx"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// storeONNX writes the full-precision ONNX model with dynamic batch and
// length axes.
func storeONNX[B tensor.Backend](net *model.Network[B], path string) error {
	g := onnx.TaggerGraph{
		VocabSize: model.VocabSize,
		EmbedDim:  model.EmbedDim,
		Embedding: net.Embedding().Weight.Tensor().Data(),

		LSTM1: lstmWeights(net.LSTM1()),
		LSTM2: lstmWeights(net.LSTM2()),

		OutFeatures: model.NumChannels,
		OutInputs:   2 * model.Hidden2,
		OutWeight:   net.Out().Weight().Tensor().Data(),
		OutBias:     net.Out().Bias().Tensor().Data(),

		ProducerVersion: "0.1.0",
	}
	return os.WriteFile(path, onnx.Marshal(onnx.BuildTagger(g)), 0o644)
}

// lstmWeights extracts one layer in the Parameters() order: forward
// wih, whh, bih, bhh, then reverse.
func lstmWeights[B tensor.Backend](l *nn.LSTM[B]) onnx.LSTMWeights {
	params := l.Parameters()
	d := func(i int) []float32 { return params[i].Tensor().Data() }
	return onnx.LSTMWeights{
		InputSize:  l.InputSize(),
		HiddenSize: l.HiddenSize(),
		Wih:        d(0), Whh: d(1), Bih: d(2), Bhh: d(3),
		WihRev: d(4), WhhRev: d(5), BihRev: d(6), BhhRev: d(7),
	}
}

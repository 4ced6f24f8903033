package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/quant"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

const tfjsShardName = "group1-shard1of1.bin"

// weightDecl is one entry of the hand-maintained layer manifest: the
// weight name the JS loader expects and its shape. The manifest mirrors
// the layer rebuild on the JS side; collectTFJSWeights is checked
// against it at export time so the two definitions cannot drift apart
// silently.
type weightDecl struct {
	Name  string
	Shape []int
}

// tfjsManifest declares the weights of the JS-side model, layer by
// layer, in shard order.
func tfjsManifest() []weightDecl {
	decls := []weightDecl{
		{"embedding/embeddings", []int{model.VocabSize, model.EmbedDim}},
	}
	decls = append(decls, lstmDecls("bidirectional_1", model.EmbedDim, model.Hidden1)...)
	decls = append(decls, lstmDecls("bidirectional_2", 2*model.Hidden1, model.Hidden2)...)
	decls = append(decls,
		weightDecl{"dense/kernel", []int{2 * model.Hidden2, model.NumChannels}},
		weightDecl{"dense/bias", []int{model.NumChannels}},
	)
	return decls
}

func lstmDecls(layer string, in, units int) []weightDecl {
	var decls []weightDecl
	for _, dir := range []string{"forward_lstm", "backward_lstm"} {
		prefix := layer + "/" + dir + "/lstm_cell"
		decls = append(decls,
			weightDecl{prefix + "/kernel", []int{in, 4 * units}},
			weightDecl{prefix + "/recurrent_kernel", []int{units, 4 * units}},
			weightDecl{prefix + "/bias", []int{4 * units}},
		)
	}
	return decls
}

// namedWeight is one exported tensor after conversion to the Keras
// layout.
type namedWeight struct {
	Name  string
	Shape []int
	Data  []float32
}

// collectTFJSWeights converts the live parameters to the Keras layout:
// kernels are transposed to column-major gate blocks and the two
// additive biases are folded into one. The LSTM gate sequence (input,
// forget, cell, output) is shared by both conventions, so no reorder is
// needed.
func collectTFJSWeights[B tensor.Backend](net *model.Network[B]) []namedWeight {
	weights := []namedWeight{{
		Name:  "embedding/embeddings",
		Shape: []int{model.VocabSize, model.EmbedDim},
		Data:  net.Embedding().Weight.Tensor().Data(),
	}}
	weights = append(weights, lstmKerasWeights("bidirectional_1", net.LSTM1())...)
	weights = append(weights, lstmKerasWeights("bidirectional_2", net.LSTM2())...)

	outW := net.Out().Weight().Tensor().Data()
	weights = append(weights,
		namedWeight{
			Name:  "dense/kernel",
			Shape: []int{2 * model.Hidden2, model.NumChannels},
			Data:  transpose(outW, model.NumChannels, 2*model.Hidden2),
		},
		namedWeight{
			Name:  "dense/bias",
			Shape: []int{model.NumChannels},
			Data:  net.Out().Bias().Tensor().Data(),
		},
	)
	return weights
}

func lstmKerasWeights[B tensor.Backend](layer string, l *nn.LSTM[B]) []namedWeight {
	params := l.Parameters()
	in, h := l.InputSize(), l.HiddenSize()

	var weights []namedWeight
	for d, dir := range []string{"forward_lstm", "backward_lstm"} {
		prefix := layer + "/" + dir + "/lstm_cell"
		wih := params[d*4+0].Tensor().Data()
		whh := params[d*4+1].Tensor().Data()
		bih := params[d*4+2].Tensor().Data()
		bhh := params[d*4+3].Tensor().Data()

		bias := make([]float32, 4*h)
		for i := range bias {
			bias[i] = bih[i] + bhh[i]
		}

		weights = append(weights,
			namedWeight{prefix + "/kernel", []int{in, 4 * h}, transpose(wih, 4*h, in)},
			namedWeight{prefix + "/recurrent_kernel", []int{h, 4 * h}, transpose(whh, 4*h, h)},
			namedWeight{prefix + "/bias", []int{4 * h}, bias},
		)
	}
	return weights
}

// transpose converts row-major [rows, cols] to [cols, rows].
func transpose(m []float32, rows, cols int) []float32 {
	out := make([]float32, len(m))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = m[r*cols+c]
		}
	}
	return out
}

// model.json structures.
type tfjsModelJSON struct {
	Format          string            `json:"format"`
	GeneratedBy     string            `json:"generatedBy"`
	ConvertedBy     string            `json:"convertedBy"`
	ModelTopology   tfjsTopology      `json:"modelTopology"`
	WeightsManifest []tfjsWeightGroup `json:"weightsManifest"`
}

type tfjsTopology struct {
	KerasVersion string          `json:"keras_version"`
	Backend      string          `json:"backend"`
	ModelConfig  tfjsModelConfig `json:"model_config"`
}

type tfjsModelConfig struct {
	ClassName string        `json:"class_name"`
	Config    tfjsSeqConfig `json:"config"`
}

type tfjsSeqConfig struct {
	Name   string      `json:"name"`
	Layers []tfjsLayer `json:"layers"`
}

type tfjsLayer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

type tfjsWeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []tfjsWeight `json:"weights"`
}

type tfjsWeight struct {
	Name         string     `json:"name"`
	Shape        []int      `json:"shape"`
	DType        string     `json:"dtype"`
	Quantization *tfjsQuant `json:"quantization,omitempty"`
}

type tfjsQuant struct {
	Min   float32 `json:"min"`
	Scale float32 `json:"scale"`
	DType string  `json:"dtype"`
}

// storeTFJS writes the layers-model bundle: model.json plus one binary
// shard with every weight quantized to uint8.
func storeTFJS[B tensor.Backend](net *model.Network[B], dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	decls := tfjsManifest()
	weights := collectTFJSWeights(net)
	if err := checkManifest(decls, weights); err != nil {
		return err
	}

	var shard []byte
	manifest := make([]tfjsWeight, len(weights))
	for i, w := range weights {
		q, params := quant.QuantizeUint8(w.Data)
		shard = append(shard, q...)
		manifest[i] = tfjsWeight{
			Name:  w.Name,
			Shape: w.Shape,
			DType: "float32",
			Quantization: &tfjsQuant{
				Min:   params.Min,
				Scale: params.Scale,
				DType: "uint8",
			},
		}
	}

	doc := tfjsModelJSON{
		Format:      "layers-model",
		GeneratedBy: "keras",
		ConvertedBy: "bytesplit 0.1.0",
		ModelTopology: tfjsTopology{
			KerasVersion: "2.3.1",
			Backend:      "tensorflow",
			ModelConfig: tfjsModelConfig{
				ClassName: "Sequential",
				Config: tfjsSeqConfig{
					Name:   "byte_tagger",
					Layers: tfjsLayers(),
				},
			},
		},
		WeightsManifest: []tfjsWeightGroup{{
			Paths:   []string{tfjsShardName},
			Weights: manifest,
		}},
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "model.json"), buf, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, tfjsShardName), shard, 0o644)
}

// checkManifest verifies the live weights against the declared layer
// manifest entry by entry.
func checkManifest(decls []weightDecl, weights []namedWeight) error {
	if len(decls) != len(weights) {
		return fmt.Errorf("layer manifest declares %d weights, network has %d", len(decls), len(weights))
	}
	for i, d := range decls {
		w := weights[i]
		if d.Name != w.Name {
			return fmt.Errorf("layer manifest entry %d is %q, network has %q", i, d.Name, w.Name)
		}
		if len(d.Shape) != len(w.Shape) {
			return fmt.Errorf("weight %q: manifest shape %v, network shape %v", d.Name, d.Shape, w.Shape)
		}
		n := 1
		for j := range d.Shape {
			if d.Shape[j] != w.Shape[j] {
				return fmt.Errorf("weight %q: manifest shape %v, network shape %v", d.Name, d.Shape, w.Shape)
			}
			n *= d.Shape[j]
		}
		if n != len(w.Data) {
			return fmt.Errorf("weight %q: %d elements for shape %v", d.Name, len(w.Data), w.Shape)
		}
	}
	return nil
}

// tfjsLayers is the topology half of the declarative rebuild.
func tfjsLayers() []tfjsLayer {
	lstm := func(units int) map[string]any {
		return map[string]any{
			"class_name": "LSTM",
			"config": map[string]any{
				"units":                units,
				"activation":           "tanh",
				"recurrent_activation": "sigmoid",
				"return_sequences":     true,
				"use_bias":             true,
			},
		}
	}
	return []tfjsLayer{
		{
			ClassName: "Embedding",
			Config: map[string]any{
				"name":              "embedding",
				"batch_input_shape": []any{nil, nil},
				"dtype":             "float32",
				"input_dim":         model.VocabSize,
				"output_dim":        model.EmbedDim,
			},
		},
		{
			ClassName: "Bidirectional",
			Config: map[string]any{
				"name":       "bidirectional_1",
				"merge_mode": "concat",
				"layer":      lstm(model.Hidden1),
			},
		},
		{
			ClassName: "Bidirectional",
			Config: map[string]any{
				"name":       "bidirectional_2",
				"merge_mode": "concat",
				"layer":      lstm(model.Hidden2),
			},
		},
		{
			ClassName: "Dense",
			Config: map[string]any{
				"name":       "dense",
				"units":      model.NumChannels,
				"activation": "linear",
			},
		},
	}
}

package export

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/onnx"
	"github.com/bytesplit-ml/bytesplit/internal/serialization"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

func newTestNetwork(t *testing.T) *model.Network[*cpu.Backend] {
	t.Helper()
	net, err := model.NewNetwork(cpu.New())
	require.NoError(t, err)
	return net
}

func TestStore_WritesSelectedArtifacts(t *testing.T) {
	net := newTestNetwork(t)
	dir := filepath.Join(t.TempDir(), "artifacts")

	opts := Options{CPU: true, ONNX: true, TFJS: true, DummyLength: 50}
	require.NoError(t, Store(net, dir, opts))

	for _, name := range []string{
		CPUGraphName,
		ONNXName,
		filepath.Join(TFJSDirName, "model.json"),
		filepath.Join(TFJSDirName, tfjsShardName),
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "missing artifact %s", name)
	}

	// Accelerator target disabled: no fp16 graph.
	_, err := os.Stat(filepath.Join(dir, WebGPUGraphName))
	assert.True(t, os.IsNotExist(err))
}

func TestCPUGraph_RoundTripCloseToFloat(t *testing.T) {
	net := newTestNetwork(t)
	dir := t.TempDir()
	path := filepath.Join(dir, CPUGraphName)

	require.NoError(t, storeCPUGraph(net, path, 100))

	g, err := LoadCPUGraph(path)
	require.NoError(t, err)

	input := []byte("Quantization keeps the small model small.")
	length := len(input)

	x, err := tensor.FromSlice(input, tensor.Shape{1, length}, net.Backend())
	require.NoError(t, err)
	want := net.Forward(x).Data()

	got, err := g.Forward(input, 1, length)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	var maxDiff float64
	for i := range want {
		if d := math.Abs(float64(want[i] - got[i])); d > maxDiff {
			maxDiff = d
		}
	}
	assert.Less(t, maxDiff, 0.25, "quantized graph diverged from float network")
}

func TestCPUGraph_HeaderMetadata(t *testing.T) {
	net := newTestNetwork(t)
	path := filepath.Join(t.TempDir(), CPUGraphName)
	require.NoError(t, storeCPUGraph(net, path, 64))

	r, err := serialization.Open(path)
	require.NoError(t, err)

	h := r.Header()
	assert.Equal(t, "cpu_q8", h.GraphType)
	assert.Equal(t, "[1,64]", h.Metadata["trace_input"])
	assert.NotZero(t, r.Flags()&serialization.FlagQuantized)

	// Biases stay float32, weight matrices are quantized.
	meta, err := r.Meta("lstm1.bias_ih_l0")
	require.NoError(t, err)
	assert.Nil(t, meta.Quant)

	meta, err = r.Meta("lstm1.weight_ih_l0")
	require.NoError(t, err)
	require.NotNil(t, meta.Quant)
	assert.Equal(t, "q8_block", meta.Quant.Scheme)
}

func TestLoadCPUGraph_RejectsWrongGraphType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.bspl")
	require.NoError(t, serialization.Write(path, nil, serialization.Header{GraphType: "webgpu_f16"}))

	_, err := LoadCPUGraph(path)
	assert.Error(t, err)
}

func TestStoreONNX_ModelParses(t *testing.T) {
	net := newTestNetwork(t)
	path := filepath.Join(t.TempDir(), ONNXName)
	require.NoError(t, storeONNX(net, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	m, err := onnx.Unmarshal(raw)
	require.NoError(t, err)
	require.NotNil(t, m.Graph)

	var ops []string
	for _, n := range m.Graph.Nodes {
		ops = append(ops, n.OpType)
	}
	assert.Equal(t, []string{"Cast", "Gather", "LSTM", "Reshape", "LSTM", "Reshape", "MatMul", "Add"}, ops)

	// Embedding initializer carries the full byte table.
	var found bool
	for _, init := range m.Graph.Initializers {
		if init.Name == "embedding" {
			found = true
			assert.Equal(t, []int64{int64(model.VocabSize), int64(model.EmbedDim)}, init.Dims)
			assert.Len(t, init.RawData, model.VocabSize*model.EmbedDim*4)
		}
	}
	assert.True(t, found, "embedding initializer missing")
}

func TestStoreTFJS_BundleConsistent(t *testing.T) {
	net := newTestNetwork(t)
	dir := filepath.Join(t.TempDir(), "tfjs")
	require.NoError(t, storeTFJS(net, dir))

	raw, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)

	var doc tfjsModelJSON
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "layers-model", doc.Format)
	assert.Equal(t, "Sequential", doc.ModelTopology.ModelConfig.ClassName)
	require.Len(t, doc.WeightsManifest, 1)

	group := doc.WeightsManifest[0]
	assert.Equal(t, []string{tfjsShardName}, group.Paths)

	// Shard length equals the sum of uint8 weight payloads.
	var total int
	for _, w := range group.Weights {
		n := 1
		for _, d := range w.Shape {
			n *= d
		}
		total += n
		require.NotNil(t, w.Quantization, "weight %s lost quantization metadata", w.Name)
		assert.Equal(t, "uint8", w.Quantization.DType)
	}
	shard, err := os.ReadFile(filepath.Join(dir, tfjsShardName))
	require.NoError(t, err)
	assert.Len(t, shard, total)

	// Manifest order matches the declared layer rebuild.
	decls := tfjsManifest()
	require.Len(t, group.Weights, len(decls))
	for i, d := range decls {
		assert.Equal(t, d.Name, group.Weights[i].Name)
		assert.Equal(t, d.Shape, group.Weights[i].Shape)
	}
}

func TestCheckManifest_DetectsDrift(t *testing.T) {
	decls := []weightDecl{{"dense/kernel", []int{2, 3}}}

	err := checkManifest(decls, []namedWeight{{"dense/kernel", []int{2, 3}, make([]float32, 6)}})
	assert.NoError(t, err)

	err = checkManifest(decls, []namedWeight{{"dense/bias", []int{2, 3}, make([]float32, 6)}})
	assert.Error(t, err)

	err = checkManifest(decls, []namedWeight{{"dense/kernel", []int{3, 2}, make([]float32, 6)}})
	assert.Error(t, err)

	err = checkManifest(decls, []namedWeight{{"dense/kernel", []int{2, 3}, make([]float32, 5)}})
	assert.Error(t, err)

	err = checkManifest(nil, []namedWeight{{"dense/kernel", []int{2, 3}, nil}})
	assert.Error(t, err)
}

func TestKerasKernelLayout(t *testing.T) {
	net := newTestNetwork(t)
	weights := collectTFJSWeights(net)

	// kernel[j, g] must equal wih[g, j]: Keras stores input-major.
	params := net.LSTM1().Parameters()
	wih := params[0].Tensor().Data()
	in := net.LSTM1().InputSize()

	var kernel namedWeight
	for _, w := range weights {
		if w.Name == "bidirectional_1/forward_lstm/lstm_cell/kernel" {
			kernel = w
		}
	}
	require.NotNil(t, kernel.Data)

	rows4h := 4 * net.LSTM1().HiddenSize()
	for g := 0; g < 3; g++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, wih[g*in+j], kernel.Data[j*rows4h+g], "kernel[%d,%d]", j, g)
		}
	}
}

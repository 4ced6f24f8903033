package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallTagger builds a tagger graph with tiny deterministic weights.
func smallTagger() TaggerGraph {
	lstm := func(in, h int) LSTMWeights {
		seq := func(n int, base float32) []float32 {
			out := make([]float32, n)
			for i := range out {
				out[i] = base + float32(i)*0.01
			}
			return out
		}
		return LSTMWeights{
			InputSize:  in,
			HiddenSize: h,
			Wih:        seq(4*h*in, 0.1),
			Whh:        seq(4*h*h, 0.2),
			Bih:        seq(4*h, 0.3),
			Bhh:        seq(4*h, 0.4),
			WihRev:     seq(4*h*in, 0.5),
			WhhRev:     seq(4*h*h, 0.6),
			BihRev:     seq(4*h, 0.7),
			BhhRev:     seq(4*h, 0.8),
		}
	}

	return TaggerGraph{
		VocabSize:       256,
		EmbedDim:        4,
		Embedding:       make([]float32, 256*4),
		LSTM1:           lstm(4, 3),
		LSTM2:           lstm(6, 2),
		OutFeatures:     2,
		OutInputs:       4,
		OutWeight:       []float32{1, 2, 3, 4, 5, 6, 7, 8},
		OutBias:         []float32{0.5, -0.5},
		ProducerVersion: "0.1.0",
	}
}

func TestBuildTagger_Structure(t *testing.T) {
	m := BuildTagger(smallTagger())

	assert.EqualValues(t, IRVersion, m.IRVersion)
	require.Len(t, m.OpsetImport, 1)
	assert.EqualValues(t, OpsetVersion, m.OpsetImport[0].Version)

	g := m.Graph
	require.NotNil(t, g)

	var ops []string
	for _, n := range g.Nodes {
		ops = append(ops, n.OpType)
	}
	assert.Equal(t, []string{"Cast", "Gather", "LSTM", "Reshape", "LSTM", "Reshape", "MatMul", "Add"}, ops)

	require.Len(t, g.Inputs, 1)
	assert.Equal(t, InputName, g.Inputs[0].Name)
	dims := g.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.Equal(t, "batch", dims[0].DimParam)
	assert.Equal(t, "length", dims[1].DimParam)

	require.Len(t, g.Outputs, 1)
	assert.Equal(t, OutputName, g.Outputs[0].Name)
	assert.EqualValues(t, 2, g.Outputs[0].Type.TensorType.Shape.Dims[2].DimValue)
}

func TestBuildTagger_LSTMInitializerShapes(t *testing.T) {
	m := BuildTagger(smallTagger())

	byName := map[string]TensorProto{}
	for _, init := range m.Graph.Initializers {
		byName[init.Name] = init
	}

	// lstm1: in=4, H=3.
	assert.Equal(t, []int64{2, 12, 4}, byName["lstm1_w"].Dims)
	assert.Equal(t, []int64{2, 12, 3}, byName["lstm1_r"].Dims)
	assert.Equal(t, []int64{2, 24}, byName["lstm1_b"].Dims)
	assert.Len(t, byName["lstm1_w"].RawData, 2*12*4*4)

	// Output head is stored transposed for MatMul.
	assert.Equal(t, []int64{4, 2}, byName["out_w"].Dims)
	assert.Equal(t, []int64{3}, byName["flatten_shape"].Dims)
}

func TestBuildTagger_LSTMAttributes(t *testing.T) {
	m := BuildTagger(smallTagger())

	var lstm *NodeProto
	for i := range m.Graph.Nodes {
		if m.Graph.Nodes[i].Name == "lstm1" {
			lstm = &m.Graph.Nodes[i]
		}
	}
	require.NotNil(t, lstm)

	attrs := map[string]AttributeProto{}
	for _, a := range lstm.Attributes {
		attrs[a.Name] = a
	}
	assert.EqualValues(t, 3, attrs["hidden_size"].I)
	assert.Equal(t, "bidirectional", string(attrs["direction"].S))
	assert.EqualValues(t, 1, attrs["layout"].I)
	assert.Equal(t, []string{"embedded", "lstm1_w", "lstm1_r", "lstm1_b"}, lstm.Inputs)
}

func TestReorderGates_Permutation(t *testing.T) {
	// h=1, cols=2: gate blocks are single rows (i, f, g, o).
	m := []float32{
		1, 2, // i
		3, 4, // f
		5, 6, // g
		7, 8, // o
	}
	got := reorderGates(m, 1, 2)
	want := []float32{
		1, 2, // i
		7, 8, // o
		3, 4, // f
		5, 6, // c
	}
	assert.Equal(t, want, got)
}

func TestTranspose(t *testing.T) {
	m := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, transpose(m, 2, 3))
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	m := BuildTagger(smallTagger())
	data := Marshal(m)
	require.NotEmpty(t, data)

	back, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, m.IRVersion, back.IRVersion)
	assert.Equal(t, m.ProducerName, back.ProducerName)
	assert.Equal(t, m.ProducerVersion, back.ProducerVersion)
	require.Len(t, back.OpsetImport, 1)
	assert.Equal(t, m.OpsetImport[0].Version, back.OpsetImport[0].Version)

	require.NotNil(t, back.Graph)
	assert.Equal(t, m.Graph.Name, back.Graph.Name)
	require.Len(t, back.Graph.Nodes, len(m.Graph.Nodes))
	for i, n := range m.Graph.Nodes {
		assert.Equal(t, n.OpType, back.Graph.Nodes[i].OpType, "node %d", i)
		assert.Equal(t, n.Inputs, back.Graph.Nodes[i].Inputs, "node %d inputs", i)
		assert.Equal(t, n.Outputs, back.Graph.Nodes[i].Outputs, "node %d outputs", i)
	}

	require.Len(t, back.Graph.Initializers, len(m.Graph.Initializers))
	for i, init := range m.Graph.Initializers {
		got := back.Graph.Initializers[i]
		assert.Equal(t, init.Name, got.Name)
		assert.Equal(t, init.DataType, got.DataType)
		assert.Equal(t, init.Dims, got.Dims)
		assert.Equal(t, init.RawData, got.RawData, "initializer %s payload", init.Name)
	}

	// Dynamic axes survive.
	dims := back.Graph.Inputs[0].Type.TensorType.Shape.Dims
	assert.Equal(t, "batch", dims[0].DimParam)
	assert.Equal(t, "length", dims[1].DimParam)
}

func TestUnmarshal_RejectsTruncated(t *testing.T) {
	data := Marshal(BuildTagger(smallTagger()))
	_, err := Unmarshal(data[:len(data)/2])
	assert.Error(t, err)
}

package onnx

import (
	"encoding/binary"
	"math"
)

// Export target constants.
const (
	// OpsetVersion 14 is the first opset where LSTM supports the
	// batch-first layout attribute.
	OpsetVersion = 14
	IRVersion    = 7

	InputName  = "input"
	OutputName = "output"
)

// LSTMWeights holds one bidirectional layer in row-major float32 with
// gates ordered (input, forget, cell, output). Shapes follow the
// recurrent convention: Wih [4H, in], Whh [4H, H], biases [4H].
type LSTMWeights struct {
	InputSize  int
	HiddenSize int

	Wih, Whh, Bih, Bhh             []float32
	WihRev, WhhRev, BihRev, BhhRev []float32
}

// TaggerGraph describes the byte tagger for export: embedding lookup,
// two stacked bidirectional LSTM layers, linear head.
type TaggerGraph struct {
	VocabSize int
	EmbedDim  int
	Embedding []float32 // [VocabSize * EmbedDim]

	LSTM1, LSTM2 LSTMWeights

	OutFeatures int
	OutInputs   int
	OutWeight   []float32 // [OutFeatures, OutInputs]
	OutBias     []float32 // [OutFeatures]

	ProducerVersion string
}

// BuildTagger assembles the ONNX graph:
//
//	input (uint8, [batch, length])
//	  -> Cast(int32) -> Gather(embedding)
//	  -> LSTM(bidirectional, layout=1) -> Reshape [0, 0, -1]
//	  -> LSTM(bidirectional, layout=1) -> Reshape [0, 0, -1]
//	  -> MatMul + Add
//	  -> output (float32, [batch, length, OutFeatures])
//
// Both leading axes stay dynamic ("batch", "length"). LSTM gates are
// reordered to the iofc convention ONNX requires.
func BuildTagger(g TaggerGraph) *ModelProto {
	graph := &GraphProto{Name: "byte_tagger"}

	graph.Inputs = []ValueInfoProto{{
		Name: InputName,
		Type: tensorType(TensorProtoUint8,
			DimensionProto{DimParam: "batch"},
			DimensionProto{DimParam: "length"},
		),
	}}
	graph.Outputs = []ValueInfoProto{{
		Name: OutputName,
		Type: tensorType(TensorProtoFloat,
			DimensionProto{DimParam: "batch"},
			DimensionProto{DimParam: "length"},
			DimensionProto{DimValue: int64(g.OutFeatures)},
		),
	}}

	graph.Initializers = append(graph.Initializers,
		floatTensor("embedding", []int64{int64(g.VocabSize), int64(g.EmbedDim)}, g.Embedding),
		int64Tensor("flatten_shape", []int64{3}, []int64{0, 0, -1}),
	)
	graph.Initializers = append(graph.Initializers, lstmInitializers("lstm1", g.LSTM1)...)
	graph.Initializers = append(graph.Initializers, lstmInitializers("lstm2", g.LSTM2)...)
	graph.Initializers = append(graph.Initializers,
		floatTensor("out_w", []int64{int64(g.OutInputs), int64(g.OutFeatures)}, transpose(g.OutWeight, g.OutFeatures, g.OutInputs)),
		floatTensor("out_b", []int64{int64(g.OutFeatures)}, g.OutBias),
	)

	graph.Nodes = []NodeProto{
		{
			Name: "cast_input", OpType: "Cast",
			Inputs: []string{InputName}, Outputs: []string{"input_int32"},
			Attributes: []AttributeProto{intAttr("to", TensorProtoInt32)},
		},
		{
			Name: "embed", OpType: "Gather",
			Inputs: []string{"embedding", "input_int32"}, Outputs: []string{"embedded"},
		},
		lstmNode("lstm1", "embedded", "lstm1_y", g.LSTM1.HiddenSize),
		reshapeNode("flatten1", "lstm1_y", "lstm1_flat"),
		lstmNode("lstm2", "lstm1_flat", "lstm2_y", g.LSTM2.HiddenSize),
		reshapeNode("flatten2", "lstm2_y", "lstm2_flat"),
		{
			Name: "project", OpType: "MatMul",
			Inputs: []string{"lstm2_flat", "out_w"}, Outputs: []string{"projected"},
		},
		{
			Name: "add_bias", OpType: "Add",
			Inputs: []string{"projected", "out_b"}, Outputs: []string{OutputName},
		},
	}

	return &ModelProto{
		IRVersion:       IRVersion,
		OpsetImport:     []OperatorSetID{{Version: OpsetVersion}},
		ProducerName:    "bytesplit",
		ProducerVersion: g.ProducerVersion,
		Graph:           graph,
	}
}

// lstmNode emits a bidirectional LSTM with the batch-first layout. With
// layout=1 the Y output is [batch, length, directions, hidden]; the
// following Reshape folds the last two axes.
func lstmNode(name, input, output string, hidden int) NodeProto {
	return NodeProto{
		Name:   name,
		OpType: "LSTM",
		Inputs: []string{input, name + "_w", name + "_r", name + "_b"},
		Outputs: []string{
			output,
		},
		Attributes: []AttributeProto{
			intAttr("hidden_size", int64(hidden)),
			stringAttr("direction", "bidirectional"),
			intAttr("layout", 1),
		},
	}
}

func reshapeNode(name, input, output string) NodeProto {
	return NodeProto{
		Name:   name,
		OpType: "Reshape",
		Inputs: []string{input, "flatten_shape"}, Outputs: []string{output},
	}
}

// lstmInitializers packs one layer into the LSTM operator's W, R and B
// initializers: W [2, 4H, in], R [2, 4H, H], B [2, 8H], gates reordered
// from (i, f, g, o) to (i, o, f, c).
func lstmInitializers(name string, w LSTMWeights) []TensorProto {
	h, in := w.HiddenSize, w.InputSize

	wData := append(
		reorderGates(w.Wih, h, in),
		reorderGates(w.WihRev, h, in)...,
	)
	rData := append(
		reorderGates(w.Whh, h, h),
		reorderGates(w.WhhRev, h, h)...,
	)
	bData := make([]float32, 0, 2*8*h)
	bData = append(bData, reorderGates(w.Bih, h, 1)...)
	bData = append(bData, reorderGates(w.Bhh, h, 1)...)
	bData = append(bData, reorderGates(w.BihRev, h, 1)...)
	bData = append(bData, reorderGates(w.BhhRev, h, 1)...)

	return []TensorProto{
		floatTensor(name+"_w", []int64{2, int64(4 * h), int64(in)}, wData),
		floatTensor(name+"_r", []int64{2, int64(4 * h), int64(h)}, rData),
		floatTensor(name+"_b", []int64{2, int64(8 * h)}, bData),
	}
}

// reorderGates permutes the H-row gate blocks of a [4H, cols] matrix
// from (i, f, g, o) to (i, o, f, c).
func reorderGates(m []float32, h, cols int) []float32 {
	out := make([]float32, 0, len(m))
	for _, block := range []int{0, 3, 1, 2} {
		out = append(out, m[block*h*cols:(block+1)*h*cols]...)
	}
	return out
}

// transpose converts a row-major [rows, cols] matrix to [cols, rows].
func transpose(m []float32, rows, cols int) []float32 {
	out := make([]float32, len(m))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = m[r*cols+c]
		}
	}
	return out
}

func tensorType(elem int32, dims ...DimensionProto) *TypeProto {
	return &TypeProto{TensorType: &TensorTypeProto{
		ElemType: elem,
		Shape:    &TensorShapeProto{Dims: dims},
	}}
}

func floatTensor(name string, dims []int64, data []float32) TensorProto {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return TensorProto{Name: name, DataType: TensorProtoFloat, Dims: dims, RawData: raw}
}

func int64Tensor(name string, dims []int64, data []int64) TensorProto {
	raw := make([]byte, len(data)*8)
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return TensorProto{Name: name, DataType: TensorProtoInt64, Dims: dims, RawData: raw}
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

func stringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

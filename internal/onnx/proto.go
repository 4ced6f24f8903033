// Package onnx emits ONNX models through a hand-written protobuf wire
// encoder. Only the message fields the exporter produces are modelled;
// a matching minimal decoder exists for round-trip verification.
package onnx

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64           // IR version
	OpsetImport     []OperatorSetID // Opset version(s)
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto // weight tensors
	DocString    string
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string
	OpType     string   // e.g. "LSTM", "Gather", "MatMul"
	Inputs     []string // input tensor names; "" marks an omitted optional
	Outputs    []string
	Attributes []AttributeProto
	Domain     string // custom domain (empty for default)
}

// TensorProto represents an initializer tensor.
type TensorProto struct {
	Name     string
	DataType int32
	Dims     []int64
	RawData  []byte // little-endian element bytes
}

// ValueInfoProto describes an input or output tensor.
type ValueInfoProto struct {
	Name string
	Type *TypeProto
}

// TypeProto wraps the tensor type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto carries element type and shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto lists the dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is one dimension: a static size or a named dynamic axis.
type DimensionProto struct {
	DimValue int64
	DimParam string // e.g. "batch"; takes precedence when non-empty
}

// AttributeProto is one node attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string // empty for the default ai.onnx domain
	Version int64
}

// ONNX element data types (TensorProto.DataType).
const (
	TensorProtoFloat   = 1 // float32
	TensorProtoUint8   = 2
	TensorProtoInt32   = 6
	TensorProtoInt64   = 7
	TensorProtoFloat16 = 10
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoFloat   = 1
	AttributeProtoInt     = 2
	AttributeProtoString  = 3
	AttributeProtoFloats  = 6
	AttributeProtoInts    = 7
	AttributeProtoStrings = 8
)

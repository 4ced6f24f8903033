package onnx

import (
	"encoding/binary"
	"math"
)

// Protobuf wire types.
const (
	wireVarint = 0
	wireBytes  = 2
	wire32Bit  = 5
)

// Field numbers from onnx.proto. The encoder and decoder share these so
// a round trip through both is exact.
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelDomain          = 4
	modelModelVersion    = 5
	modelDocString       = 6
	modelGraph           = 7
	modelOpsetImport     = 8

	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphDocString   = 10
	graphInput       = 11
	graphOutput      = 12

	nodeInput     = 1
	nodeOutput    = 2
	nodeName      = 3
	nodeOpType    = 4
	nodeAttribute = 5
	nodeDomain    = 7

	attrName    = 1
	attrF       = 2
	attrI       = 3
	attrS       = 4
	attrFloats  = 7
	attrInts    = 8
	attrStrings = 9
	attrType    = 20

	tensorDims     = 1
	tensorDataType = 2
	tensorName     = 8
	tensorRawData  = 9

	valueInfoName = 1
	valueInfoType = 2

	typeTensorType = 1

	tensorTypeElemType = 1
	tensorTypeShape    = 2

	shapeDim = 1

	dimValue = 1
	dimParam = 2

	opsetDomain  = 1
	opsetVersion = 2
)

// Marshal encodes the model in protobuf wire format.
func Marshal(m *ModelProto) []byte {
	var e encoder
	e.encodeModel(m)
	return e.buf
}

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) tag(field, wire int) {
	e.uvarint(uint64(field)<<3 | uint64(wire))
}

// varintField encodes an int64 field, omitting the default zero.
func (e *encoder) varintField(field int, v int64) {
	if v == 0 {
		return
	}
	e.tag(field, wireVarint)
	e.uvarint(uint64(v))
}

func (e *encoder) bytesField(field int, b []byte) {
	e.tag(field, wireBytes)
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) stringField(field int, s string) {
	if s == "" {
		return
	}
	e.bytesField(field, []byte(s))
}

func (e *encoder) floatField(field int, f float32) {
	if f == 0 {
		return
	}
	e.tag(field, wire32Bit)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(f))
}

// message encodes a length-delimited submessage built by fn.
func (e *encoder) message(field int, fn func(*encoder)) {
	var sub encoder
	fn(&sub)
	e.bytesField(field, sub.buf)
}

// packedInt64s encodes a repeated int64 field in packed form.
func (e *encoder) packedInt64s(field int, vs []int64) {
	if len(vs) == 0 {
		return
	}
	var sub encoder
	for _, v := range vs {
		sub.uvarint(uint64(v))
	}
	e.bytesField(field, sub.buf)
}

// packedFloats encodes a repeated float field in packed form.
func (e *encoder) packedFloats(field int, vs []float32) {
	if len(vs) == 0 {
		return
	}
	var sub encoder
	for _, v := range vs {
		sub.buf = binary.LittleEndian.AppendUint32(sub.buf, math.Float32bits(v))
	}
	e.bytesField(field, sub.buf)
}

func (e *encoder) encodeModel(m *ModelProto) {
	e.varintField(modelIRVersion, m.IRVersion)
	e.stringField(modelProducerName, m.ProducerName)
	e.stringField(modelProducerVersion, m.ProducerVersion)
	e.stringField(modelDomain, m.Domain)
	e.varintField(modelModelVersion, m.ModelVersion)
	e.stringField(modelDocString, m.DocString)
	if m.Graph != nil {
		e.message(modelGraph, func(sub *encoder) { sub.encodeGraph(m.Graph) })
	}
	for i := range m.OpsetImport {
		op := &m.OpsetImport[i]
		e.message(modelOpsetImport, func(sub *encoder) {
			sub.stringField(opsetDomain, op.Domain)
			sub.varintField(opsetVersion, op.Version)
		})
	}
}

func (e *encoder) encodeGraph(g *GraphProto) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		e.message(graphNode, func(sub *encoder) { sub.encodeNode(node) })
	}
	e.stringField(graphName, g.Name)
	for i := range g.Initializers {
		t := &g.Initializers[i]
		e.message(graphInitializer, func(sub *encoder) { sub.encodeTensor(t) })
	}
	e.stringField(graphDocString, g.DocString)
	for i := range g.Inputs {
		vi := &g.Inputs[i]
		e.message(graphInput, func(sub *encoder) { sub.encodeValueInfo(vi) })
	}
	for i := range g.Outputs {
		vi := &g.Outputs[i]
		e.message(graphOutput, func(sub *encoder) { sub.encodeValueInfo(vi) })
	}
}

func (e *encoder) encodeNode(n *NodeProto) {
	for _, in := range n.Inputs {
		// Optional inputs are positional: an omitted one is encoded as
		// an empty name to keep later inputs in place.
		e.bytesField(nodeInput, []byte(in))
	}
	for _, out := range n.Outputs {
		e.bytesField(nodeOutput, []byte(out))
	}
	e.stringField(nodeName, n.Name)
	e.stringField(nodeOpType, n.OpType)
	for i := range n.Attributes {
		a := &n.Attributes[i]
		e.message(nodeAttribute, func(sub *encoder) { sub.encodeAttribute(a) })
	}
	e.stringField(nodeDomain, n.Domain)
}

func (e *encoder) encodeAttribute(a *AttributeProto) {
	e.stringField(attrName, a.Name)
	e.floatField(attrF, a.F)
	e.varintField(attrI, a.I)
	if len(a.S) > 0 {
		e.bytesField(attrS, a.S)
	}
	e.packedFloats(attrFloats, a.Floats)
	e.packedInt64s(attrInts, a.Ints)
	for _, s := range a.Strings {
		e.bytesField(attrStrings, s)
	}
	e.varintField(attrType, int64(a.Type))
}

func (e *encoder) encodeTensor(t *TensorProto) {
	e.packedInt64s(tensorDims, t.Dims)
	e.varintField(tensorDataType, int64(t.DataType))
	e.stringField(tensorName, t.Name)
	if len(t.RawData) > 0 {
		e.bytesField(tensorRawData, t.RawData)
	}
}

func (e *encoder) encodeValueInfo(vi *ValueInfoProto) {
	e.stringField(valueInfoName, vi.Name)
	if vi.Type == nil || vi.Type.TensorType == nil {
		return
	}
	tt := vi.Type.TensorType
	e.message(valueInfoType, func(sub *encoder) {
		sub.message(typeTensorType, func(sub2 *encoder) {
			sub2.varintField(tensorTypeElemType, int64(tt.ElemType))
			if tt.Shape != nil {
				sub2.message(tensorTypeShape, func(sub3 *encoder) {
					for i := range tt.Shape.Dims {
						d := &tt.Shape.Dims[i]
						sub3.message(shapeDim, func(sub4 *encoder) {
							sub4.varintField(dimValue, d.DimValue)
							sub4.stringField(dimParam, d.DimParam)
						})
					}
				})
			}
		})
	})
}

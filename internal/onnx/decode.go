package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Unmarshal decodes a model produced by Marshal. It understands exactly
// the fields the encoder emits and skips everything else, which is
// enough to verify exported artifacts.
func Unmarshal(data []byte) (*ModelProto, error) {
	p := &parser{data: data}
	m := &ModelProto{}
	if err := p.readModel(m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

type parser struct {
	data []byte
	pos  int
}

var errTruncated = errors.New("truncated message")

func (p *parser) done() bool { return p.pos >= len(p.data) }

func (p *parser) uvarint() (uint64, error) {
	v, n := binary.Uvarint(p.data[p.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	p.pos += n
	return v, nil
}

func (p *parser) tag() (field, wire int, err error) {
	v, err := p.uvarint()
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 3), int(v & 7), nil
}

func (p *parser) bytes() ([]byte, error) {
	n, err := p.uvarint()
	if err != nil {
		return nil, err
	}
	if p.pos+int(n) > len(p.data) {
		return nil, errTruncated
	}
	b := p.data[p.pos : p.pos+int(n)]
	p.pos += int(n)
	return b, nil
}

func (p *parser) fixed32() (uint32, error) {
	if p.pos+4 > len(p.data) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint32(p.data[p.pos:])
	p.pos += 4
	return v, nil
}

func (p *parser) skip(wire int) error {
	switch wire {
	case wireVarint:
		_, err := p.uvarint()
		return err
	case wireBytes:
		_, err := p.bytes()
		return err
	case wire32Bit:
		_, err := p.fixed32()
		return err
	default:
		if p.pos+8 > len(p.data) {
			return errTruncated
		}
		p.pos += 8
		return nil
	}
}

// sub returns a parser over an embedded message.
func (p *parser) sub() (*parser, error) {
	b, err := p.bytes()
	if err != nil {
		return nil, err
	}
	return &parser{data: b}, nil
}

func packedInt64s(b []byte) ([]int64, error) {
	sub := &parser{data: b}
	var out []int64
	for !sub.done() {
		v, err := sub.uvarint()
		if err != nil {
			return nil, err
		}
		out = append(out, int64(v))
	}
	return out, nil
}

func packedFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errTruncated
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (p *parser) readModel(m *ModelProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case modelIRVersion:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			m.IRVersion = int64(v)
		case modelProducerName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			m.ProducerName = string(b)
		case modelProducerVersion:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			m.ProducerVersion = string(b)
		case modelDomain:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			m.Domain = string(b)
		case modelModelVersion:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			m.ModelVersion = int64(v)
		case modelDocString:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			m.DocString = string(b)
		case modelGraph:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			m.Graph = &GraphProto{}
			if err := sub.readGraph(m.Graph); err != nil {
				return err
			}
		case modelOpsetImport:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			var op OperatorSetID
			if err := sub.readOpset(&op); err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, op)
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readOpset(op *OperatorSetID) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case opsetDomain:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			op.Domain = string(b)
		case opsetVersion:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			op.Version = int64(v)
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readGraph(g *GraphProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case graphNode:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			var n NodeProto
			if err := sub.readNode(&n); err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case graphName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			g.Name = string(b)
		case graphInitializer:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			var t TensorProto
			if err := sub.readTensor(&t); err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case graphDocString:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			g.DocString = string(b)
		case graphInput, graphOutput:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			var vi ValueInfoProto
			if err := sub.readValueInfo(&vi); err != nil {
				return err
			}
			if field == graphInput {
				g.Inputs = append(g.Inputs, vi)
			} else {
				g.Outputs = append(g.Outputs, vi)
			}
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readNode(n *NodeProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case nodeInput:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			n.Inputs = append(n.Inputs, string(b))
		case nodeOutput:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			n.Outputs = append(n.Outputs, string(b))
		case nodeName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			n.Name = string(b)
		case nodeOpType:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			n.OpType = string(b)
		case nodeAttribute:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			var a AttributeProto
			if err := sub.readAttribute(&a); err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		case nodeDomain:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			n.Domain = string(b)
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readAttribute(a *AttributeProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case attrName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			a.Name = string(b)
		case attrF:
			v, err := p.fixed32()
			if err != nil {
				return err
			}
			a.F = math.Float32frombits(v)
		case attrI:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			a.I = int64(v)
		case attrS:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			a.S = append([]byte(nil), b...)
		case attrFloats:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			if a.Floats, err = packedFloats(b); err != nil {
				return err
			}
		case attrInts:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			if a.Ints, err = packedInt64s(b); err != nil {
				return err
			}
		case attrStrings:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			a.Strings = append(a.Strings, append([]byte(nil), b...))
		case attrType:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			a.Type = int32(v)
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readTensor(t *TensorProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case tensorDims:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			if t.Dims, err = packedInt64s(b); err != nil {
				return err
			}
		case tensorDataType:
			v, err := p.uvarint()
			if err != nil {
				return err
			}
			t.DataType = int32(v)
		case tensorName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			t.Name = string(b)
		case tensorRawData:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			t.RawData = append([]byte(nil), b...)
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readValueInfo(vi *ValueInfoProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		switch field {
		case valueInfoName:
			b, err := p.bytes()
			if err != nil {
				return err
			}
			vi.Name = string(b)
		case valueInfoType:
			sub, err := p.sub()
			if err != nil {
				return err
			}
			vi.Type = &TypeProto{}
			if err := sub.readType(vi.Type); err != nil {
				return err
			}
		default:
			if err := p.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readType(t *TypeProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		if field != typeTensorType {
			if err := p.skip(wire); err != nil {
				return err
			}
			continue
		}
		sub, err := p.sub()
		if err != nil {
			return err
		}
		t.TensorType = &TensorTypeProto{}
		for !sub.done() {
			f2, w2, err := sub.tag()
			if err != nil {
				return err
			}
			switch f2 {
			case tensorTypeElemType:
				v, err := sub.uvarint()
				if err != nil {
					return err
				}
				t.TensorType.ElemType = int32(v)
			case tensorTypeShape:
				s2, err := sub.sub()
				if err != nil {
					return err
				}
				t.TensorType.Shape = &TensorShapeProto{}
				if err := s2.readShape(t.TensorType.Shape); err != nil {
					return err
				}
			default:
				if err := sub.skip(w2); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *parser) readShape(s *TensorShapeProto) error {
	for !p.done() {
		field, wire, err := p.tag()
		if err != nil {
			return err
		}
		if field != shapeDim {
			if err := p.skip(wire); err != nil {
				return err
			}
			continue
		}
		sub, err := p.sub()
		if err != nil {
			return err
		}
		var d DimensionProto
		for !sub.done() {
			f2, w2, err := sub.tag()
			if err != nil {
				return err
			}
			switch f2 {
			case dimValue:
				v, err := sub.uvarint()
				if err != nil {
					return err
				}
				d.DimValue = int64(v)
			case dimParam:
				b, err := sub.bytes()
				if err != nil {
					return err
				}
				d.DimParam = string(b)
			default:
				if err := sub.skip(w2); err != nil {
					return err
				}
			}
		}
		s.Dims = append(s.Dims, d)
	}
	return nil
}

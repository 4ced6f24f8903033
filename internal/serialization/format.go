package serialization

import (
	"time"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Format constants.
const (
	MagicBytes    = "BSPL"
	FormatVersion = 1
	// DataAlignment aligns the data section and every blob in it.
	DataAlignment = 64
	// ChecksumSize is the SHA-256 digest length.
	ChecksumSize = 32
	// fixedPrefixSize covers magic, version, flags, checksum and the
	// header-size field.
	fixedPrefixSize = 4 + 4 + 4 + ChecksumSize + 8
	// MaxHeaderSize caps the JSON header to keep a corrupted size field
	// from driving a huge allocation.
	MaxHeaderSize = 16 << 20
)

// Data type string constants for serialization.
const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
	DTypeFloat64 = "float64"
	DTypeInt32   = "int32"
	DTypeInt64   = "int64"
	DTypeUint8   = "uint8"
	DTypeBool    = "bool"
)

// Flags for the artifact format.
const (
	FlagQuantized uint32 = 1 << 0 // at least one blob is quantized
	FlagGraph     uint32 = 1 << 1 // file carries an executable graph trace
)

// Header is the JSON header of a .bspl artifact.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`             // tool and version that wrote the file
	GraphType     string            `json:"graph_type,omitempty"` // e.g. "cpu_q8", "webgpu_f16"
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TensorMeta describes one blob in the data section. Offsets are
// relative to the start of the data section.
type TensorMeta struct {
	Name   string     `json:"name"`
	DType  string     `json:"dtype"`
	Shape  []int      `json:"shape"`
	Offset int64      `json:"offset"`
	Size   int64      `json:"size"`
	Quant  *QuantMeta `json:"quant,omitempty"`
}

// QuantMeta marks a blob as quantized. Quantized blobs are opaque byte
// payloads; Elements records the logical element count so a reader can
// size the dequantized tensor without the shape arithmetic.
type QuantMeta struct {
	Scheme    string  `json:"scheme"` // "q8_block" or "uint8_affine"
	BlockSize int     `json:"block_size,omitempty"`
	Elements  int     `json:"elements"`
	Min       float32 `json:"min,omitempty"`
	Scale     float32 `json:"scale,omitempty"`
}

// dtypeToString converts tensor.DataType to its serialized name.
func dtypeToString(dt tensor.DataType) string {
	switch dt {
	case tensor.Float32:
		return DTypeFloat32
	case tensor.Float16:
		return DTypeFloat16
	case tensor.Float64:
		return DTypeFloat64
	case tensor.Int32:
		return DTypeInt32
	case tensor.Int64:
		return DTypeInt64
	case tensor.Uint8:
		return DTypeUint8
	case tensor.Bool:
		return DTypeBool
	default:
		return "unknown"
	}
}

// stringToDtype converts a serialized name back to tensor.DataType.
func stringToDtype(s string) (tensor.DataType, bool) {
	switch s {
	case DTypeFloat32:
		return tensor.Float32, true
	case DTypeFloat16:
		return tensor.Float16, true
	case DTypeFloat64:
		return tensor.Float64, true
	case DTypeInt32:
		return tensor.Int32, true
	case DTypeInt64:
		return tensor.Int64, true
	case DTypeUint8:
		return tensor.Uint8, true
	case DTypeBool:
		return tensor.Bool, true
	default:
		return 0, false
	}
}

// align rounds n up to the next multiple of DataAlignment.
func align(n int64) int64 {
	return (n + DataAlignment - 1) / DataAlignment * DataAlignment
}

package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Reader gives access to the blobs of a parsed .bspl artifact. The file
// is read fully, structurally validated and checksum-verified up front.
type Reader struct {
	header Header
	flags  uint32
	data   []byte
	byName map[string]int
}

// Open reads and validates the artifact at path.
func Open(path string) (*Reader, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(raw)
}

// Parse validates an in-memory artifact.
func Parse(raw []byte) (*Reader, error) {
	if len(raw) < fixedPrefixSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrInvalidMagic, len(raw))
	}
	if string(raw[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	flags := binary.LittleEndian.Uint32(raw[8:12])

	var stored [ChecksumSize]byte
	copy(stored[:], raw[12:12+ChecksumSize])

	headerSize := binary.LittleEndian.Uint64(raw[12+ChecksumSize:])
	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	headerEnd := int64(fixedPrefixSize) + int64(headerSize)
	if headerEnd > int64(len(raw)) {
		return nil, fmt.Errorf("%w: header size %d exceeds file", ErrHeaderTooLarge, headerSize)
	}

	var header Header
	if err := json.Unmarshal(raw[fixedPrefixSize:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	data := raw[align(headerEnd):]
	if err := validateLayout(header.Tensors, int64(len(data))); err != nil {
		return nil, err
	}
	if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(header.Tensors))
	for i, meta := range header.Tensors {
		byName[meta.Name] = i
	}
	return &Reader{header: header, flags: flags, data: data, byName: byName}, nil
}

// Header returns the parsed artifact header.
func (r *Reader) Header() Header { return r.header }

// Flags returns the format flags.
func (r *Reader) Flags() uint32 { return r.flags }

// Names lists the blob names in file order.
func (r *Reader) Names() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// Meta returns the metadata of a named blob.
func (r *Reader) Meta(name string) (TensorMeta, error) {
	i, ok := r.byName[name]
	if !ok {
		return TensorMeta{}, fmt.Errorf("%w: %q", ErrTensorNotFound, name)
	}
	return r.header.Tensors[i], nil
}

// Bytes returns the raw payload of a named blob.
func (r *Reader) Bytes(name string) ([]byte, error) {
	meta, err := r.Meta(name)
	if err != nil {
		return nil, err
	}
	return r.data[meta.Offset : meta.Offset+meta.Size], nil
}

// Tensor materializes a non-quantized blob as a RawTensor.
func (r *Reader) Tensor(name string) (*tensor.RawTensor, error) {
	meta, err := r.Meta(name)
	if err != nil {
		return nil, err
	}
	if meta.Quant != nil {
		return nil, fmt.Errorf("serialization: tensor %q is quantized (%s)", name, meta.Quant.Scheme)
	}
	dt, ok := stringToDtype(meta.DType)
	if !ok {
		return nil, fmt.Errorf("serialization: tensor %q has unknown dtype %q", name, meta.DType)
	}

	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), dt, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("serialization: tensor %q: %w", name, err)
	}
	if int64(len(raw.Data())) != meta.Size {
		return nil, fmt.Errorf("serialization: tensor %q has %d bytes, shape wants %d", name, meta.Size, len(raw.Data()))
	}
	copy(raw.Data(), r.data[meta.Offset:meta.Offset+meta.Size])
	return raw, nil
}

// StateDict materializes all non-quantized blobs by name.
func (r *Reader) StateDict() (map[string]*tensor.RawTensor, error) {
	sd := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		if meta.Quant != nil {
			continue
		}
		t, err := r.Tensor(meta.Name)
		if err != nil {
			return nil, err
		}
		sd[meta.Name] = t
	}
	return sd, nil
}

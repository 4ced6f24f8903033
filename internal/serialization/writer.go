// Package serialization implements the .bspl artifact container: a JSON
// header describing named blobs, a SHA-256 checksum over the data
// section, and 64-byte aligned payloads.
package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Producer identifies files written by this toolchain.
const Producer = "bytesplit 0.1.0"

// Entry is one named blob to serialize. DType and Shape describe the
// logical tensor; quantized blobs additionally carry Quant and store an
// opaque payload.
type Entry struct {
	Name  string
	DType string
	Shape []int
	Quant *QuantMeta
	Data  []byte
}

// Write serializes entries to path. Entries are laid out in the given
// order, each blob aligned to DataAlignment. The header's tensor list,
// checksum and offsets are filled in here; callers only provide
// GraphType and Metadata.
func Write(path string, entries []Entry, header Header) error {
	header.FormatVersion = FormatVersion
	header.Producer = Producer
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	var flags uint32
	if header.GraphType != "" {
		flags |= FlagGraph
	}

	// Lay out the data section.
	header.Tensors = make([]TensorMeta, 0, len(entries))
	var offset int64
	for _, e := range entries {
		if e.Name == "" {
			return &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
		}
		if e.Quant != nil {
			flags |= FlagQuantized
		}
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   e.Name,
			DType:  e.DType,
			Shape:  e.Shape,
			Offset: offset,
			Size:   int64(len(e.Data)),
			Quant:  e.Quant,
		})
		offset = align(offset + int64(len(e.Data)))
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	// Assemble the data section to checksum it before anything is
	// written out.
	dataSize := offset
	if n := len(entries); n > 0 {
		last := header.Tensors[n-1]
		dataSize = align(last.Offset + last.Size)
	}
	data := make([]byte, dataSize)
	for i, e := range entries {
		copy(data[header.Tensors[i].Offset:], e.Data)
	}
	checksum := ComputeChecksum(data)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	prefix := make([]byte, fixedPrefixSize)
	copy(prefix[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(prefix[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(prefix[8:12], flags)
	copy(prefix[12:12+ChecksumSize], checksum[:])
	binary.LittleEndian.PutUint64(prefix[12+ChecksumSize:], uint64(len(headerJSON)))
	if _, err := f.Write(prefix); err != nil {
		return fmt.Errorf("failed to write prefix: %w", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Pad so the data section starts aligned.
	pos := int64(fixedPrefixSize + len(headerJSON))
	if pad := align(pos) - pos; pad > 0 {
		if _, err := f.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data section: %w", err)
	}
	return f.Sync()
}

// WriteStateDict serializes a state dictionary of raw tensors. Tensor
// order is made deterministic by sorting names.
func WriteStateDict(path string, stateDict map[string]*tensor.RawTensor, header Header) error {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		raw := stateDict[name]
		entries = append(entries, Entry{
			Name:  name,
			DType: dtypeToString(raw.DType()),
			Shape: raw.Shape(),
			Data:  raw.Data(),
		})
	}
	return Write(path, entries, header)
}

package data

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	indexMagic   = "BSIX"
	indexVersion = 1
)

// ErrInvalidIndex reports a malformed slice index file.
var ErrInvalidIndex = errors.New("invalid slice index")

// MemoryMapDataset provides memory-mapped access to a corpus stored as
// one concatenated texts file plus a binary slice index. Only the index
// is parsed up front; text bytes are served straight from the mapped
// region via the OS page cache, so corpora larger than memory work.
//
// Always call Close when done to unmap the file (use defer).
type MemoryMapDataset struct {
	file    *os.File
	data    []byte // mmap'd region (read-only)
	offsets []int64
	closed  bool
}

// NewMemoryMapDataset opens textsPath read-only, maps it into memory and
// parses the slice index at indexPath.
func NewMemoryMapDataset(textsPath, indexPath string) (*MemoryMapDataset, error) {
	offsets, err := readIndex(indexPath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(textsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open texts file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat texts file: %w", err)
	}
	if n := len(offsets); n > 0 && offsets[n-1] > stat.Size() {
		_ = file.Close()
		return nil, fmt.Errorf("%w: final offset %d exceeds texts file size %d", ErrInvalidIndex, offsets[n-1], stat.Size())
	}

	var data []byte
	if stat.Size() > 0 {
		data, err = mmapFile(file, stat.Size())
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("mmap failed: %w", err)
		}
	}

	return &MemoryMapDataset{file: file, data: data, offsets: offsets}, nil
}

// Len returns the number of texts in the corpus.
func (d *MemoryMapDataset) Len() int {
	if len(d.offsets) == 0 {
		return 0
	}
	return len(d.offsets) - 1
}

// Text returns the raw bytes of the i-th text. The slice aliases the
// mapped region and is only valid until Close.
func (d *MemoryMapDataset) Text(i int) ([]byte, error) {
	if d.closed {
		return nil, errors.New("data: dataset is closed")
	}
	if i < 0 || i >= d.Len() {
		return nil, fmt.Errorf("data: text index %d out of range [0, %d)", i, d.Len())
	}
	return d.data[d.offsets[i]:d.offsets[i+1]], nil
}

// Close unmaps the texts file and releases the descriptor.
func (d *MemoryMapDataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.data != nil {
		err = munmapFile(d.data)
		d.data = nil
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// readIndex parses a slice index file: magic, version, count, then
// count+1 little-endian uint64 offsets into the texts file.
func readIndex(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slice index: %w", err)
	}
	if len(raw) < 16 {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrInvalidIndex, len(raw))
	}
	if string(raw[0:4]) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidIndex, raw[0:4])
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidIndex, v)
	}
	count := binary.LittleEndian.Uint64(raw[8:16])
	want := 16 + (count+1)*8
	if uint64(len(raw)) != want {
		return nil, fmt.Errorf("%w: %d bytes for %d texts, expected %d", ErrInvalidIndex, len(raw), count, want)
	}

	offsets := make([]int64, count+1)
	prev := int64(-1)
	for i := range offsets {
		off := int64(binary.LittleEndian.Uint64(raw[16+i*8:]))
		if off < 0 || off < prev {
			return nil, fmt.Errorf("%w: offsets not monotonic at %d", ErrInvalidIndex, i)
		}
		offsets[i] = off
		prev = off
	}
	if offsets[0] != 0 {
		return nil, fmt.Errorf("%w: first offset %d, expected 0", ErrInvalidIndex, offsets[0])
	}
	return offsets, nil
}

// WriteCorpus writes texts as a concatenated texts file plus its slice
// index, the layout MemoryMapDataset reads.
func WriteCorpus(texts [][]byte, textsPath, indexPath string) error {
	tf, err := os.Create(textsPath)
	if err != nil {
		return fmt.Errorf("failed to create texts file: %w", err)
	}
	defer tf.Close()

	offsets := make([]int64, 0, len(texts)+1)
	var off int64
	offsets = append(offsets, 0)
	for _, t := range texts {
		n, err := tf.Write(t)
		if err != nil {
			return fmt.Errorf("failed to write texts file: %w", err)
		}
		off += int64(n)
		offsets = append(offsets, off)
	}

	idx := make([]byte, 16+len(offsets)*8)
	copy(idx[0:4], indexMagic)
	binary.LittleEndian.PutUint32(idx[4:8], indexVersion)
	binary.LittleEndian.PutUint64(idx[8:16], uint64(len(texts)))
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(idx[16+i*8:], uint64(o))
	}
	if err := os.WriteFile(indexPath, idx, 0o644); err != nil {
		return fmt.Errorf("failed to write slice index: %w", err)
	}
	return nil
}

package serialization

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

func floatEntry(t *testing.T, name string, shape []int, values []float32) Entry {
	t.Helper()
	raw, err := tensor.NewRaw(tensor.Shape(shape), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(raw.AsFloat32(), values)
	return Entry{Name: name, DType: DTypeFloat32, Shape: shape, Data: raw.Data()}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bspl")

	entries := []Entry{
		floatEntry(t, "out.weight", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		floatEntry(t, "out.bias", []int{2}, []float32{-1, 1}),
	}
	header := Header{Metadata: map[string]string{"hidden1": "128"}}
	require.NoError(t, Write(path, entries, header))

	r, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, r.Header().FormatVersion)
	assert.Equal(t, Producer, r.Header().Producer)
	assert.Equal(t, "128", r.Header().Metadata["hidden1"])
	assert.Equal(t, []string{"out.weight", "out.bias"}, r.Names())
	assert.Zero(t, r.Flags()&FlagQuantized)

	w, err := r.Tensor("out.weight")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.AsFloat32())

	b, err := r.Tensor("out.bias")
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 1}, b.AsFloat32())
}

func TestWrite_BlobsAligned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aligned.bspl")

	entries := []Entry{
		floatEntry(t, "a", []int{1}, []float32{1}), // 4 bytes, next blob must align
		floatEntry(t, "b", []int{1}, []float32{2}),
	}
	require.NoError(t, Write(path, entries, Header{}))

	r, err := Open(path)
	require.NoError(t, err)

	meta, err := r.Meta("b")
	require.NoError(t, err)
	assert.Zero(t, meta.Offset%DataAlignment, "blob offset %d not aligned", meta.Offset)
}

func TestWrite_QuantizedSetsFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quant.bspl")

	entries := []Entry{{
		Name:  "lstm1.weight_ih_l0",
		DType: DTypeFloat32,
		Shape: []int{4, 32},
		Quant: &QuantMeta{Scheme: "q8_block", BlockSize: 32, Elements: 128},
		Data:  make([]byte, 136),
	}}
	require.NoError(t, Write(path, entries, Header{GraphType: "cpu_q8"}))

	r, err := Open(path)
	require.NoError(t, err)
	assert.NotZero(t, r.Flags()&FlagQuantized)
	assert.NotZero(t, r.Flags()&FlagGraph)
	assert.Equal(t, "cpu_q8", r.Header().GraphType)

	// Quantized blobs are opaque: Tensor refuses, Bytes serves them.
	_, err = r.Tensor("lstm1.weight_ih_l0")
	assert.Error(t, err)

	payload, err := r.Bytes("lstm1.weight_ih_l0")
	require.NoError(t, err)
	assert.Len(t, payload, 136)

	meta, err := r.Meta("lstm1.weight_ih_l0")
	require.NoError(t, err)
	require.NotNil(t, meta.Quant)
	assert.Equal(t, 128, meta.Quant.Elements)
}

func TestParse_DetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.bspl")
	require.NoError(t, Write(path, []Entry{
		floatEntry(t, "w", []int{4}, []float32{1, 2, 3, 4}),
	}, Header{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one byte in the data section (the file tail).
	raw[len(raw)-1] ^= 0xFF
	_, err = Parse(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestParse_RejectsBadMagicAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bspl")
	require.NoError(t, Write(path, nil, Header{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	bad := append([]byte(nil), raw...)
	bad[0] = 'X'
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	bad = append([]byte(nil), raw...)
	bad[4] = 0xFF
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Parse(raw[:10])
	assert.Error(t, err)
}

func TestValidateLayout(t *testing.T) {
	tests := []struct {
		name    string
		tensors []TensorMeta
		want    error
	}{
		{
			"duplicate names",
			[]TensorMeta{
				{Name: "w", Offset: 0, Size: 4},
				{Name: "w", Offset: 64, Size: 4},
			},
			ErrInvalidTensorName,
		},
		{
			"empty name",
			[]TensorMeta{{Name: "", Offset: 0, Size: 4}},
			ErrInvalidTensorName,
		},
		{
			"negative offset",
			[]TensorMeta{{Name: "w", Offset: -1, Size: 4}},
			ErrNegativeOffset,
		},
		{
			"out of bounds",
			[]TensorMeta{{Name: "w", Offset: 120, Size: 16}},
			ErrOutOfBounds,
		},
		{
			"overlap",
			[]TensorMeta{
				{Name: "a", Offset: 0, Size: 40},
				{Name: "b", Offset: 32, Size: 8},
			},
			ErrOffsetOverlap,
		},
		{
			"valid",
			[]TensorMeta{
				{Name: "a", Offset: 0, Size: 40},
				{Name: "b", Offset: 64, Size: 8},
			},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLayout(tt.tensors, 128)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestWriteStateDict_SortedAndComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bspl")

	sd := map[string]*tensor.RawTensor{}
	for _, name := range []string{"lstm1.weight_ih_l0", "embedding.weight", "out.bias"} {
		raw, err := tensor.NewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
		require.NoError(t, err)
		sd[name] = raw
	}
	require.NoError(t, WriteStateDict(path, sd, Header{}))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"embedding.weight", "lstm1.weight_ih_l0", "out.bias"}, r.Names())

	back, err := r.StateDict()
	require.NoError(t, err)
	assert.Len(t, back, 3)
}

package data

import (
	"testing"
)

// fixedDataset serves n copies of a fixed sample with varying lengths.
type fixedDataset struct {
	inputs [][]byte
}

func (d *fixedDataset) Len() int { return len(d.inputs) }

func (d *fixedDataset) At(i int) (Sample, error) {
	in := d.inputs[i]
	return Sample{Input: in, Labels: Label(in)}, nil
}

func TestCollate_PadsToLongest(t *testing.T) {
	samples := []Sample{
		{Input: []byte("ab"), Labels: make([]float32, 2*NumChannels)},
		{Input: []byte("cdef"), Labels: make([]float32, 4*NumChannels)},
	}
	samples[0].Labels[0] = 1
	samples[1].Labels[3*NumChannels] = 1

	b := Collate(samples)
	if b.Size != 2 || b.Length != 4 {
		t.Fatalf("batch %dx%d, want 2x4", b.Size, b.Length)
	}
	if len(b.Inputs) != 8 {
		t.Fatalf("inputs length %d, want 8", len(b.Inputs))
	}
	if len(b.Labels) != 8*NumChannels {
		t.Fatalf("labels length %d, want %d", len(b.Labels), 8*NumChannels)
	}

	// Row 0 is "ab" padded with zero bytes.
	if string(b.Inputs[:4]) != "ab\x00\x00" {
		t.Errorf("row 0 = %q", b.Inputs[:4])
	}
	if string(b.Inputs[4:]) != "cdef" {
		t.Errorf("row 1 = %q", b.Inputs[4:])
	}
	// Padded label positions stay zero.
	if b.Labels[0] != 1 {
		t.Error("row 0 label lost in collation")
	}
	for _, i := range []int{2 * NumChannels, 3 * NumChannels} {
		if b.Labels[i] != 0 {
			t.Errorf("padding position %d has label %v", i, b.Labels[i])
		}
	}
}

func TestLoader_BatchCountAndCoverage(t *testing.T) {
	ds := &fixedDataset{}
	for i := 0; i < 10; i++ {
		ds.inputs = append(ds.inputs, []byte("sample"))
	}

	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 4})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if loader.NumBatches() != 3 {
		t.Fatalf("NumBatches() = %d, want 3", loader.NumBatches())
	}

	var batches, total int
	for b := range loader.Batches() {
		if b.Err != nil {
			t.Fatalf("batch error: %v", b.Err)
		}
		batches++
		total += b.Size
	}
	if batches != 3 {
		t.Errorf("received %d batches, want 3", batches)
	}
	if total != 10 {
		t.Errorf("received %d samples, want 10", total)
	}
}

func TestLoader_MultipleWorkers(t *testing.T) {
	ds := &fixedDataset{}
	for i := 0; i < 37; i++ {
		ds.inputs = append(ds.inputs, []byte("multi worker sample"))
	}

	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 5, Shuffle: true, NumWorkers: 4})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	total := 0
	for b := range loader.Batches() {
		if b.Err != nil {
			t.Fatalf("batch error: %v", b.Err)
		}
		total += b.Size
	}
	if total != 37 {
		t.Errorf("received %d samples, want 37", total)
	}
}

func TestLoader_RejectsZeroBatchSize(t *testing.T) {
	ds := &fixedDataset{inputs: [][]byte{[]byte("x")}}
	if _, err := NewLoader(ds, LoaderConfig{}); err == nil {
		t.Error("expected error for batch size 0")
	}
}

func TestLoader_ReusableAcrossPasses(t *testing.T) {
	ds := &fixedDataset{inputs: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	loader, err := NewLoader(ds, LoaderConfig{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	for pass := 0; pass < 2; pass++ {
		n := 0
		for b := range loader.Batches() {
			if b.Err != nil {
				t.Fatalf("pass %d: %v", pass, b.Err)
			}
			n += b.Size
		}
		if n != 3 {
			t.Errorf("pass %d saw %d samples, want 3", pass, n)
		}
	}
}

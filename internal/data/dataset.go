// Package data provides dataset access, splitting and batched loading
// for byte-level sequence labelling.
//
// The label layout is fixed at two channels per byte position: channel 0
// marks token boundaries, channel 1 marks sentence boundaries.
package data

import (
	"fmt"
	"math/rand"
)

// NumChannels is the number of binary label channels per position.
const NumChannels = 2

// Sample is one labelled byte sequence. Labels is flat
// [len(Input) * NumChannels] with channels innermost, holding 0 or 1.
type Sample struct {
	Input  []byte
	Labels []float32
}

// Dataset is a fixed-length random-access sequence of samples.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// Subset exposes a subsequence of a dataset selected by index.
type Subset struct {
	base    Dataset
	indices []int
}

// NewSubset creates a view of base restricted to the given indices.
func NewSubset(base Dataset, indices []int) *Subset {
	return &Subset{base: base, indices: indices}
}

// Len returns the number of selected samples.
func (s *Subset) Len() int { return len(s.indices) }

// At returns the i-th selected sample.
func (s *Subset) At(i int) (Sample, error) {
	if i < 0 || i >= len(s.indices) {
		return Sample{}, fmt.Errorf("data: subset index %d out of range [0, %d)", i, len(s.indices))
	}
	return s.base.At(s.indices[i])
}

// TrainTestSplit deterministically partitions [0, n) into a training
// index set and a test index set of exactly testSize elements. The same
// seed always yields the same partition, so a validation split sampled
// once stays fixed across runs.
func TrainTestSplit(n, testSize int, seed int64) (train, test []int, err error) {
	if testSize < 0 || testSize > n {
		return nil, nil, fmt.Errorf("data: test size %d out of range for %d samples", testSize, n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[testSize:], perm[:testSize], nil
}

// EpochSample draws n indices from ds uniformly with replacement and
// returns them as a subset. It intentionally uses the shared (unseeded)
// RNG so that successive epochs see different samples. Capping the epoch
// at a fixed sample count bounds memory growth in loader workers whose
// upstream text processing leaks between runs; the driver recreates the
// loader every epoch.
func EpochSample(ds Dataset, n int) *Subset {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = rand.Intn(ds.Len())
	}
	return NewSubset(ds, indices)
}

package data

import (
	"fmt"
	"math/rand"
	"sync"
)

// Batch is one collated mini-batch. Inputs is [Size * Length] bytes and
// Labels is [Size * Length * NumChannels] float32, both padded with
// zeros to the longest sample in the batch. A non-nil Err reports a
// failed read; the batch payload is then empty.
type Batch struct {
	Inputs []byte
	Labels []float32
	Size   int
	Length int
	Err    error
}

// Collate pads and stacks samples into a single batch.
func Collate(samples []Sample) Batch {
	maxLen := 0
	for _, s := range samples {
		if len(s.Input) > maxLen {
			maxLen = len(s.Input)
		}
	}

	b := Batch{
		Inputs: make([]byte, len(samples)*maxLen),
		Labels: make([]float32, len(samples)*maxLen*NumChannels),
		Size:   len(samples),
		Length: maxLen,
	}
	for i, s := range samples {
		copy(b.Inputs[i*maxLen:], s.Input)
		copy(b.Labels[i*maxLen*NumChannels:], s.Labels)
	}
	return b
}

// LoaderConfig configures batched loading.
type LoaderConfig struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int // goroutines reading and collating; 0 means 1
}

// Loader streams collated batches from a dataset. Batches are read and
// collated by NumWorkers goroutines and delivered over a channel; with
// more than one worker the batch order is unspecified.
type Loader struct {
	ds  Dataset
	cfg LoaderConfig
}

// NewLoader creates a loader over ds.
func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("data: batch size %d must be positive", cfg.BatchSize)
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &Loader{ds: ds, cfg: cfg}, nil
}

// NumBatches returns the number of batches one pass produces.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Batches starts one pass over the dataset and returns the channel the
// batches arrive on. The channel is closed when the pass completes.
// Consume every batch and check Batch.Err.
func (l *Loader) Batches() <-chan Batch {
	order := make([]int, l.ds.Len())
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	jobs := make(chan []int)
	out := make(chan Batch, l.cfg.NumWorkers)

	var wg sync.WaitGroup
	for w := 0; w < l.cfg.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for indices := range jobs {
				out <- l.collateIndices(indices)
			}
		}()
	}

	go func() {
		for start := 0; start < len(order); start += l.cfg.BatchSize {
			end := start + l.cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			jobs <- order[start:end]
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	return out
}

func (l *Loader) collateIndices(indices []int) Batch {
	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := l.ds.At(idx)
		if err != nil {
			return Batch{Err: fmt.Errorf("data: loading sample %d: %w", idx, err)}
		}
		samples[i] = s
	}
	return Collate(samples)
}

// Package model defines the byte-level bidirectional LSTM tagger and its
// training hooks.
package model

import (
	"fmt"
	"io"

	"github.com/bytesplit-ml/bytesplit/internal/data"
	"github.com/bytesplit-ml/bytesplit/internal/metrics"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/optim"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Architecture constants. The network operates directly on raw bytes,
// so the vocabulary is the full byte range.
const (
	VocabSize   = 256
	EmbedDim    = 32
	Hidden1     = 128
	Hidden2     = 64
	NumChannels = data.NumChannels

	// Loss weighting: positives are rare, and token boundaries
	// (channel 0) matter much more than sentence boundaries.
	PosWeight      = 10.0
	TokenWeight    = 2.0
	SentenceWeight = 0.1
)

// Loader defaults.
const (
	epochSamples   = 30_000
	trainBatchSize = 128
	validBatchSize = 256
	loaderWorkers  = 6
)

// Network is the byte tagger: a 256-entry byte embedding, two stacked
// bidirectional LSTMs with their additive biases pinned to zero, and a
// linear head emitting one logit per label channel and position.
//
// Construction verifies the forward pass against an independent float64
// reference on a fixed probe sequence; NewNetwork fails rather than
// return a network whose arithmetic diverged.
type Network[B tensor.Backend] struct {
	embedding *nn.Embedding[B]
	lstm1     *nn.LSTM[B]
	lstm2     *nn.LSTM[B]
	out       *nn.Linear[B]
	loss      *nn.BCEWithLogitsLoss[B]
	backend   B

	trainSet data.Dataset
	validSet data.Dataset
}

// NewNetwork builds the tagger on the given backend.
func NewNetwork[B tensor.Backend](backend B) (*Network[B], error) {
	n := &Network[B]{
		embedding: nn.NewEmbedding(VocabSize, EmbedDim, backend),
		lstm1:     nn.NewLSTM("lstm1", EmbedDim, Hidden1, backend),
		lstm2:     nn.NewLSTM("lstm2", 2*Hidden1, Hidden2, backend),
		out:       nn.NewLinear("out", 2*Hidden2, NumChannels, backend),
		loss:      nn.NewBCEWithLogitsLoss(PosWeight, []float32{TokenWeight, SentenceWeight}, backend),
		backend:   backend,
	}
	freezeBias(n.lstm1)
	freezeBias(n.lstm2)

	if err := n.verifyAgainstReference(); err != nil {
		return nil, fmt.Errorf("model: reference check failed: %w", err)
	}
	return n, nil
}

// freezeBias zeroes every additive bias of the LSTM and marks it
// non-trainable. The optimizer skips frozen parameters, so the biases
// stay exactly zero for the lifetime of the network.
func freezeBias[B tensor.Backend](lstm *nn.LSTM[B]) {
	for _, p := range lstm.BiasParameters() {
		d := p.Tensor().Data()
		for i := range d {
			d[i] = 0
		}
		p.SetRequiresGrad(false)
	}
}

// AttachData sets the training and validation datasets used by the
// loader hooks.
func (n *Network[B]) AttachData(train, valid data.Dataset) {
	n.trainSet = train
	n.validSet = valid
}

// Backend returns the compute backend the network runs on.
func (n *Network[B]) Backend() B { return n.backend }

// Forward maps input bytes [batch, length] to logits
// [batch, length, NumChannels].
func (n *Network[B]) Forward(input *tensor.Tensor[uint8, B]) *tensor.Tensor[float32, B] {
	indices := tensor.New[int32, B](n.backend.Cast(input.Raw(), tensor.Int32), n.backend)
	h := n.embedding.Forward(indices)
	h = n.lstm1.Forward(h)
	h = n.lstm2.Forward(h)
	return n.out.Forward(h)
}

// Loss computes the weighted binary cross-entropy between logits and
// targets of shape [batch, length, NumChannels].
func (n *Network[B]) Loss(logits, targets *tensor.Tensor[float32, B]) float32 {
	return n.loss.Forward(logits, targets)
}

// Backward propagates the loss gradient through the whole network,
// accumulating parameter gradients. Call after Forward and Loss.
func (n *Network[B]) Backward() {
	g := n.loss.Backward()
	g = n.out.Backward(g)
	g = n.lstm2.Backward(g)
	g = n.lstm1.Backward(g)
	n.embedding.Backward(g)
}

// Parameters returns all parameters, frozen biases included.
func (n *Network[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, n.embedding.Parameters()...)
	params = append(params, n.lstm1.Parameters()...)
	params = append(params, n.lstm2.Parameters()...)
	params = append(params, n.out.Parameters()...)
	return params
}

// Embedding returns the byte embedding layer.
func (n *Network[B]) Embedding() *nn.Embedding[B] { return n.embedding }

// LSTM1 returns the first bidirectional LSTM.
func (n *Network[B]) LSTM1() *nn.LSTM[B] { return n.lstm1 }

// LSTM2 returns the second bidirectional LSTM.
func (n *Network[B]) LSTM2() *nn.LSTM[B] { return n.lstm2 }

// Out returns the output projection.
func (n *Network[B]) Out() *nn.Linear[B] { return n.out }

// StateDict collects all parameter tensors by name.
func (n *Network[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for _, m := range n.modules() {
		for name, t := range m.StateDict() {
			sd[name] = t
		}
	}
	return sd
}

// LoadStateDict restores all parameters from a state dictionary.
func (n *Network[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, m := range n.modules() {
		if err := m.LoadStateDict(stateDict); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network[B]) modules() []nn.Module[B] {
	return []nn.Module[B]{n.embedding, n.lstm1, n.lstm2, n.out}
}

// batchTensors converts a collated batch into backend tensors.
func (n *Network[B]) batchTensors(batch data.Batch) (*tensor.Tensor[uint8, B], *tensor.Tensor[float32, B], error) {
	input, err := tensor.FromSlice(batch.Inputs, tensor.Shape{batch.Size, batch.Length}, n.backend)
	if err != nil {
		return nil, nil, err
	}
	labels, err := tensor.FromSlice(batch.Labels, tensor.Shape{batch.Size, batch.Length, NumChannels}, n.backend)
	if err != nil {
		return nil, nil, err
	}
	return input, labels, nil
}

// TrainingStep runs forward, loss and backward on one batch and returns
// the loss. Gradients accumulate on the parameters; the caller steps
// and zeroes the optimizer.
func (n *Network[B]) TrainingStep(batch data.Batch) (float32, error) {
	if batch.Err != nil {
		return 0, batch.Err
	}
	input, labels, err := n.batchTensors(batch)
	if err != nil {
		return 0, err
	}
	logits := n.Forward(input)
	loss := n.Loss(logits, labels)
	n.Backward()
	return loss, nil
}

// ValidationStep runs forward on one batch, feeds the accumulator and
// returns the validation loss.
func (n *Network[B]) ValidationStep(batch data.Batch, acc *metrics.Accumulator) (float32, error) {
	if batch.Err != nil {
		return 0, batch.Err
	}
	input, labels, err := n.batchTensors(batch)
	if err != nil {
		return 0, err
	}
	logits := n.Forward(input)
	loss := n.Loss(logits, labels)
	if err := acc.Observe(logits.Data(), labels.Data()); err != nil {
		return 0, err
	}
	return loss, nil
}

// ValidationEpochEnd reports per-channel metrics for the finished pass.
func (n *Network[B]) ValidationEpochEnd(acc *metrics.Accumulator, w io.Writer) error {
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return acc.Report(w)
}

// ConfigureOptimizer returns Adam over all parameters with default
// hyperparameters.
func (n *Network[B]) ConfigureOptimizer() optim.Optimizer {
	return optim.NewAdam(n.Parameters(), optim.AdamConfig{})
}

// TrainLoader samples a fresh bounded epoch from the training set and
// returns a shuffled loader over it. One epoch is a fixed-size random
// sample rather than a full pass; call again each epoch.
func (n *Network[B]) TrainLoader() (*data.Loader, error) {
	if n.trainSet == nil {
		return nil, fmt.Errorf("model: no training dataset attached")
	}
	sample := data.EpochSample(n.trainSet, epochSamples)
	return data.NewLoader(sample, data.LoaderConfig{
		BatchSize:  trainBatchSize,
		Shuffle:    true,
		NumWorkers: loaderWorkers,
	})
}

// ValidLoader returns an ordered loader over the fixed validation set.
func (n *Network[B]) ValidLoader() (*data.Loader, error) {
	if n.validSet == nil {
		return nil, fmt.Errorf("model: no validation dataset attached")
	}
	return data.NewLoader(n.validSet, data.LoaderConfig{
		BatchSize:  validBatchSize,
		NumWorkers: loaderWorkers,
	})
}

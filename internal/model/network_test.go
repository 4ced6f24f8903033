package model_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/internal/data"
	"github.com/bytesplit-ml/bytesplit/internal/metrics"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

func newNetwork(t *testing.T) *model.Network[*cpu.Backend] {
	t.Helper()
	net, err := model.NewNetwork(cpu.New())
	if err != nil {
		t.Fatalf("NewNetwork() error = %v", err)
	}
	return net
}

// smallBatch collates two short texts with a single positive label each.
func smallBatch(t *testing.T) data.Batch {
	t.Helper()
	samples := []data.Sample{
		{Input: []byte("one two"), Labels: make([]float32, 7*data.NumChannels)},
		{Input: []byte("three"), Labels: make([]float32, 5*data.NumChannels)},
	}
	samples[0].Labels[3*data.NumChannels] = 1
	samples[1].Labels[4*data.NumChannels] = 1
	return data.Collate(samples)
}

func TestForward_Shape(t *testing.T) {
	net := newNetwork(t)

	input, err := tensor.FromSlice([]byte("hello world!!!"), tensor.Shape{2, 7}, net.Backend())
	if err != nil {
		t.Fatalf("FromSlice() error = %v", err)
	}
	logits := net.Forward(input)

	want := tensor.Shape{2, 7, model.NumChannels}
	if !shapesEqual(logits.Shape(), want) {
		t.Errorf("Forward() shape = %v, want %v", logits.Shape(), want)
	}
	for i, v := range logits.Data() {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("logit %d is not finite: %v", i, v)
		}
	}
}

func TestFrozenBiases_StayZeroThroughTraining(t *testing.T) {
	net := newNetwork(t)
	opt := net.ConfigureOptimizer()
	batch := smallBatch(t)

	for step := 0; step < 3; step++ {
		opt.ZeroGrad()
		if _, err := net.TrainingStep(batch); err != nil {
			t.Fatalf("TrainingStep() error = %v", err)
		}
		opt.Step()
	}

	for _, p := range net.LSTM1().BiasParameters() {
		if p.RequiresGrad() {
			t.Errorf("bias %s is trainable", p.Name())
		}
		for i, v := range p.Tensor().Data() {
			if v != 0 {
				t.Fatalf("bias %s[%d] = %v after optimizer steps, want 0", p.Name(), i, v)
			}
		}
	}
	for _, p := range net.LSTM2().BiasParameters() {
		for i, v := range p.Tensor().Data() {
			if v != 0 {
				t.Fatalf("bias %s[%d] = %v after optimizer steps, want 0", p.Name(), i, v)
			}
		}
	}
}

func TestTrainingStep_AccumulatesGradients(t *testing.T) {
	net := newNetwork(t)

	loss, err := net.TrainingStep(smallBatch(t))
	if err != nil {
		t.Fatalf("TrainingStep() error = %v", err)
	}
	if math.IsNaN(float64(loss)) || loss <= 0 {
		t.Fatalf("TrainingStep() loss = %v, want finite positive", loss)
	}

	var touched bool
	for _, p := range net.Parameters() {
		g := p.GradData()
		if !p.RequiresGrad() {
			if g != nil {
				t.Errorf("frozen parameter %s has a gradient buffer", p.Name())
			}
			continue
		}
		for _, v := range g {
			if v != 0 {
				touched = true
				break
			}
		}
	}
	if !touched {
		t.Error("no trainable parameter received a nonzero gradient")
	}
}

func TestTrainingStep_PropagatesBatchError(t *testing.T) {
	net := newNetwork(t)

	batch := smallBatch(t)
	batch.Err = errBoom

	if _, err := net.TrainingStep(batch); err != errBoom {
		t.Errorf("TrainingStep() error = %v, want %v", err, errBoom)
	}
}

func TestStateDict_RoundTrip(t *testing.T) {
	src := newNetwork(t)
	dst := newNetwork(t)

	input, err := tensor.FromSlice([]byte("state"), tensor.Shape{1, 5}, src.Backend())
	if err != nil {
		t.Fatalf("FromSlice() error = %v", err)
	}

	if err := dst.LoadStateDict(src.StateDict()); err != nil {
		t.Fatalf("LoadStateDict() error = %v", err)
	}

	want := src.Forward(input).Data()
	got := dst.Forward(input).Data()
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("logit %d = %v after state transfer, want %v", i, got[i], want[i])
		}
	}
}

func TestValidationStep_FeedsAccumulator(t *testing.T) {
	net := newNetwork(t)
	acc := metrics.NewAccumulator(model.NumChannels)
	batch := smallBatch(t)

	loss, err := net.ValidationStep(batch, acc)
	if err != nil {
		t.Fatalf("ValidationStep() error = %v", err)
	}
	if math.IsNaN(float64(loss)) {
		t.Fatalf("ValidationStep() loss = NaN")
	}

	var buf bytes.Buffer
	if err := net.ValidationEpochEnd(acc, &buf); err != nil {
		t.Fatalf("ValidationEpochEnd() error = %v", err)
	}
	out := buf.String()
	for _, field := range []string{"f1=", "precision=", "recall="} {
		if !strings.Contains(out, field) {
			t.Errorf("report missing %q:\n%s", field, out)
		}
	}
}

func TestLoaders_RequireAttachedData(t *testing.T) {
	net := newNetwork(t)

	if _, err := net.TrainLoader(); err == nil {
		t.Error("TrainLoader() succeeded without a dataset")
	}
	if _, err := net.ValidLoader(); err == nil {
		t.Error("ValidLoader() succeeded without a dataset")
	}

	ds := fixedDataset{
		{Input: []byte("abc"), Labels: make([]float32, 3*data.NumChannels)},
		{Input: []byte("defg"), Labels: make([]float32, 4*data.NumChannels)},
	}
	net.AttachData(ds, ds)

	train, err := net.TrainLoader()
	if err != nil {
		t.Fatalf("TrainLoader() error = %v", err)
	}
	if train.NumBatches() == 0 {
		t.Error("TrainLoader() produced no batches")
	}
	valid, err := net.ValidLoader()
	if err != nil {
		t.Fatalf("ValidLoader() error = %v", err)
	}
	if valid.NumBatches() != 1 {
		t.Errorf("ValidLoader() batches = %d, want 1", valid.NumBatches())
	}
}

func shapesEqual(a, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type fixedDataset []data.Sample

func (d fixedDataset) Len() int { return len(d) }

func (d fixedDataset) At(i int) (data.Sample, error) { return d[i], nil }

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

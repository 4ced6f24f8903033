// Package train drives the epoch loop around a task's hooks.
package train

import (
	"fmt"
	"io"
	"log"

	"github.com/bytesplit-ml/bytesplit/internal/data"
	"github.com/bytesplit-ml/bytesplit/internal/metrics"
	"github.com/bytesplit-ml/bytesplit/internal/optim"
	"github.com/bytesplit-ml/bytesplit/internal/serialization"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Task is the hook set a trainable model provides. The trainer owns the
// epoch loop, optimizer stepping and metric lifecycle; the task owns
// forward, loss, backward and its data loaders.
type Task interface {
	TrainingStep(batch data.Batch) (float32, error)
	ValidationStep(batch data.Batch, acc *metrics.Accumulator) (float32, error)
	ValidationEpochEnd(acc *metrics.Accumulator, w io.Writer) error
	ConfigureOptimizer() optim.Optimizer

	// TrainLoader is called once per epoch so bounded epoch samples and
	// worker state are recreated each time.
	TrainLoader() (*data.Loader, error)
	ValidLoader() (*data.Loader, error)
}

// Config controls the trainer.
type Config struct {
	Epochs int
	// Out receives progress lines and the per-epoch metric report.
	Out io.Writer
	// CheckpointPath, when non-empty, is a fmt pattern with one %d verb
	// for the epoch number; a state-dict artifact is written there after
	// every epoch.
	CheckpointPath string
	// LogEvery prints a running training loss every N steps (0 disables).
	LogEvery int
}

// Trainer runs the training loop for a task.
type Trainer struct {
	task Task
	cfg  Config
}

// New creates a trainer.
func New(task Task, cfg Config) *Trainer {
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	return &Trainer{task: task, cfg: cfg}
}

// Run executes the configured number of epochs: a bounded training pass
// with a freshly sampled loader, then a full validation pass with a
// fresh metrics accumulator, then the epoch-end report.
func (t *Trainer) Run() error {
	opt := t.task.ConfigureOptimizer()

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := t.trainEpoch(epoch, opt); err != nil {
			return fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		if err := t.validate(); err != nil {
			return fmt.Errorf("train: validation after epoch %d: %w", epoch, err)
		}
		if t.cfg.CheckpointPath != "" {
			if err := t.checkpoint(epoch); err != nil {
				return fmt.Errorf("train: checkpoint after epoch %d: %w", epoch, err)
			}
		}
	}
	return nil
}

func (t *Trainer) trainEpoch(epoch int, opt optim.Optimizer) error {
	loader, err := t.task.TrainLoader()
	if err != nil {
		return err
	}

	step := 0
	var running float64
	for batch := range loader.Batches() {
		if batch.Err != nil {
			return batch.Err
		}

		opt.ZeroGrad()
		loss, err := t.task.TrainingStep(batch)
		if err != nil {
			return err
		}
		opt.Step()

		step++
		running += float64(loss)
		if t.cfg.LogEvery > 0 && step%t.cfg.LogEvery == 0 {
			fmt.Fprintf(t.out(), "epoch %d step %d train_loss=%.4f\n", epoch, step, running/float64(step))
		}
	}
	return nil
}

func (t *Trainer) validate() error {
	loader, err := t.task.ValidLoader()
	if err != nil {
		return err
	}

	acc := metrics.NewAccumulator(data.NumChannels)
	var total float64
	var batches int
	for batch := range loader.Batches() {
		if batch.Err != nil {
			return batch.Err
		}
		loss, err := t.task.ValidationStep(batch, acc)
		if err != nil {
			return err
		}
		total += float64(loss)
		batches++
	}
	if batches > 0 {
		fmt.Fprintf(t.out(), "val_loss=%.4f\n", total/float64(batches))
	}
	return t.task.ValidationEpochEnd(acc, t.out())
}

func (t *Trainer) checkpoint(epoch int) error {
	cp, ok := t.task.(interface {
		StateDict() map[string]*tensor.RawTensor
	})
	if !ok {
		log.Printf("train: task has no state dict, checkpointing skipped")
		return nil
	}

	path := fmt.Sprintf(t.cfg.CheckpointPath, epoch)
	return serialization.WriteStateDict(path, cp.StateDict(), serialization.Header{
		Metadata: map[string]string{"epoch": fmt.Sprintf("%d", epoch)},
	})
}

func (t *Trainer) out() io.Writer {
	if t.cfg.Out != nil {
		return t.cfg.Out
	}
	return logWriter{}
}

// logWriter falls back to the standard logger when no writer is set.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Print(string(p))
	return len(p), nil
}

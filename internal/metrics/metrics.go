// Package metrics accumulates binary classification counts per label
// channel and reports precision, recall and F1.
package metrics

import (
	"fmt"
	"io"
)

// DecisionThreshold is the boundary applied to the model's raw output
// when counting a position as a positive prediction. It is applied to
// the logit directly, before any sigmoid, matching the shipped decision
// rule of the trained models.
const DecisionThreshold = 0.5

// epsilon keeps the ratios defined when a denominator count is zero.
const epsilon = 1e-9

// Accumulator collects true-positive, false-positive and false-negative
// counts per label channel across validation batches. Use one fresh
// Accumulator per validation pass.
type Accumulator struct {
	channels int
	tp       []int64
	fp       []int64
	fn       []int64
}

// NewAccumulator creates an accumulator for the given number of label
// channels.
func NewAccumulator(channels int) *Accumulator {
	return &Accumulator{
		channels: channels,
		tp:       make([]int64, channels),
		fp:       make([]int64, channels),
		fn:       make([]int64, channels),
	}
}

// Channels returns the number of label channels.
func (a *Accumulator) Channels() int { return a.channels }

// Observe adds one batch of predictions. logits and labels are flat
// slices of the same length, laid out with channels on the innermost
// axis; labels hold 0 or 1.
func (a *Accumulator) Observe(logits, labels []float32) error {
	if len(logits) != len(labels) {
		return fmt.Errorf("metrics: %d logits vs %d labels", len(logits), len(labels))
	}
	if len(logits)%a.channels != 0 {
		return fmt.Errorf("metrics: %d values not divisible by %d channels", len(logits), a.channels)
	}
	for i := range logits {
		ch := i % a.channels
		pred := logits[i] > DecisionThreshold
		actual := labels[i] > 0.5

		switch {
		case pred && actual:
			a.tp[ch]++
		case pred && !actual:
			a.fp[ch]++
		case !pred && actual:
			a.fn[ch]++
		}
	}
	return nil
}

// ChannelSummary holds the derived metrics for one label channel.
type ChannelSummary struct {
	Precision float64
	Recall    float64
	F1        float64
}

// Summary derives precision, recall and F1 per channel. All three stay
// in [0, 1] and are never NaN; zero counts yield zero metrics.
func (a *Accumulator) Summary() []ChannelSummary {
	out := make([]ChannelSummary, a.channels)
	for ch := 0; ch < a.channels; ch++ {
		tp := float64(a.tp[ch])
		p := tp / (tp + float64(a.fp[ch]) + epsilon)
		r := tp / (tp + float64(a.fn[ch]) + epsilon)
		out[ch] = ChannelSummary{
			Precision: p,
			Recall:    r,
			F1:        2 * p * r / (p + r + epsilon),
		}
	}
	return out
}

// Report writes one line per channel in the form
// "f1=0.912\tprecision=0.954\trecall=0.874".
func (a *Accumulator) Report(w io.Writer) error {
	for _, s := range a.Summary() {
		if _, err := fmt.Fprintf(w, "f1=%.3f\tprecision=%.3f\trecall=%.3f\n", s.F1, s.Precision, s.Recall); err != nil {
			return err
		}
	}
	return nil
}

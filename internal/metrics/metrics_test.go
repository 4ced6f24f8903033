package metrics

import (
	"math"
	"strings"
	"testing"
)

func TestObserve_CountsPerChannel(t *testing.T) {
	a := NewAccumulator(2)

	// Two positions, two channels each. Predictions use logit > 0.5.
	logits := []float32{2.0, -1.0, 0.1, 3.0}
	labels := []float32{1, 1, 1, 0}
	if err := a.Observe(logits, labels); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	s := a.Summary()
	// Channel 0: tp=1 (2.0/1), fn=1 (0.1/1) -> precision 1, recall 0.5.
	if math.Abs(s[0].Precision-1) > 1e-6 {
		t.Errorf("ch0 precision = %v, want 1", s[0].Precision)
	}
	if math.Abs(s[0].Recall-0.5) > 1e-6 {
		t.Errorf("ch0 recall = %v, want 0.5", s[0].Recall)
	}
	// Channel 1: fn=1 (-1.0/1), fp=1 (3.0/0) -> precision 0, recall 0.
	if s[1].Precision != 0 || s[1].Recall != 0 {
		t.Errorf("ch1 precision/recall = %v/%v, want 0/0", s[1].Precision, s[1].Recall)
	}
}

func TestSummary_NeverNaN(t *testing.T) {
	a := NewAccumulator(2)
	// No observations at all: every count is zero.
	for ch, s := range a.Summary() {
		for name, v := range map[string]float64{"precision": s.Precision, "recall": s.Recall, "f1": s.F1} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("channel %d %s = %v with zero counts", ch, name, v)
			}
			if v != 0 {
				t.Errorf("channel %d %s = %v, want 0", ch, name, v)
			}
		}
	}
}

func TestSummary_PerfectPredictions(t *testing.T) {
	a := NewAccumulator(1)
	logits := []float32{5, -5, 5, -5}
	labels := []float32{1, 0, 1, 0}
	if err := a.Observe(logits, labels); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	s := a.Summary()[0]
	const tol = 1e-6
	if math.Abs(s.Precision-1) > tol || math.Abs(s.Recall-1) > tol || math.Abs(s.F1-1) > tol {
		t.Errorf("perfect predictions gave p=%v r=%v f1=%v", s.Precision, s.Recall, s.F1)
	}
}

func TestObserve_ThresholdOnRawLogit(t *testing.T) {
	a := NewAccumulator(1)
	// 0.4 is below the threshold even though sigmoid(0.4) > 0.5.
	logits := []float32{0.4, 0.6}
	labels := []float32{1, 1}
	if err := a.Observe(logits, labels); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	s := a.Summary()[0]
	if math.Abs(s.Recall-0.5) > 1e-6 {
		t.Errorf("recall = %v, want 0.5", s.Recall)
	}
}

func TestObserve_RejectsMismatchedLengths(t *testing.T) {
	a := NewAccumulator(2)
	if err := a.Observe([]float32{1, 2}, []float32{1}); err == nil {
		t.Error("expected error for length mismatch")
	}
	if err := a.Observe([]float32{1, 2, 3}, []float32{1, 0, 1}); err == nil {
		t.Error("expected error for length not divisible by channels")
	}
}

func TestObserve_AccumulatesAcrossBatches(t *testing.T) {
	a := NewAccumulator(1)
	for i := 0; i < 3; i++ {
		if err := a.Observe([]float32{5}, []float32{1}); err != nil {
			t.Fatalf("Observe: %v", err)
		}
	}
	if err := a.Observe([]float32{5}, []float32{0}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	s := a.Summary()[0]
	if math.Abs(s.Precision-0.75) > 1e-6 {
		t.Errorf("precision = %v, want 0.75", s.Precision)
	}
}

func TestReport_Format(t *testing.T) {
	a := NewAccumulator(2)
	if err := a.Observe([]float32{5, -5}, []float32{1, 0}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	var sb strings.Builder
	if err := a.Report(&sb); err != nil {
		t.Fatalf("Report: %v", err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 report lines, got %d: %q", len(lines), sb.String())
	}
	if lines[0] != "f1=1.000\tprecision=1.000\trecall=1.000" {
		t.Errorf("line 0 = %q", lines[0])
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "f1=") || !strings.Contains(l, "precision=") {
			t.Errorf("malformed line %q", l)
		}
	}
}

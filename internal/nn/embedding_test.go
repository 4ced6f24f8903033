package nn_test

import (
	"math"
	"testing"

	"github.com/bytesplit-ml/bytesplit/internal/backend/cpu"
	"github.com/bytesplit-ml/bytesplit/internal/nn"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

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

func floatsClose(t *testing.T, want, got []float32, tol float64, msg string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length mismatch, want %d got %d", msg, len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > tol {
			t.Errorf("%s: element %d: want %v, got %v", msg, i, want[i], got[i])
		}
	}
}

func TestEmbedding_Forward_Lookup(t *testing.T) {
	backend := cpu.New()
	embed := nn.NewEmbedding(4, 3, backend)

	copy(embed.Weight.Tensor().Data(), []float32{
		1, 2, 3, // row 0
		4, 5, 6, // row 1
		7, 8, 9, // row 2
		10, 11, 12, // row 3
	})

	indices, err := tensor.FromSlice([]int32{2, 0, 3}, tensor.Shape{1, 3}, backend)
	if err != nil {
		t.Fatalf("failed to create indices: %v", err)
	}

	out := embed.Forward(indices)

	if !shapesEqual(out.Shape(), tensor.Shape{1, 3, 3}) {
		t.Fatalf("expected shape [1 3 3], got %v", out.Shape())
	}
	floatsClose(t, []float32{7, 8, 9, 1, 2, 3, 10, 11, 12}, out.Data(), 0, "lookup")
}

func TestEmbedding_Backward_ScatterAdd(t *testing.T) {
	backend := cpu.New()
	embed := nn.NewEmbedding(4, 2, backend)

	// Index 1 appears twice: its gradient rows must accumulate.
	indices, err := tensor.FromSlice([]int32{1, 1, 3}, tensor.Shape{1, 3}, backend)
	if err != nil {
		t.Fatalf("failed to create indices: %v", err)
	}
	embed.Forward(indices)

	gradOut, err := tensor.FromSlice([]float32{
		1, 2,
		10, 20,
		5, 6,
	}, tensor.Shape{1, 3, 2}, backend)
	if err != nil {
		t.Fatalf("failed to create gradient: %v", err)
	}
	embed.Backward(gradOut)

	gw := embed.Weight.GradData()
	want := []float32{
		0, 0,
		11, 22,
		0, 0,
		5, 6,
	}
	floatsClose(t, want, gw, 1e-6, "weight gradient")
}

func TestEmbedding_Backward_FrozenWeightSkipped(t *testing.T) {
	backend := cpu.New()
	embed := nn.NewEmbedding(4, 2, backend)
	embed.Weight.SetRequiresGrad(false)

	indices, err := tensor.FromSlice([]int32{0, 1}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatalf("failed to create indices: %v", err)
	}
	embed.Forward(indices)

	gradOut := tensor.Ones[float32](tensor.Shape{1, 2, 2}, backend)
	embed.Backward(gradOut)

	if embed.Weight.Grad() != nil {
		t.Error("frozen weight accumulated a gradient")
	}
}

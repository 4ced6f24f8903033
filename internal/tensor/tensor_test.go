package tensor

import (
	"math"
	"testing"
)

func assertEqualShape(t *testing.T, expected, actual Shape, msg string) {
	t.Helper()
	if !expected.Equal(actual) {
		t.Errorf("%s: expected shape %v, got %v", msg, expected, actual)
	}
}

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
	}{
		{Float32, 4},
		{Float16, 2},
		{Int32, 4},
		{Int64, 8},
		{Uint8, 1},
	}
	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestShape_NumElements(t *testing.T) {
	if got := (Shape{2, 3, 4}).NumElements(); got != 24 {
		t.Errorf("NumElements() = %d, want 24", got)
	}
	if got := (Shape{}).NumElements(); got != 1 {
		t.Errorf("scalar NumElements() = %d, want 1", got)
	}
}

func TestShape_ComputeStrides(t *testing.T) {
	strides := (Shape{2, 3, 4}).ComputeStrides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Errorf("strides = %v, want %v", strides, want)
			break
		}
	}
}

func TestNewRaw_RejectsInvalidShape(t *testing.T) {
	if _, err := NewRaw(Shape{2, -1}, Float32, CPU); err == nil {
		t.Error("expected error for negative dimension")
	}
}

func TestRawTensor_CloneIsIndependent(t *testing.T) {
	raw, err := NewRaw(Shape{2, 2}, Float32, CPU)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	raw.AsFloat32()[0] = 7

	clone := raw.Clone()
	clone.AsFloat32()[0] = 9

	if raw.AsFloat32()[0] != 7 {
		t.Error("mutating a clone changed the original")
	}
	assertEqualShape(t, raw.Shape(), clone.Shape(), "clone shape")
}

func TestFloat16_RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, 65504, -65504, 3.14159, 1e-4}
	for _, v := range values {
		got := Float16ToFloat32(Float16FromFloat32(v))
		// Half precision keeps about 3 decimal digits.
		tol := math.Abs(float64(v)) * 1e-3
		if tol < 1e-7 {
			tol = 1e-7
		}
		if math.Abs(float64(got-v)) > tol {
			t.Errorf("Float16 round trip of %v gave %v", v, got)
		}
	}
}

func TestFloat16_SpecialValues(t *testing.T) {
	inf := Float16ToFloat32(Float16FromFloat32(float32(math.Inf(1))))
	if !math.IsInf(float64(inf), 1) {
		t.Errorf("expected +Inf, got %v", inf)
	}
	nan := Float16ToFloat32(Float16FromFloat32(float32(math.NaN())))
	if !math.IsNaN(float64(nan)) {
		t.Errorf("expected NaN, got %v", nan)
	}
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		a, b, want Shape
		ok         bool
	}{
		{Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, true},
		{Shape{2, 3}, Shape{3}, Shape{2, 3}, true},
		{Shape{4, 1, 3}, Shape{2, 3}, Shape{4, 2, 3}, true},
		{Shape{2, 3}, Shape{4}, nil, false},
	}
	for _, tt := range tests {
		got, _, err := BroadcastShapes(tt.a, tt.b)
		if tt.ok {
			if err != nil {
				t.Errorf("BroadcastShapes(%v, %v): unexpected error %v", tt.a, tt.b, err)
				continue
			}
			assertEqualShape(t, tt.want, got, "broadcast result")
		} else if err == nil {
			t.Errorf("BroadcastShapes(%v, %v): expected error", tt.a, tt.b)
		}
	}
}

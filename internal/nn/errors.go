package nn

import (
	"fmt"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// MissingParameterError reports a state-dict entry absent during loading.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing %q in state dict", e.Name)
}

// ShapeMismatchError reports a state-dict entry with the wrong shape.
type ShapeMismatchError struct {
	Name string
	Want tensor.Shape
	Got  tensor.Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s shape mismatch: expected %v, got %v", e.Name, e.Want, e.Got)
}

// DTypeError reports a state-dict entry with the wrong element type.
type DTypeError struct {
	Name string
	Got  tensor.DataType
}

func (e *DTypeError) Error() string {
	return fmt.Sprintf("%s dtype mismatch: expected float32, got %v", e.Name, e.Got)
}

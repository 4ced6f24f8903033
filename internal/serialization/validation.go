package serialization

import (
	"fmt"
	"sort"
)

// validateLayout checks the tensor metadata against the data section:
// names present and unique, offsets and sizes non-negative, every blob
// inside the section, no two blobs overlapping.
func validateLayout(tensors []TensorMeta, dataSize int64) error {
	seen := make(map[string]struct{}, len(tensors))
	for _, meta := range tensors {
		if meta.Name == "" {
			return &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
		}
		if _, dup := seen[meta.Name]; dup {
			return &ValidationError{Err: ErrInvalidTensorName, Tensor: meta.Name, Details: "duplicate name"}
		}
		seen[meta.Name] = struct{}{}

		if meta.Offset < 0 || meta.Size < 0 {
			return &ValidationError{
				Err: ErrNegativeOffset, Tensor: meta.Name,
				Details: fmt.Sprintf("offset %d, size %d", meta.Offset, meta.Size),
			}
		}
		if meta.Offset+meta.Size > dataSize {
			return &ValidationError{
				Err: ErrOutOfBounds, Tensor: meta.Name,
				Details: fmt.Sprintf("[%d, %d) beyond data section of %d bytes", meta.Offset, meta.Offset+meta.Size, dataSize),
			}
		}
	}

	// Sort by offset and check adjacency.
	order := make([]int, len(tensors))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return tensors[order[a]].Offset < tensors[order[b]].Offset
	})
	for i := 1; i < len(order); i++ {
		prev, cur := tensors[order[i-1]], tensors[order[i]]
		if prev.Offset+prev.Size > cur.Offset {
			return &ValidationError{
				Err: ErrOffsetOverlap, Tensor: prev.Name, Tensor2: cur.Name,
				Details: fmt.Sprintf("[%d, %d) overlaps offset %d", prev.Offset, prev.Offset+prev.Size, cur.Offset),
			}
		}
	}
	return nil
}

package nn

import (
	"fmt"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// Embedding is a lookup table mapping discrete indices to dense vectors.
// For bytesplit the table is always 256×D: one row per byte value.
type Embedding[B tensor.Backend] struct {
	Weight   *Parameter[B] // [NumEmbed, EmbedDim]
	NumEmbed int
	EmbedDim int

	lastIndices *tensor.Tensor[int32, B] // cached for Backward
}

// NewEmbedding creates an Embedding layer with weights drawn from N(0, 1).
func NewEmbedding[B tensor.Backend](numEmbeddings, embeddingDim int, backend B) *Embedding[B] {
	weight := tensor.Randn[B](tensor.Shape{numEmbeddings, embeddingDim}, backend)
	return &Embedding[B]{
		Weight:   NewParameter[B]("embedding.weight", weight),
		NumEmbed: numEmbeddings,
		EmbedDim: embeddingDim,
	}
}

// Forward performs the embedding lookup.
//
// indices: [batch, length] int32, each in [0, NumEmbed).
// Returns [batch, length, EmbedDim]. The index tensor is retained for
// the scatter-add in Backward.
func (e *Embedding[B]) Forward(indices *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	e.lastIndices = indices
	return e.Weight.Tensor().Embedding(indices)
}

// Backward scatter-adds the output gradient into the weight gradient.
// gradOut: [batch, length, EmbedDim], matching the last Forward call.
// The embedding is the first layer, so no input gradient is produced.
func (e *Embedding[B]) Backward(gradOut *tensor.Tensor[float32, B]) {
	if e.lastIndices == nil {
		panic("embedding: Backward called before Forward")
	}

	gw := e.Weight.GradData()
	if gw == nil {
		return
	}

	idx := e.lastIndices.Data()
	g := gradOut.Data()
	if len(g) != len(idx)*e.EmbedDim {
		panic(fmt.Sprintf("embedding: gradient has %d elements, expected %d", len(g), len(idx)*e.EmbedDim))
	}

	for i, row := range idx {
		dst := gw[int(row)*e.EmbedDim : (int(row)+1)*e.EmbedDim]
		src := g[i*e.EmbedDim : (i+1)*e.EmbedDim]
		for j := range dst {
			dst[j] += src[j]
		}
	}
}

// Parameters returns the trainable parameters.
func (e *Embedding[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{e.Weight}
}

// StateDict returns a map of parameter names to raw tensors.
func (e *Embedding[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		e.Weight.Name(): e.Weight.Tensor().Raw(),
	}
}

// LoadStateDict loads parameters from a state dictionary.
func (e *Embedding[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return loadInto(stateDict, e.Weight)
}

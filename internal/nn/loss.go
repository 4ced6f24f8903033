package nn

import (
	"fmt"
	"math"

	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

// BCEWithLogitsLoss is binary cross-entropy fused with the sigmoid,
// computed in the numerically stable log-sum-exp form. It supports a
// positive-class weight applied to the y=1 term and a per-channel weight
// over the trailing axis; the result is the mean over all elements.
type BCEWithLogitsLoss[B tensor.Backend] struct {
	// PosWeight scales the loss contribution of positive targets.
	PosWeight float32
	// ChannelWeights, when non-nil, scales each trailing-axis channel.
	// Its length must match the logits' last dimension.
	ChannelWeights []float32

	backend B
	logits  []float32
	targets []float32
	shape   tensor.Shape
}

// NewBCEWithLogitsLoss creates the loss with posWeight applied to
// positive targets and optional per-channel weights.
func NewBCEWithLogitsLoss[B tensor.Backend](posWeight float32, channelWeights []float32, backend B) *BCEWithLogitsLoss[B] {
	return &BCEWithLogitsLoss[B]{
		PosWeight:      posWeight,
		ChannelWeights: channelWeights,
		backend:        backend,
	}
}

// Forward computes the mean weighted loss over all elements. Logits and
// targets must have identical shapes, with channels on the last axis.
func (l *BCEWithLogitsLoss[B]) Forward(logits, targets *tensor.Tensor[float32, B]) float32 {
	if !logits.Shape().Equal(targets.Shape()) {
		panic(fmt.Sprintf("bce: logits %v and targets %v differ in shape", logits.Shape(), targets.Shape()))
	}
	shape := logits.Shape()
	nc := shape[len(shape)-1]
	if l.ChannelWeights != nil && len(l.ChannelWeights) != nc {
		panic(fmt.Sprintf("bce: %d channel weights for %d channels", len(l.ChannelWeights), nc))
	}

	z := logits.Data()
	y := targets.Data()
	l.logits = z
	l.targets = y
	l.shape = shape

	var total float64
	for i := range z {
		zf := float64(z[i])
		yf := float64(y[i])

		// max(z,0) - z*y_eff + log(1+exp(-|z|)) with the positive term
		// scaled by PosWeight:
		//   loss = (1-y)*z + (1 + (pw-1)*y) * softplus(-z)
		pw := 1 + (float64(l.PosWeight)-1)*yf
		loss := (1-yf)*zf + pw*softplus(-zf)

		if l.ChannelWeights != nil {
			loss *= float64(l.ChannelWeights[i%nc])
		}
		total += loss
	}
	return float32(total / float64(len(z)))
}

// Backward returns the gradient of the mean loss with respect to the
// logits.
func (l *BCEWithLogitsLoss[B]) Backward() *tensor.Tensor[float32, B] {
	if l.logits == nil {
		panic("bce: Backward called before Forward")
	}
	nc := l.shape[len(l.shape)-1]
	n := float32(len(l.logits))

	grad := tensor.Zeros[float32, B](l.shape, l.backend)
	g := grad.Data()
	for i := range l.logits {
		s := sigmoidf(l.logits[i])
		y := l.targets[i]

		// d/dz [(1-y)z + (1+(pw-1)y) softplus(-z)]
		//   = (1-y) - (1+(pw-1)y) * sigmoid(-z)
		//   = pw*y*(s-1) + (1-y)*s
		d := l.PosWeight*y*(s-1) + (1-y)*s
		if l.ChannelWeights != nil {
			d *= l.ChannelWeights[i%nc]
		}
		g[i] = d / n
	}
	return grad
}

func softplus(x float64) float64 {
	// Stable for large |x|.
	if x > 30 {
		return x
	}
	if x < -30 {
		return math.Exp(x)
	}
	return math.Log1p(math.Exp(x))
}

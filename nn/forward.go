package nn

import (
	"time"
)

// ForwardCPU executes the network on CPU and returns the output along with
// the elapsed time.
//
// The training flag only matters for shift batch normalization layers: when
// true they normalize with fresh batch statistics and fold those into their
// running state, when false they read the stored statistics without side
// effects. Dense layers ignore the flag.
func (n *Network) ForwardCPU(input []float32, training bool) ([]float32, time.Duration) {
	start := time.Now()

	data := make([]float32, len(input))
	copy(data, input)

	for i := range n.Layers {
		config := &n.Layers[i]

		switch config.Type {
		case LayerShiftBatchNorm:
			data = shiftBatchNormForwardCPU(data, config, n.BatchSize, training)
		default:
			data = denseForwardCPU(data, config, n.BatchSize)
		}
	}

	return data, time.Since(start)
}

// Infer runs a deterministic forward pass on CPU
func (n *Network) Infer(input []float32) []float32 {
	output, _ := n.ForwardCPU(input, false)
	return output
}

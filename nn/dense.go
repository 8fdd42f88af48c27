package nn

import (
	"math"
	"math/rand"
)

// InitDenseLayer initializes a dense (fully-connected) layer
func InitDenseLayer(inputSize, outputSize int, activation ActivationType) LayerConfig {
	// He initialization for weights
	stddev := float32(math.Sqrt(2.0 / float64(inputSize)))

	weights := make([]float32, inputSize*outputSize)
	for i := range weights {
		weights[i] = float32(rand.NormFloat64()) * stddev
	}

	// Biases initialized to zero
	bias := make([]float32, outputSize)

	return LayerConfig{
		Type:       LayerDense,
		Activation: activation,
		InputSize:  inputSize,
		OutputSize: outputSize,
		Kernel:     weights,
		Bias:       bias,
	}
}

// DenseForward performs a dense forward pass for any numeric type.
// A nil bias is skipped, which is how a layer behaves once a stacked
// normalization layer has absorbed its offset.
func DenseForward[T Numeric](input, weights, bias *Tensor[T], inputSize, outputSize, batchSize int, activation ActivationType) (*Tensor[T], *Tensor[T]) {
	preAct := NewTensor[T](batchSize * outputSize)
	postAct := NewTensor[T](batchSize * outputSize)

	for b := 0; b < batchSize; b++ {
		for o := 0; o < outputSize; o++ {
			var sum float64
			for i := 0; i < inputSize; i++ {
				sum += float64(input.Data[b*inputSize+i]) * float64(weights.Data[i*outputSize+o])
			}
			if bias != nil && o < len(bias.Data) {
				sum += float64(bias.Data[o])
			}

			outIdx := b*outputSize + o
			preAct.Data[outIdx] = T(sum)
			postAct.Data[outIdx] = Activate(T(sum), activation)
		}
	}

	return preAct, postAct
}

// denseForwardCPU performs the dense forward pass for a LayerConfig
// input: [batchSize * inputSize]
// output: [batchSize * outputSize]
func denseForwardCPU(input []float32, config *LayerConfig, batchSize int) []float32 {
	inputT := NewTensorFromSlice(input, batchSize, config.InputSize)
	weightsT := NewTensorFromSlice(config.Kernel, config.InputSize, config.OutputSize)
	var biasT *Tensor[float32]
	if len(config.Bias) > 0 {
		biasT = NewTensorFromSlice(config.Bias, config.OutputSize)
	}

	_, postAct := DenseForward(inputT, weightsT, biasT, config.InputSize, config.OutputSize, batchSize, config.Activation)
	return postAct.Data
}

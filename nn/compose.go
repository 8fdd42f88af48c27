package nn

import (
	"fmt"
)

// AppendShiftBatchNorm rewires a layer to feed a shift batch normalization
// stage and returns the normalization layer to stack after it.
//
// The wrapped layer's nonlinearity moves onto the returned layer, so the
// normalization sits between the linear transform and the activation. The
// wrapped layer's bias is removed as well: the mean subtraction makes a
// per-feature offset redundant. The normalization input shape is inferred
// from the wrapped layer's output geometry, with the batch axis left open.
//
// Zero epsilon and alpha select the defaults 1e-5 and 0.125. The returned
// LayerConfig is appended to the network directly after the wrapped layer:
//
//	dense := nn.InitDenseLayer(8, 4, nn.ActivationReLU)
//	norm, err := nn.AppendShiftBatchNorm(&dense, 0, 0)
//	network.Add(dense)
//	network.Add(norm)
func AppendShiftBatchNorm(layer *LayerConfig, epsilon, alpha float32) (LayerConfig, error) {
	var inputShape []int
	switch layer.Type {
	case LayerDense:
		if layer.OutputSize <= 0 {
			return LayerConfig{}, fmt.Errorf("shift batchnorm: dense layer has no output size")
		}
		inputShape = []int{-1, layer.OutputSize}
	default:
		return LayerConfig{}, fmt.Errorf("shift batchnorm: layer type %d has no known output shape", layer.Type)
	}

	norm, err := InitShiftBatchNormLayer(inputShape, nil, epsilon, alpha, layer.Activation)
	if err != nil {
		return LayerConfig{}, err
	}

	layer.Activation = ActivationIdentity
	layer.Bias = nil

	return norm, nil
}

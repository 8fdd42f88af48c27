package nn

import (
	"math"
)

// Activate applies the activation function for any numeric type
func Activate[T Numeric](v T, activation ActivationType) T {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationLeakyReLU:
		if v < 0 {
			return T(float64(v) * 0.1)
		}
		return v
	case ActivationSigmoid:
		return T(1.0 / (1.0 + math.Exp(-float64(v))))
	case ActivationTanh:
		return T(math.Tanh(float64(v)))
	case ActivationSoftplus:
		return T(math.Log(1.0 + math.Exp(float64(v))))
	default:
		return v
	}
}

// activateCPU applies the activation function to a float32 value
func activateCPU(v float32, activation ActivationType) float32 {
	return Activate(v, activation)
}

// activationGPUCode maps an activation to the code the GPU kernels bake
// into their shaders. The mapping mirrors the gpu package's Act constants.
func activationGPUCode(a ActivationType) int {
	return int(a)
}

package nn

import (
	"fmt"
	"math"
)

// =============================================================================
// Generic Shift Batch Normalization Implementation
// =============================================================================

// roundPow2 snaps a positive value to its nearest power of two in log space
func roundPow2(v float64) float64 {
	return math.Exp2(math.Round(math.Log2(v)))
}

// ShiftBatchStats estimates the batch statistics for shift-based
// normalization: the mean over the reduction axes and a power-of-two
// reciprocal standard deviation. Both outputs have the input's shape with
// the reduced axes collapsed to 1.
//
// The reciprocal std is quantized twice. Each centered value is snapped to
// its nearest power of two before entering the variance surrogate
//
//	surrogate = mean(|x - mean| * 2^round(log2|x - mean|))
//
// and the reciprocal root of the surrogate is snapped again
//
//	std = 2^round(log2(1 / sqrt(surrogate + epsilon)))
//
// Positions where x == mean contribute exactly zero to the surrogate, so a
// constant slice yields std = 2^round(log2(1/sqrt(epsilon))) rather than an
// infinity.
func ShiftBatchStats[T Numeric](input *Tensor[T], axes []int, epsilon float64) (*Tensor[T], *Tensor[T]) {
	if epsilon == 0 {
		epsilon = 1e-5
	}

	shape := input.Shape
	rank := len(shape)
	if len(axes) == 0 {
		axes, _ = normalizeAxes(nil, rank)
	}
	reduced := axisMask(axes, rank)
	outShape := statShape(shape, axes)
	inStrides := computeStrides(shape)
	outStrides := computeStrides(outShape)

	mean := NewTensor[T](outShape...)
	std := NewTensor[T](outShape...)

	count := 1
	for _, a := range axes {
		count *= shape[a]
	}
	if count < 1 {
		count = 1
	}

	// First pass: mean per statistics cell
	means := make([]float64, mean.Size())
	for i := 0; i < input.Size(); i++ {
		j := 0
		for a := 0; a < rank; a++ {
			if !reduced[a] {
				j += ((i / inStrides[a]) % shape[a]) * outStrides[a]
			}
		}
		means[j] += float64(input.Data[i])
	}
	for j := range means {
		means[j] /= float64(count)
	}

	// Second pass: variance surrogate from power-of-two rounded magnitudes
	surrogate := make([]float64, mean.Size())
	for i := 0; i < input.Size(); i++ {
		j := 0
		for a := 0; a < rank; a++ {
			if !reduced[a] {
				j += ((i / inStrides[a]) % shape[a]) * outStrides[a]
			}
		}
		c := float64(input.Data[i]) - means[j]
		mag := math.Abs(c)
		clog2 := 0.0
		if c != 0 {
			clog2 = math.Log2(mag)
		}
		surrogate[j] += mag * math.Exp2(math.Round(clog2))
	}

	for j := range surrogate {
		raw := 1.0 / math.Sqrt(surrogate[j]/float64(count)+epsilon)
		mean.Data[j] = T(means[j])
		std.Data[j] = T(roundPow2(raw))
	}

	return mean, std
}

// ShiftBatchNormForward normalizes the input with either batch or running
// statistics and applies the activation.
//
// In training mode the output is computed from freshly estimated batch
// statistics, and after the output is complete the running statistics are
// folded toward the batch values in place, exactly once:
//
//	running = (1 - alpha) * running + alpha * batch
//
// In inference mode the stored statistics are read without mutation, so
// repeated calls produce identical outputs.
//
// runningMean and runningStd must have the input's shape with the reduced
// axes collapsed to 1. The std tensors hold reciprocal values, so
// normalization multiplies: output = activation((input - mean) * std).
func ShiftBatchNormForward[T Numeric](input, runningMean, runningStd *Tensor[T], axes []int, epsilon, alpha float64, activation ActivationType, training bool) *Tensor[T] {
	if epsilon == 0 {
		epsilon = 1e-5
	}
	if alpha == 0 {
		alpha = 0.125
	}

	shape := input.Shape
	rank := len(shape)
	if len(axes) == 0 {
		axes, _ = normalizeAxes(nil, rank)
	}
	reduced := axisMask(axes, rank)
	inStrides := computeStrides(shape)

	mean, std := runningMean, runningStd
	if training {
		mean, std = ShiftBatchStats(input, axes, epsilon)
	}
	outStrides := computeStrides(mean.Shape)

	output := NewTensor[T](shape...)
	for i := 0; i < input.Size(); i++ {
		j := 0
		for a := 0; a < rank; a++ {
			if !reduced[a] {
				j += ((i / inStrides[a]) % shape[a]) * outStrides[a]
			}
		}
		normalized := (float64(input.Data[i]) - float64(mean.Data[j])) * float64(std.Data[j])
		output.Data[i] = Activate(T(normalized), activation)
	}

	if training {
		for j := range runningMean.Data {
			runningMean.Data[j] = T((1-alpha)*float64(runningMean.Data[j]) + alpha*float64(mean.Data[j]))
			runningStd.Data[j] = T((1-alpha)*float64(runningStd.Data[j]) + alpha*float64(std.Data[j]))
		}
	}

	return output
}

// InitShiftBatchNormLayer initializes a shift batch normalization layer.
//
// A nil axes list selects the default reduction: every axis except axis 1.
// Zero epsilon and alpha select the defaults 1e-5 and 0.125. Dimensions in
// inputShape may be -1 where the size varies at runtime, but only on
// reduced axes: the layer needs a known size for every axis it keeps
// statistics over, and construction fails otherwise. The running mean
// starts at 0 and the running reciprocal std at 1.
func InitShiftBatchNormLayer(inputShape []int, axes []int, epsilon, alpha float32, activation ActivationType) (LayerConfig, error) {
	normAxes, err := normalizeAxes(axes, len(inputShape))
	if err != nil {
		return LayerConfig{}, fmt.Errorf("shift batchnorm: %w", err)
	}

	if epsilon == 0 {
		epsilon = 1e-5
	}
	if alpha == 0 {
		alpha = 0.125
	}
	if epsilon < 0 {
		return LayerConfig{}, fmt.Errorf("shift batchnorm: epsilon must be positive, got %g", epsilon)
	}
	if alpha < 0 || alpha > 1 {
		return LayerConfig{}, fmt.Errorf("shift batchnorm: alpha must be in (0, 1], got %g", alpha)
	}

	reduced := axisMask(normAxes, len(inputShape))
	for a, size := range inputShape {
		if !reduced[a] && size <= 0 {
			return LayerConfig{}, fmt.Errorf("shift batchnorm: axis %d is kept but has no known size in input shape %v", a, inputShape)
		}
	}

	stateShape := statShape(inputShape, normAxes)
	stateSize := 1
	for _, d := range stateShape {
		stateSize *= d
	}

	runningStd := make([]float32, stateSize)
	for i := range runningStd {
		runningStd[i] = 1
	}

	return LayerConfig{
		Type:        LayerShiftBatchNorm,
		Activation:  activation,
		InputShape:  append([]int{}, inputShape...),
		Axes:        normAxes,
		Epsilon:     epsilon,
		Alpha:       alpha,
		RunningMean: make([]float32, stateSize),
		RunningStd:  runningStd,
		StateShape:  stateShape,
	}, nil
}

// =============================================================================
// Float32 LayerConfig functions
// =============================================================================

// ShiftBatchNormForwardCPU runs the layer on CPU (exported version)
func ShiftBatchNormForwardCPU(input []float32, config *LayerConfig, batchSize int, training bool) []float32 {
	return shiftBatchNormForwardCPU(input, config, batchSize, training)
}

// shiftBatchNormForwardCPU runs the layer against its LayerConfig state.
// In training mode the config's running statistics are updated in place.
func shiftBatchNormForwardCPU(input []float32, config *LayerConfig, batchSize int, training bool) []float32 {
	shape := resolveInputShape(config.InputShape, batchSize, len(input))

	inputT := NewTensorFromSlice(input, shape...)
	meanT := NewTensorFromSlice(config.RunningMean, config.StateShape...)
	stdT := NewTensorFromSlice(config.RunningStd, config.StateShape...)

	result := ShiftBatchNormForward(inputT, meanT, stdT, config.Axes,
		float64(config.Epsilon), float64(config.Alpha), config.Activation, training)

	if training {
		copy(config.RunningMean, meanT.Data)
		copy(config.RunningStd, stdT.Data)
	}

	return result.Data
}

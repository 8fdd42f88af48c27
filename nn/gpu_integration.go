package nn

import (
	"fmt"
	"time"

	"github.com/openfluke/shiftnorm/gpu"
)

// gpuNormSpec maps a normalization layer onto the GPU kernel geometry.
// The kernels are compiled for the canonical [batch, features, inner...]
// layout, so the layer must keep statistics over exactly axis 1 and every
// trailing axis needs a known size. Layers with other reductions stay on
// the CPU path.
func gpuNormSpec(config *LayerConfig, batchSize int) (gpu.ShiftBatchNormSpec, error) {
	rank := len(config.InputShape)
	if rank < 2 {
		return gpu.ShiftBatchNormSpec{}, fmt.Errorf("GPU path needs at least rank 2, got shape %v", config.InputShape)
	}

	reduced := axisMask(config.Axes, rank)
	for a := 0; a < rank; a++ {
		if (a == 1) == reduced[a] {
			return gpu.ShiftBatchNormSpec{}, fmt.Errorf("GPU path supports per-feature statistics on axis 1 only, got axes %v", config.Axes)
		}
	}

	inner := 1
	for a := 2; a < rank; a++ {
		if config.InputShape[a] <= 0 {
			return gpu.ShiftBatchNormSpec{}, fmt.Errorf("GPU path needs a known size on axis %d, got shape %v", a, config.InputShape)
		}
		inner *= config.InputShape[a]
	}

	batch := config.InputShape[0]
	if batch <= 0 {
		batch = batchSize
	}

	return gpu.ShiftBatchNormSpec{
		Features:   config.InputShape[1],
		Inner:      inner,
		BatchSize:  batch,
		Epsilon:    config.Epsilon,
		Alpha:      config.Alpha,
		Activation: activationGPUCode(config.Activation),
		// Shared with the layer state on purpose: training passes update
		// the running statistics for both views at once.
		Mean: config.RunningMean,
		Std:  config.RunningStd,
	}, nil
}

// mountGPU builds GPU layers for every normalization layer in the network
func (n *Network) mountGPU() error {
	if n.gpuMounted {
		return nil
	}

	if gpu.Debug {
		gpu.Log("mounting %d layers", len(n.Layers))
	}

	if err := gpu.EnsureGPU(); err != nil {
		return err
	}

	layers := make(map[int]*gpu.ShiftBatchNormLayer)
	for i := range n.Layers {
		config := &n.Layers[i]
		if config.Type != LayerShiftBatchNorm {
			continue
		}

		spec, err := gpuNormSpec(config, n.BatchSize)
		if err != nil {
			n.releaseLayers(layers)
			return fmt.Errorf("layer %d: %w", i, err)
		}

		layer := &gpu.ShiftBatchNormLayer{Spec: spec}
		if err := layer.Build(fmt.Sprintf("ShiftNorm%d", i)); err != nil {
			n.releaseLayers(layers)
			return fmt.Errorf("layer %d: %w", i, err)
		}
		layers[i] = layer

		if gpu.Debug {
			gpu.Log("layer %d mounted: features=%d inner=%d batch=%d",
				i, spec.Features, spec.Inner, spec.BatchSize)
		}
	}

	n.gpuLayers = layers
	n.gpuMounted = true
	return nil
}

// ForwardGPU executes the network with normalization layers on the GPU.
// Dense layers run on the CPU between the GPU passes. The training flag
// behaves exactly as in ForwardCPU: batch statistics are estimated on the
// GPU, read back and folded into the running statistics once per call.
func (n *Network) ForwardGPU(input []float32, training bool) ([]float32, time.Duration, error) {
	start := time.Now()

	if err := n.mountGPU(); err != nil {
		return nil, 0, err
	}

	ctx, err := gpu.GetContext()
	if err != nil {
		return nil, 0, err
	}

	data := make([]float32, len(input))
	copy(data, input)

	for i := range n.Layers {
		config := &n.Layers[i]

		switch config.Type {
		case LayerShiftBatchNorm:
			layer := n.gpuLayers[i]
			// Running statistics may have moved on the CPU side since the
			// last pass, refresh the GPU copy before reading it.
			layer.UploadStats(ctx)
			data, err = layer.Forward(data, training)
			if err != nil {
				return nil, 0, fmt.Errorf("layer %d: %w", i, err)
			}
		default:
			data = denseForwardCPU(data, config, n.BatchSize)
		}
	}

	return data, time.Since(start), nil
}

func (n *Network) releaseLayers(layers map[int]*gpu.ShiftBatchNormLayer) {
	for _, layer := range layers {
		layer.Cleanup()
	}
}

// ReleaseGPU frees all GPU resources held by the network
func (n *Network) ReleaseGPU() {
	if n.gpuLayers != nil {
		n.releaseLayers(n.gpuLayers)
		n.gpuLayers = nil
	}
	n.gpuMounted = false
}

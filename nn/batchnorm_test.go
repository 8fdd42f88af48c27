package nn

import (
	"math"
	"testing"
)

// classicBatch is a 4x3 batch where column 0 carries all the variance:
// values [1 1 1 5] around mean 2, while columns 1 and 2 are constant.
func classicBatch() *Tensor[float32] {
	return NewTensorFromSlice([]float32{
		1, 2, 3,
		1, 2, 3,
		1, 2, 3,
		5, 2, 3,
	}, 4, 3)
}

// TestRoundPow2Bounds verifies the power-of-two reconstruction stays within
// a half binary order of magnitude of the original value
func TestRoundPow2Bounds(t *testing.T) {
	values := []float64{1e-6, 0.015625, 0.1, 0.3, 0.5, 0.7, 1.0, 1.5, 2.9, 3.0, 5.5, 100.3, 4096, 1e9}

	lo := 1 / math.Sqrt2
	hi := math.Sqrt2

	for _, v := range values {
		p := roundPow2(v)

		exp := math.Log2(p)
		if exp != math.Round(exp) {
			t.Errorf("roundPow2(%g) = %g is not a power of two", v, p)
		}

		ratio := p / v
		if ratio < lo-1e-12 || ratio > hi+1e-12 {
			t.Errorf("roundPow2(%g) = %g: ratio %g outside [2^-0.5, 2^0.5]", v, p, ratio)
		}
	}
}

// TestShiftBatchStatsHandComputed verifies the estimator on the classic
// batch. Column 0: surrogate (1+1+1+12)/4 = 3.75, reciprocal root 0.5164
// quantized to 0.5. Constant columns: surrogate 0, 1/sqrt(1e-5) = 316.23
// quantized to 256.
func TestShiftBatchStatsHandComputed(t *testing.T) {
	mean, std := ShiftBatchStats(classicBatch(), []int{0}, 1e-5)

	if len(mean.Shape) != 2 || mean.Shape[0] != 1 || mean.Shape[1] != 3 {
		t.Fatalf("Expected stats shape [1, 3], got %v", mean.Shape)
	}

	expectedMean := []float32{2, 2, 3}
	expectedStd := []float32{0.5, 256, 256}

	for i := 0; i < 3; i++ {
		if math.Abs(float64(mean.Data[i]-expectedMean[i])) > 1e-4 {
			t.Errorf("mean[%d]: expected %g, got %g", i, expectedMean[i], mean.Data[i])
		}
		if math.Abs(float64(std.Data[i]-expectedStd[i])) > 1e-4 {
			t.Errorf("std[%d]: expected %g, got %g", i, expectedStd[i], std.Data[i])
		}
	}
}

// TestShiftBatchStatsMultiAxis verifies the reduction geometry over
// non-adjacent axes on a [2, 2, 2] input with per-channel statistics
func TestShiftBatchStatsMultiAxis(t *testing.T) {
	input := NewTensorFromSlice([]float32{
		1, 3,
		2, 6,
		5, 7,
		4, 8,
	}, 2, 2, 2)

	mean, std := ShiftBatchStats(input, []int{0, 2}, 1e-5)

	if len(mean.Shape) != 3 || mean.Shape[0] != 1 || mean.Shape[1] != 2 || mean.Shape[2] != 1 {
		t.Fatalf("Expected stats shape [1, 2, 1], got %v", mean.Shape)
	}

	// Channel 0 holds [1 3 5 7], channel 1 holds [2 6 4 8]. Both have
	// centered magnitudes [3 1 1 3], surrogate (12+1+1+12)/4 = 6.5 and
	// quantized reciprocal std 0.5.
	expectedMean := []float32{4, 5}
	for i := 0; i < 2; i++ {
		if math.Abs(float64(mean.Data[i]-expectedMean[i])) > 1e-4 {
			t.Errorf("mean[%d]: expected %g, got %g", i, expectedMean[i], mean.Data[i])
		}
		if math.Abs(float64(std.Data[i]-0.5)) > 1e-4 {
			t.Errorf("std[%d]: expected 0.5, got %g", i, std.Data[i])
		}
	}
}

// TestShiftBatchStatsConstantInput verifies zero-centered positions
// contribute nothing and the statistics stay finite
func TestShiftBatchStatsConstantInput(t *testing.T) {
	input := NewTensorFromSlice([]float32{7, 7, 7, 7, 7, 7}, 3, 2)

	mean, std := ShiftBatchStats(input, []int{0}, 1e-5)

	for i := range mean.Data {
		if mean.Data[i] != 7 {
			t.Errorf("mean[%d]: expected 7, got %g", i, mean.Data[i])
		}
		if math.Abs(float64(std.Data[i]-256)) > 1e-4 {
			t.Errorf("std[%d]: expected 256, got %g", i, std.Data[i])
		}
	}

	if !AllFinite(mean.Data) || !AllFinite(std.Data) {
		t.Error("statistics of a constant input must stay finite")
	}
}

// TestForwardTrainingOutput verifies the training-mode output is computed
// from the batch statistics, not from the running state
func TestForwardTrainingOutput(t *testing.T) {
	// Deliberately skewed running state: it must not influence the output
	runningMean := NewTensorFromSlice([]float32{100, 100, 100}, 1, 3)
	runningStd := NewTensorFromSlice([]float32{64, 64, 64}, 1, 3)

	output := ShiftBatchNormForward(classicBatch(), runningMean, runningStd,
		[]int{0}, 1e-5, 0.125, ActivationIdentity, true)

	expected := []float32{
		-0.5, 0, 0,
		-0.5, 0, 0,
		-0.5, 0, 0,
		1.5, 0, 0,
	}
	for i := range expected {
		if math.Abs(float64(output.Data[i]-expected[i])) > 1e-4 {
			t.Errorf("output[%d]: expected %g, got %g", i, expected[i], output.Data[i])
		}
	}
}

// TestForwardTrainingEMA verifies one training pass folds the batch
// statistics into the running state with alpha = 0.125, exactly once
func TestForwardTrainingEMA(t *testing.T) {
	runningMean := NewTensorFromSlice([]float32{1, 2, 3}, 1, 3)
	runningStd := NewTensorFromSlice([]float32{2, 4, 8}, 1, 3)

	ShiftBatchNormForward(classicBatch(), runningMean, runningStd,
		[]int{0}, 1e-5, 0.125, ActivationIdentity, true)

	// Batch stats: mean [2 2 3], std [0.5 256 256]
	expectedMean := []float32{
		0.875*1 + 0.125*2, // 1.125
		0.875*2 + 0.125*2, // 2.0
		0.875*3 + 0.125*3, // 3.0
	}
	expectedStd := []float32{
		0.875*2 + 0.125*0.5, // 1.8125
		0.875*4 + 0.125*256, // 35.5
		0.875*8 + 0.125*256, // 39.0
	}

	for i := 0; i < 3; i++ {
		if math.Abs(float64(runningMean.Data[i]-expectedMean[i])) > 1e-4 {
			t.Errorf("running mean[%d]: expected %g, got %g", i, expectedMean[i], runningMean.Data[i])
		}
		if math.Abs(float64(runningStd.Data[i]-expectedStd[i])) > 1e-4 {
			t.Errorf("running std[%d]: expected %g, got %g", i, expectedStd[i], runningStd.Data[i])
		}
	}
}

// TestForwardInferenceIdempotent verifies deterministic forwards read the
// running state without mutating it
func TestForwardInferenceIdempotent(t *testing.T) {
	runningMean := NewTensorFromSlice([]float32{1, 2, 3}, 1, 3)
	runningStd := NewTensorFromSlice([]float32{2, 4, 8}, 1, 3)

	first := ShiftBatchNormForward(classicBatch(), runningMean, runningStd,
		[]int{0}, 1e-5, 0.125, ActivationIdentity, false)
	second := ShiftBatchNormForward(classicBatch(), runningMean, runningStd,
		[]int{0}, 1e-5, 0.125, ActivationIdentity, false)

	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Fatalf("output[%d] changed between inference passes: %g vs %g",
				i, first.Data[i], second.Data[i])
		}
	}

	if runningMean.Data[0] != 1 || runningStd.Data[0] != 2 {
		t.Error("inference must not touch the running statistics")
	}

	// Row [5 2 3] against mean [1 2 3] and reciprocal std [2 4 8]
	if math.Abs(float64(first.Data[9]-8)) > 1e-4 {
		t.Errorf("Expected (5-1)*2 = 8, got %g", first.Data[9])
	}
}

// TestInitShiftBatchNormDefaults verifies the constructor's defaults and
// fresh state
func TestInitShiftBatchNormDefaults(t *testing.T) {
	config, err := InitShiftBatchNormLayer([]int{-1, 10}, nil, 0, 0, ActivationIdentity)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if config.Type != LayerShiftBatchNorm {
		t.Errorf("Expected layer type %d, got %d", LayerShiftBatchNorm, config.Type)
	}
	if len(config.Axes) != 1 || config.Axes[0] != 0 {
		t.Errorf("Expected default axes [0], got %v", config.Axes)
	}
	if config.Epsilon != 1e-5 {
		t.Errorf("Expected default epsilon 1e-5, got %g", config.Epsilon)
	}
	if config.Alpha != 0.125 {
		t.Errorf("Expected default alpha 0.125, got %g", config.Alpha)
	}
	if len(config.StateShape) != 2 || config.StateShape[0] != 1 || config.StateShape[1] != 10 {
		t.Errorf("Expected state shape [1, 10], got %v", config.StateShape)
	}
	if len(config.RunningMean) != 10 || len(config.RunningStd) != 10 {
		t.Fatalf("Expected state length 10, got %d and %d",
			len(config.RunningMean), len(config.RunningStd))
	}
	for i := 0; i < 10; i++ {
		if config.RunningMean[i] != 0 {
			t.Errorf("running mean[%d]: expected 0, got %g", i, config.RunningMean[i])
		}
		if config.RunningStd[i] != 1 {
			t.Errorf("running std[%d]: expected 1, got %g", i, config.RunningStd[i])
		}
	}
}

// TestInitShiftBatchNormDefaultAxes verifies higher-rank inputs reduce over
// everything except the feature axis
func TestInitShiftBatchNormDefaultAxes(t *testing.T) {
	config, err := InitShiftBatchNormLayer([]int{-1, 16, 8, 8}, nil, 0, 0, ActivationIdentity)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	if len(config.Axes) != 3 || config.Axes[0] != 0 || config.Axes[1] != 2 || config.Axes[2] != 3 {
		t.Errorf("Expected default axes [0, 2, 3], got %v", config.Axes)
	}
	if len(config.RunningMean) != 16 {
		t.Errorf("Expected 16 statistics cells, got %d", len(config.RunningMean))
	}
}

// TestInitShiftBatchNormValidation verifies construction fails fast on
// configurations the layer cannot support
func TestInitShiftBatchNormValidation(t *testing.T) {
	// Unknown size on a kept axis
	if _, err := InitShiftBatchNormLayer([]int{-1, -1}, []int{0}, 0, 0, ActivationIdentity); err == nil {
		t.Error("Expected error for unknown size on a kept axis")
	}

	// Known batch axis is fine even when reduced over
	if _, err := InitShiftBatchNormLayer([]int{32, 10}, []int{0}, 0, 0, ActivationIdentity); err != nil {
		t.Errorf("Unexpected error for fully known shape: %v", err)
	}

	// Axis out of range
	if _, err := InitShiftBatchNormLayer([]int{4, 3}, []int{7}, 0, 0, ActivationIdentity); err == nil {
		t.Error("Expected error for out-of-range axis")
	}

	// Invalid epsilon and alpha
	if _, err := InitShiftBatchNormLayer([]int{-1, 3}, nil, -1, 0, ActivationIdentity); err == nil {
		t.Error("Expected error for negative epsilon")
	}
	if _, err := InitShiftBatchNormLayer([]int{-1, 3}, nil, 0, 2, ActivationIdentity); err == nil {
		t.Error("Expected error for alpha above 1")
	}

	// Empty shape
	if _, err := InitShiftBatchNormLayer(nil, nil, 0, 0, ActivationIdentity); err == nil {
		t.Error("Expected error for empty input shape")
	}

	// Duplicate and unordered axes are canonicalized, not rejected
	config, err := InitShiftBatchNormLayer([]int{4, 3, 2}, []int{2, 0, 2}, 0, 0, ActivationIdentity)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if len(config.Axes) != 2 || config.Axes[0] != 0 || config.Axes[1] != 2 {
		t.Errorf("Expected canonical axes [0, 2], got %v", config.Axes)
	}
}

// TestShiftBatchNormLayerEndToEnd runs the full LayerConfig path: training
// pass with statistics update, then inference from the stored state
func TestShiftBatchNormLayerEndToEnd(t *testing.T) {
	config, err := InitShiftBatchNormLayer([]int{-1, 3}, nil, 0, 0, ActivationIdentity)
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	input := classicBatch().Data

	output := shiftBatchNormForwardCPU(input, &config, 4, true)

	expected := []float32{
		-0.5, 0, 0,
		-0.5, 0, 0,
		-0.5, 0, 0,
		1.5, 0, 0,
	}
	for i := range expected {
		if math.Abs(float64(output[i]-expected[i])) > 1e-4 {
			t.Errorf("output[%d]: expected %g, got %g", i, expected[i], output[i])
		}
	}
	if !AllFinite(output) {
		t.Error("training output must stay finite")
	}

	// One EMA step from the fresh state mean 0, std 1
	expectedMean := []float32{0.25, 0.25, 0.375}
	expectedStd := []float32{0.9375, 32.875, 32.875}
	for i := 0; i < 3; i++ {
		if math.Abs(float64(config.RunningMean[i]-expectedMean[i])) > 1e-4 {
			t.Errorf("running mean[%d]: expected %g, got %g", i, expectedMean[i], config.RunningMean[i])
		}
		if math.Abs(float64(config.RunningStd[i]-expectedStd[i])) > 1e-4 {
			t.Errorf("running std[%d]: expected %g, got %g", i, expectedStd[i], config.RunningStd[i])
		}
	}

	// Inference uses the updated running state and leaves it alone
	inferred := shiftBatchNormForwardCPU(input, &config, 4, false)
	wantFirst := (1 - 0.25) * 0.9375
	if math.Abs(float64(inferred[0]-float32(wantFirst))) > 1e-4 {
		t.Errorf("inference output[0]: expected %g, got %g", wantFirst, inferred[0])
	}
	if config.RunningMean[0] != 0.25 {
		t.Error("inference must not touch the running statistics")
	}
}

func benchmarkInput(batch, features int) ([]float32, LayerConfig) {
	config, _ := InitShiftBatchNormLayer([]int{-1, features}, nil, 0, 0, ActivationIdentity)
	input := make([]float32, batch*features)
	for i := range input {
		input[i] = float32(i%13) - 6
	}
	return input, config
}

func BenchmarkShiftBatchStats(b *testing.B) {
	input, _ := benchmarkInput(32, 256)
	tensor := NewTensorFromSlice(input, 32, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ShiftBatchStats(tensor, []int{0}, 1e-5)
	}
}

func BenchmarkShiftBatchNormTraining(b *testing.B) {
	input, config := benchmarkInput(32, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		shiftBatchNormForwardCPU(input, &config, 32, true)
	}
}

func BenchmarkShiftBatchNormInference(b *testing.B) {
	input, config := benchmarkInput(32, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		shiftBatchNormForwardCPU(input, &config, 32, false)
	}
}
